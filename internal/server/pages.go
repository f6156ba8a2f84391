package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Shared chrome for the HTML pages. Each page is a self-contained document
// that talks to the JSON API from the browser.

const pageHead = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <link rel="icon" href="data:image/svg+xml,<svg xmlns='http://www.w3.org/2000/svg' viewBox='0 0 100 100'><text y='.9em' font-size='90'>◆</text></svg>">
    <link rel="preconnect" href="https://fonts.googleapis.com">
    <link rel="preconnect" href="https://fonts.gstatic.com" crossorigin>
    <link href="https://fonts.googleapis.com/css2?family=Inter:wght@400;500;600;800&family=JetBrains+Mono:wght@400;500&display=swap" rel="stylesheet">
    <style>
        * { margin: 0; padding: 0; box-sizing: border-box; }
        :root {
            --bg: #0a0a0a; --bg-subtle: #161616; --border: #2a2a2a;
            --text: #f3f4f6; --text-secondary: #9ca3af; --text-tertiary: #52525b;
            --accent: #ff7f50; --accent-strong: #cc4420; --button: #b85542;
            --ok: #22c55e; --err: #ef4444;
        }
        body {
            font-family: 'Inter', -apple-system, sans-serif;
            background: var(--bg); color: var(--text);
            min-height: 100vh; font-size: 14px;
            -webkit-font-smoothing: antialiased;
        }
        .mono { font-family: 'JetBrains Mono', monospace; }
        .container { max-width: 1200px; margin: 0 auto; padding: 0 24px; }
        header { border-bottom: 1px solid var(--border); padding: 16px 0; position: sticky; top: 0; background: var(--bg); z-index: 100; }
        .header-inner { display: flex; justify-content: space-between; align-items: center; }
        .logo { font-weight: 700; font-size: 20px; color: var(--text); text-decoration: none; }
        nav { display: flex; gap: 28px; }
        nav a { color: var(--text-secondary); text-decoration: none; font-size: 13px; transition: color 0.15s; }
        nav a:hover, nav a.active { color: var(--text); }
        .btn { display: inline-block; padding: 10px 20px; border-radius: 8px; border: none; font: inherit; font-weight: 600; cursor: pointer; background: var(--button); color: #fff; text-decoration: none; }
        .btn:hover { background: var(--accent-strong); }
        .btn:disabled { opacity: 0.5; cursor: default; }
        .btn-outline { background: transparent; border: 2px solid var(--accent-strong); color: var(--accent); }
        .btn-outline:hover { background: rgba(204, 68, 32, 0.1); }
        .card { background: var(--bg-subtle); border: 1px solid var(--border); border-radius: 12px; padding: 20px; }
        input, textarea, select { width: 100%; background: var(--bg); border: 1px solid var(--border); color: var(--text); border-radius: 8px; padding: 10px 12px; font: inherit; }
        input:focus, textarea:focus, select:focus { outline: none; border-color: var(--accent-strong); }
        label { display: block; font-size: 12px; color: var(--text-secondary); margin: 12px 0 6px; }
        .muted { color: var(--text-secondary); }
        .ok { color: var(--ok); }
        .err { color: var(--err); }
        .empty { text-align: center; padding: 64px 24px; color: var(--text-tertiary); }
        footer { border-top: 1px solid var(--border); padding: 24px 0; margin-top: 48px; text-align: center; color: var(--text-tertiary); font-size: 13px; }
    </style>
    <script>
        const esc = s => String(s ?? '').replace(/[&<>"']/g, ch => ({'&':'&amp;','<':'&lt;','>':'&gt;','"':'&quot;',"'":'&#39;'}[ch]));
        const cents = c => '$' + ((Number(c) || 0) / 100).toFixed(2);
        const units = u => '$' + ((Number(u) || 0) / 1e6).toFixed(2);
        const shortAddr = a => a && a.length > 10 ? a.slice(0, 6) + '...' + a.slice(-4) : (a || '');
    </script>
`

const pageNav = `
<body>
    <header><div class="container header-inner">
        <a href="/" class="logo">AgentBazaar</a>
        <nav>
            <a href="/marketplace">Marketplace</a>
            <a href="/try">Try x402</a>
            <a href="/api/config">API</a>
        </nav>
    </div></header>
`

const pageFoot = `
    <footer><div class="container">Avalanche Fuji · x402 micropayments in USDC</div></footer>
</body>
</html>`

func servePage(html string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Content-Type", "text/html; charset=utf-8")
		c.String(http.StatusOK, html)
	}
}

var (
	landingPageHandler     = servePage(landingPageHTML)
	marketplacePageHandler = servePage(marketplacePageHTML)
	agentPageHandler       = servePage(agentPageHTML)
	tryPageHandler         = servePage(tryPageHTML)
)
