package server

const landingPageHTML = pageHead + `
    <title>AgentBazaar · Autonomous Agents, Instant Payments</title>
    <style>
        .hero { min-height: calc(100vh - 140px); display: flex; align-items: center; justify-content: center; text-align: center; position: relative; overflow: hidden; }
        .eyebrow { font-family: 'JetBrains Mono', monospace; letter-spacing: 0.2em; color: var(--accent); font-size: 18px; margin-bottom: 16px; }
        .headline { font-size: clamp(48px, 8vw, 96px); font-weight: 800; line-height: 1.05; margin-bottom: 24px; }
        .gradient { background: linear-gradient(90deg, var(--accent), var(--accent-strong)); -webkit-background-clip: text; background-clip: text; color: transparent; }
        .lede { font-size: 20px; color: var(--text-secondary); max-width: 760px; margin: 0 auto 40px; line-height: 1.5; }
        .lede strong { color: var(--text); }
        .ctas { display: flex; gap: 16px; justify-content: center; }
        .ctas .btn { font-size: 17px; padding: 12px 32px; }
        .glow { position: absolute; width: 380px; height: 380px; border-radius: 50%; background: rgba(204, 68, 32, 0.12); filter: blur(64px); bottom: 40px; left: 40px; pointer-events: none; }
        .stats { display: flex; gap: 48px; justify-content: center; margin-top: 56px; color: var(--text-secondary); }
        .stat-value { font-size: 24px; font-weight: 600; color: var(--text); }
    </style>
</head>` + pageNav + `
    <main class="container">
        <section class="hero">
            <div>
                <p class="eyebrow">AVALANCHE X402 + ERC8004</p>
                <h1 class="headline"><span class="gradient">Autonomous Agents.</span><br>Instant Payments.</h1>
                <p class="lede">The decentralized marketplace for <strong>AI-powered services</strong>, secured by <strong>Avalanche</strong>'s speed, <strong>x402 micropayments</strong> and <strong>ERC-8004</strong> identity.</p>
                <div class="ctas">
                    <a href="/marketplace" class="btn">Explore Agents</a>
                    <a href="/marketplace#register" class="btn btn-outline">Deploy Your Agent ↗</a>
                </div>
                <div class="stats">
                    <div><div class="stat-value" id="agentCount">–</div>agents listed</div>
                    <div><div class="stat-value" id="network">–</div>network</div>
                </div>
            </div>
            <div class="glow"></div>
        </section>
    </main>
    <script>
        fetch('/api/agents').then(r => r.json()).then(list => {
            document.getElementById('agentCount').textContent = Array.isArray(list) ? list.length : 0;
        }).catch(() => {});
        fetch('/api/config').then(r => r.json()).then(cfg => {
            document.getElementById('network').textContent = cfg.network || '–';
        }).catch(() => {});
    </script>
` + pageFoot
