package server

const tryPageHTML = pageHead + `
    <title>x402 Payment Demo · AgentBazaar</title>
    <style>
        .intro { text-align: center; padding: 48px 0 32px; }
        .intro h1 { font-size: 36px; margin-bottom: 8px; }
        .tiers { display: grid; grid-template-columns: repeat(auto-fit, minmax(300px, 1fr)); gap: 24px; max-width: 880px; margin: 0 auto; }
        .tier h2 { font-size: 20px; margin-bottom: 4px; }
        .tier .price { font-size: 32px; font-weight: 700; color: var(--accent); margin: 12px 0; }
        .tier .btn { width: 100%; margin-top: 16px; }
        .token { max-width: 880px; margin: 24px auto 0; }
        .panel { max-width: 880px; margin: 24px auto 0; }
        .panel h3 { font-size: 14px; margin-bottom: 12px; color: var(--text-secondary); text-transform: uppercase; letter-spacing: 0.08em; }
        .log { list-style: none; font-family: 'JetBrains Mono', monospace; font-size: 12px; display: grid; gap: 6px; }
        .log li::before { content: '● '; }
        .log .info { color: var(--text-secondary); }
        .log .success { color: var(--ok); }
        .log .error { color: var(--err); }
        .hidden { display: none; }
    </style>
</head>` + pageNav + `
    <main class="container">
        <div class="intro">
            <h1>x402 Payment Demo</h1>
            <p class="muted">Choose a payment tier to unlock content</p>
            <p class="muted" style="font-size: 12px; margin-top: 4px" id="network">Avalanche Fuji Testnet</p>
        </div>
        <div class="tiers">
            <div class="card tier">
                <h2>Basic</h2>
                <p class="muted">Perfect for trying out the payment system</p>
                <div class="price">$0.01</div>
                <button class="btn" data-tier="basic">Pay Now</button>
            </div>
            <div class="card tier">
                <h2>Premium</h2>
                <p class="muted">Full access to all advanced features</p>
                <div class="price">$0.15</div>
                <button class="btn" data-tier="premium">Pay Now</button>
            </div>
        </div>
        <div class="token">
            <label for="paymentToken">X-PAYMENT token (leave empty to see the payment requirements)</label>
            <input id="paymentToken" class="mono" placeholder="base64 payment payload">
        </div>
        <div class="card panel hidden" id="content">
            <h3 id="contentTier"></h3>
            <p id="contentData"></p>
            <p class="muted mono" style="margin-top: 12px; font-size: 12px" id="contentTime"></p>
        </div>
        <div class="card panel hidden" id="logPanel">
            <h3>Transaction log</h3>
            <ul class="log" id="log"></ul>
        </div>
    </main>
    <script>
        const log = document.getElementById('log');

        function addLog(message, type) {
            const li = document.createElement('li');
            li.className = type;
            li.textContent = new Date().toLocaleTimeString() + '  ' + message;
            log.appendChild(li);
            document.getElementById('logPanel').classList.remove('hidden');
        }

        async function pay(tier, btn) {
            log.innerHTML = '';
            document.getElementById('content').classList.add('hidden');
            document.querySelectorAll('[data-tier]').forEach(b => b.disabled = true);
            addLog('Initiating ' + tier + ' payment...', 'info');
            const headers = {};
            const token = document.getElementById('paymentToken').value.trim();
            if (token) headers['X-PAYMENT'] = token;
            try {
                addLog('Requesting payment authorization...', 'info');
                const res = await fetch('/api/' + tier, { headers });
                const body = await res.json().catch(() => ({}));
                if (res.status === 200) {
                    addLog('Payment successful!', 'success');
                    const receipt = res.headers.get('X-PAYMENT-RESPONSE');
                    if (receipt) addLog('Settlement receipt: ' + receipt.slice(0, 48) + '...', 'success');
                    addLog('Content received', 'success');
                    document.getElementById('contentTier').textContent = body.tier + ' tier';
                    document.getElementById('contentData').textContent = body.data;
                    document.getElementById('contentTime').textContent = body.timestamp;
                    document.getElementById('content').classList.remove('hidden');
                } else if (res.status === 402) {
                    const opt = (body.accepts || [])[0];
                    addLog('Payment failed: ' + (body.error || 'Payment required'), 'error');
                    if (opt) addLog('Requires ' + units(opt.amount) + ' USDC on ' + opt.network + ' (asset ' + shortAddr(opt.asset.address) + ')', 'info');
                } else {
                    addLog('Payment failed: ' + (body.error || 'Unknown error') + (body.message ? ' (' + body.message + ')' : ''), 'error');
                }
            } catch (e) {
                addLog('Error: ' + e.message, 'error');
            } finally {
                document.querySelectorAll('[data-tier]').forEach(b => b.disabled = false);
            }
        }

        document.querySelectorAll('[data-tier]').forEach(b => b.onclick = () => pay(b.dataset.tier, b));
        fetch('/api/config').then(r => r.json()).then(cfg => {
            if (cfg.network) document.getElementById('network').textContent = cfg.network + ' · chain ' + cfg.chainId;
        }).catch(() => {});
    </script>
` + pageFoot
