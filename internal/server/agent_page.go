package server

// agentPageHTML is the detail and chat view for /marketplace/:id. The agent
// id is read from the URL path in the browser.
const agentPageHTML = pageHead + `
    <title>Agent · AgentBazaar</title>
    <style>
        .layout { max-width: 880px; margin: 0 auto; padding: 32px 0; }
        .agent-header { border-color: var(--accent-strong); margin-bottom: 24px; }
        .agent-title { display: flex; justify-content: space-between; align-items: center; margin-bottom: 12px; gap: 16px; }
        .agent-title h1 { font-size: 28px; }
        .rating { font-size: 18px; font-weight: 600; }
        .rating .star { color: var(--accent-strong); }
        .stats { display: grid; grid-template-columns: repeat(4, 1fr); gap: 12px; margin-top: 20px; padding-top: 16px; border-top: 1px solid var(--border); }
        .stat-value { font-weight: 600; font-size: 16px; }
        .stat-label { font-size: 11px; color: var(--text-tertiary); }
        .chat { display: flex; flex-direction: column; height: 560px; padding: 0; }
        .messages { flex: 1; overflow-y: auto; padding: 20px; display: flex; flex-direction: column; gap: 12px; }
        .msg { max-width: 80%; padding: 10px 14px; border-radius: 10px; line-height: 1.5; white-space: pre-wrap; word-break: break-word; }
        .msg.user { align-self: flex-end; background: var(--accent-strong); color: #fff; }
        .msg.agent { align-self: flex-start; background: var(--bg); border: 1px solid var(--border); }
        .msg.system { align-self: center; font-size: 12px; color: var(--text-secondary); background: transparent; }
        .composer { border-top: 1px solid var(--border); padding: 16px; display: grid; gap: 10px; }
        .composer-row { display: flex; gap: 10px; }
        .composer-row input { flex: 1; }
        details { margin-top: 24px; }
        summary { cursor: pointer; color: var(--text-secondary); }
        .rate-row { display: flex; gap: 8px; align-items: center; margin-top: 12px; }
        .rate-row select { width: auto; }
        #rateStatus { margin-top: 10px; font-size: 13px; }
        .hidden { display: none; }
    </style>
</head>` + pageNav + `
    <main class="container layout">
        <div id="notFound" class="card empty hidden">
            <h2>Agent not found</h2>
            <p style="margin: 16px 0"><a class="btn" href="/marketplace">Back to Marketplace</a></p>
        </div>

        <div id="agentView" class="hidden">
            <div class="card agent-header">
                <div class="agent-title">
                    <h1 id="agentName"></h1>
                    <div class="rating"><span class="star">★</span> <span id="agentRating">0.0</span> / 5.0</div>
                </div>
                <p class="muted" id="agentDesc"></p>
                <div class="stats">
                    <div><div class="stat-value mono" id="agentPrice"></div><div class="stat-label">per call</div></div>
                    <div><div class="stat-value" id="agentCalls"></div><div class="stat-label">calls</div></div>
                    <div><div class="stat-value" id="agentSuccess"></div><div class="stat-label">success rate</div></div>
                    <div><div class="stat-value mono" id="agentEarnings"></div><div class="stat-label">earned (USDC)</div></div>
                </div>
            </div>

            <div class="card chat">
                <div class="messages" id="messages"></div>
                <div class="composer">
                    <div class="composer-row">
                        <input id="userAddress" class="mono" placeholder="Your wallet address (0x...)">
                        <input id="paymentToken" class="mono" placeholder="X-PAYMENT token">
                    </div>
                    <div class="composer-row">
                        <input id="message" placeholder="Type your message..." autocomplete="off">
                        <button class="btn" id="send">Send</button>
                    </div>
                </div>
            </div>

            <details>
                <summary>Rate this agent</summary>
                <div class="card" style="margin-top: 12px">
                    <p class="muted">Only wallets that have called this agent can leave a rating. Ratings are submitted from your own wallet.</p>
                    <div class="rate-row">
                        <select id="rating">
                            <option value="5">★★★★★</option>
                            <option value="4">★★★★</option>
                            <option value="3">★★★</option>
                            <option value="2">★★</option>
                            <option value="1">★</option>
                        </select>
                        <button class="btn btn-outline" id="checkRate">Check eligibility</button>
                        <button class="btn" id="submitRate">Rate</button>
                    </div>
                    <div id="rateStatus"></div>
                </div>
            </details>
        </div>
    </main>
    <script>
        const agentId = location.pathname.split('/').filter(Boolean).pop();
        const messages = document.getElementById('messages');

        function say(text, who) {
            const div = document.createElement('div');
            div.className = 'msg ' + who;
            div.textContent = text;
            messages.appendChild(div);
            messages.scrollTop = messages.scrollHeight;
        }

        function describe402(body) {
            const opt = (body.accepts || [])[0];
            if (!opt) return body.message || body.error || 'Payment required';
            return (body.message || 'Payment required') + ': ' + units(opt.amount) + ' USDC on ' + opt.network +
                '\nasset ' + opt.asset.address + '\nPaste a signed X-PAYMENT token above and send again.';
        }

        async function loadAgent() {
            const res = await fetch('/api/agents/' + agentId);
            if (!res.ok) {
                document.getElementById('notFound').classList.remove('hidden');
                return;
            }
            const a = await res.json();
            const chain = a.onChain || {};
            document.title = a.name + ' · AgentBazaar';
            document.getElementById('agentName').textContent = a.name;
            document.getElementById('agentDesc').textContent = a.description || '';
            document.getElementById('agentRating').textContent = Number(chain.averageRating || 0).toFixed(1);
            document.getElementById('agentPrice').textContent = cents(a.pricePerCall);
            document.getElementById('agentCalls').textContent = chain.totalCalls || 0;
            document.getElementById('agentSuccess').textContent = Number(chain.successRate || 0).toFixed(1) + '%';
            document.getElementById('agentEarnings').textContent = chain.totalEarnings || '0.000000';
            document.getElementById('agentView').classList.remove('hidden');
            if (!messages.children.length) say("Hello! I'm " + a.name + '. How can I help you today?', 'agent');
        }

        async function send() {
            const input = document.getElementById('message');
            const text = input.value.trim();
            if (!text) return;
            say(text, 'user');
            input.value = '';
            const headers = { 'Content-Type': 'application/json' };
            const token = document.getElementById('paymentToken').value.trim();
            if (token) headers['X-PAYMENT'] = token;
            const btn = document.getElementById('send');
            btn.disabled = true;
            try {
                const res = await fetch('/api/agents/' + agentId + '/call', {
                    method: 'POST',
                    headers,
                    body: JSON.stringify({ message: text, userAddress: document.getElementById('userAddress').value.trim() }),
                });
                const body = await res.json().catch(() => ({}));
                if (res.status === 402) {
                    say(describe402(body), 'system');
                } else if (!res.ok) {
                    say('Error: ' + (body.message || body.error || ('HTTP ' + res.status)), 'system');
                } else {
                    say(body.response.text, 'agent');
                    if (body.payment && body.payment.transaction) say('Paid ' + units(body.payment.amount) + ' · tx ' + shortAddr(body.payment.transaction), 'system');
                    document.getElementById('paymentToken').value = '';
                    loadAgent();
                }
            } catch (e) {
                say('Error: ' + e.message, 'system');
            } finally {
                btn.disabled = false;
            }
        }

        async function checkRate() {
            const status = document.getElementById('rateStatus');
            const user = document.getElementById('userAddress').value.trim();
            if (!user) { status.className = 'err'; status.textContent = 'Enter your wallet address first.'; return; }
            const res = await fetch('/api/agents/' + agentId + '/rate?userAddress=' + encodeURIComponent(user));
            const body = await res.json().catch(() => ({}));
            status.className = body.canRate ? 'ok' : 'muted';
            status.textContent = body.canRate ? 'You can rate this agent.' : (body.error || 'Not eligible yet. Call the agent first.');
        }

        async function submitRate() {
            const status = document.getElementById('rateStatus');
            const res = await fetch('/api/agents/' + agentId + '/rate', {
                method: 'POST',
                headers: { 'Content-Type': 'application/json' },
                body: JSON.stringify({
                    rating: Number(document.getElementById('rating').value),
                    userAddress: document.getElementById('userAddress').value.trim(),
                }),
            });
            const body = await res.json().catch(() => ({}));
            status.className = res.ok ? 'ok' : 'err';
            status.textContent = res.ok
                ? body.message + '. Call rateAgent(' + agentId + ', ' + body.rating + ') on ' + body.contractAddress + ' from your wallet.'
                : (body.error || 'Rating failed');
        }

        document.getElementById('send').onclick = send;
        document.getElementById('message').addEventListener('keydown', e => { if (e.key === 'Enter') send(); });
        document.getElementById('checkRate').onclick = checkRate;
        document.getElementById('submitRate').onclick = submitRate;
        loadAgent();
    </script>
` + pageFoot
