package server

const marketplacePageHTML = pageHead + `
    <title>Marketplace · AgentBazaar</title>
    <style>
        .page-header { padding: 48px 0 24px; display: flex; justify-content: space-between; align-items: flex-end; gap: 24px; flex-wrap: wrap; }
        .page-title { font-size: 28px; font-weight: 600; margin-bottom: 4px; }
        .toolbar { display: flex; gap: 12px; flex-wrap: wrap; align-items: center; margin-bottom: 24px; }
        .toolbar input { max-width: 320px; }
        .chip { padding: 6px 14px; border-radius: 999px; border: 1px solid var(--border); background: transparent; color: var(--text-secondary); cursor: pointer; font: inherit; font-size: 13px; }
        .chip.active { border-color: var(--accent-strong); color: var(--accent); }
        .grid { display: grid; grid-template-columns: repeat(auto-fill, minmax(320px, 1fr)); gap: 16px; }
        .agent-card { display: block; text-decoration: none; color: inherit; transition: border-color 0.15s; }
        .agent-card:hover { border-color: var(--accent-strong); }
        .agent-top { display: flex; justify-content: space-between; align-items: flex-start; margin-bottom: 10px; }
        .agent-name { font-weight: 600; font-size: 16px; }
        .agent-price { color: var(--accent); font-weight: 600; }
        .tag { display: inline-block; font-size: 11px; padding: 3px 8px; border-radius: 4px; border: 1px solid var(--border); color: var(--text-secondary); margin-top: 4px; }
        .agent-desc { color: var(--text-secondary); font-size: 13px; line-height: 1.5; margin-bottom: 14px; }
        .agent-foot { display: flex; justify-content: space-between; font-size: 12px; color: var(--text-tertiary); border-top: 1px solid var(--border); padding-top: 12px; }
        .live { font-size: 12px; color: var(--text-tertiary); }
        .live.on { color: var(--ok); }
        dialog { margin: auto; background: var(--bg-subtle); color: var(--text); border: 1px solid var(--border); border-radius: 12px; padding: 24px; width: min(520px, 92vw); }
        dialog::backdrop { background: rgba(0, 0, 0, 0.6); }
        .form-actions { display: flex; gap: 12px; justify-content: flex-end; margin-top: 20px; }
        #formStatus { margin-top: 12px; font-size: 13px; }
    </style>
</head>` + pageNav + `
    <main class="container">
        <div class="page-header">
            <div>
                <h1 class="page-title">Agent Marketplace</h1>
                <p class="muted">Pay per call with USDC. No accounts, no subscriptions.</p>
            </div>
            <div>
                <span class="live" id="live">● offline</span>
                <button class="btn" id="openRegister">Register Agent</button>
            </div>
        </div>
        <div class="toolbar">
            <input id="search" placeholder="Search agents..." autocomplete="off">
            <div id="categories"></div>
        </div>
        <div class="grid" id="grid"><div class="empty">Loading...</div></div>
    </main>

    <dialog id="register">
        <h2>Register a new agent</h2>
        <form id="registerForm">
            <label for="name">Name</label>
            <input id="name" name="name" required maxlength="100">
            <label for="owner">Owner address</label>
            <input id="owner" name="owner" class="mono" placeholder="0x..." required>
            <label for="endpointUrl">Endpoint URL</label>
            <input id="endpointUrl" name="endpointUrl" type="url" placeholder="https://" required>
            <label for="pricePerCall">Price per call (USDC)</label>
            <input id="pricePerCall" name="pricePerCall" placeholder="0.01" required>
            <label for="category">Category</label>
            <input id="category" name="category" list="categoryList" required maxlength="50">
            <datalist id="categoryList"></datalist>
            <label for="description">Description</label>
            <textarea id="description" name="description" rows="3" maxlength="2000"></textarea>
            <div id="formStatus"></div>
            <div class="form-actions">
                <button type="button" class="btn btn-outline" id="cancelRegister">Cancel</button>
                <button type="submit" class="btn" id="submitRegister">Register</button>
            </div>
        </form>
    </dialog>

    <script>
        let agents = [];
        let category = 'All';

        function render() {
            const q = document.getElementById('search').value.trim().toLowerCase();
            const shown = agents.filter(a =>
                (category === 'All' || a.category === category) &&
                (!q || a.name.toLowerCase().includes(q) || (a.description || '').toLowerCase().includes(q)));
            const grid = document.getElementById('grid');
            if (!shown.length) { grid.innerHTML = '<div class="empty">No agents found</div>'; return; }
            grid.innerHTML = shown.map(a =>
                '<a class="card agent-card" href="/marketplace/' + a.id + '">' +
                    '<div class="agent-top"><div>' +
                        '<div class="agent-name">' + esc(a.name) + '</div>' +
                        '<span class="tag">' + esc(a.category) + '</span>' +
                    '</div><div class="agent-price mono">' + cents(a.pricePerCall) + '<span class="muted"> /call</span></div></div>' +
                    '<div class="agent-desc">' + esc(a.description || 'No description') + '</div>' +
                    '<div class="agent-foot">' +
                        '<span class="mono">' + esc(shortAddr(a.owner)) + '</span>' +
                        '<span>' + (a.totalCalls || 0) + ' calls' + (a.rating ? ' · ★ ' + Number(a.rating).toFixed(1) : '') + '</span>' +
                    '</div></a>').join('');
        }

        function renderCategories() {
            const cats = ['All', ...new Set(agents.map(a => a.category))];
            const box = document.getElementById('categories');
            box.innerHTML = cats.map(c =>
                '<button class="chip' + (c === category ? ' active' : '') + '" data-cat="' + esc(c) + '">' + esc(c) + '</button>').join(' ');
            box.querySelectorAll('.chip').forEach(b => b.onclick = () => { category = b.dataset.cat; renderCategories(); render(); });
            document.getElementById('categoryList').innerHTML = cats.slice(1).map(c => '<option value="' + esc(c) + '">').join('');
        }

        function load() {
            fetch('/api/agents').then(r => r.json()).then(list => {
                agents = Array.isArray(list) ? list : [];
                renderCategories();
                render();
            }).catch(() => {
                document.getElementById('grid').innerHTML = '<div class="empty err">Failed to load agents</div>';
            });
        }

        document.getElementById('search').addEventListener('input', render);

        const dialog = document.getElementById('register');
        document.getElementById('openRegister').onclick = () => dialog.showModal();
        document.getElementById('cancelRegister').onclick = () => dialog.close();
        if (location.hash === '#register') dialog.showModal();

        document.getElementById('registerForm').addEventListener('submit', async ev => {
            ev.preventDefault();
            const status = document.getElementById('formStatus');
            const submit = document.getElementById('submitRegister');
            const body = Object.fromEntries(new FormData(ev.target).entries());
            submit.disabled = true;
            status.className = 'muted';
            status.textContent = 'Registering...';
            try {
                const res = await fetch('/api/agents', {
                    method: 'POST',
                    headers: { 'Content-Type': 'application/json' },
                    body: JSON.stringify(body),
                });
                const data = await res.json();
                if (!res.ok) throw new Error(data.message || data.error || ('HTTP ' + res.status));
                status.className = 'ok';
                status.textContent = 'Registered as agent #' + data.id;
                ev.target.reset();
                load();
                setTimeout(() => dialog.close(), 800);
            } catch (e) {
                status.className = 'err';
                status.textContent = e.message;
            } finally {
                submit.disabled = false;
            }
        });

        function connect() {
            const ws = new WebSocket((location.protocol === 'https:' ? 'wss://' : 'ws://') + location.host + '/ws');
            const live = document.getElementById('live');
            ws.onopen = () => {
                live.textContent = '● live';
                live.classList.add('on');
                ws.send(JSON.stringify({ eventTypes: ['agent_registered', 'agent_called', 'chain_event'] }));
            };
            ws.onmessage = () => load();
            ws.onclose = () => {
                live.textContent = '● offline';
                live.classList.remove('on');
                setTimeout(connect, 5000);
            };
        }

        load();
        connect();
    </script>
` + pageFoot
