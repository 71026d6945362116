package server

const indexHTML = `
<!DOCTYPE html>
<html>
<head>
    <title>Face Status</title>
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <style>
        body { margin: 0; background: #111; color: #eee; font-family: sans-serif; }
        .app { max-width: 960px; margin: 0 auto; padding: 16px; }
        .header { display: flex; justify-content: space-between; align-items: center; }
        .badge { padding: 4px 10px; border-radius: 12px; background: #333; font-size: 13px; }
        .badge.live { background: #1b5e20; }
        .panel { background: #1c1c1c; border-radius: 8px; padding: 12px; margin-top: 12px; }
        .status { font-size: 28px; font-weight: bold; color: #ffeb3b; min-height: 36px; }
        .tag { display: inline-block; padding: 2px 8px; margin-right: 6px; border-radius: 4px; background: #37474f; }
        table { width: 100%; border-collapse: collapse; font-size: 13px; }
        td { padding: 2px 4px; border-bottom: 1px solid #333; }
        button { background: #37474f; color: #eee; border: 0; border-radius: 4px; padding: 6px 12px; cursor: pointer; }
    </style>
</head>
<body>
    <div class="app">
        <div class="header">
            <h1>Face Status</h1>
            <span class="badge" id="stream-badge">Connecting...</span>
        </div>

        <div class="panel">
            <img id="stream" src="/stream" alt="Annotated camera frames" style="width:100%;height:auto;display:block;">
        </div>

        <div class="panel">
            <div class="status" id="status-text"></div>
            <div id="tags"></div>
        </div>

        <div class="panel">
            <button type="button" id="btn-session">Stop session</button>
            <button type="button" id="btn-record">Start recording</button>
            <span id="record-info"></span>
        </div>

        <div class="panel">
            <table id="params"></table>
        </div>
    </div>

    <script>
        const statusText = document.getElementById('status-text');
        const tagsEl = document.getElementById('tags');
        const paramsEl = document.getElementById('params');
        const badge = document.getElementById('stream-badge');
        const sessionBtn = document.getElementById('btn-session');
        const recordBtn = document.getElementById('btn-record');
        const recordInfo = document.getElementById('record-info');

        function render(event) {
            statusText.textContent = event.status || '';
            const face = (event.faces && event.faces.length) ? event.faces[event.faces.length - 1] : null;
            tagsEl.innerHTML = '';
            paramsEl.innerHTML = '';
            if (!face) {
                return;
            }
            (face.tags || []).forEach(tag => {
                const span = document.createElement('span');
                span.className = 'tag';
                span.textContent = tag;
                tagsEl.appendChild(span);
            });
            [['RotX', face.rot_x], ['RotY', face.rot_y], ['RotZ', face.rot_z], ['Smiling Prob.', face.smiling]]
                .forEach(([name, value]) => {
                    const row = paramsEl.insertRow();
                    row.insertCell().textContent = name;
                    row.insertCell().textContent = value;
                });
        }

        const source = new EventSource('/api/status/stream');
        source.onopen = () => { badge.textContent = 'Live'; badge.classList.add('live'); };
        source.onerror = () => { badge.textContent = 'Reconnecting...'; badge.classList.remove('live'); };
        source.onmessage = (msg) => render(JSON.parse(msg.data));

        async function post(path, body) {
            const res = await fetch(path, {
                method: 'POST',
                headers: { 'Content-Type': 'application/json' },
                body: body ? JSON.stringify(body) : undefined,
            });
            return res.json();
        }

        sessionBtn.onclick = async () => {
            const stopping = sessionBtn.textContent.startsWith('Stop');
            const session = await post(stopping ? '/api/session/stop' : '/api/session/start');
            sessionBtn.textContent = session.active ? 'Stop session' : 'Start session';
        };

        recordBtn.onclick = async () => {
            const starting = recordBtn.textContent.startsWith('Start');
            const res = await post(starting ? '/api/recording/start' : '/api/recording/stop');
            if (res.error) {
                recordInfo.textContent = res.error;
                return;
            }
            recordBtn.textContent = starting ? 'Stop recording' : 'Start recording';
            recordInfo.textContent = res.file || '';
        };
    </script>
</body>
</html>
`
