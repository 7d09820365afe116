package api

const docsHTML = `<!doctype html>
<html lang="en" data-theme="dark">
<head>
  <meta charset="utf-8" />
  <meta name="referrer" content="same-origin" />
  <meta name="viewport" content="width=device-width, initial-scale=1, shrink-to-fit=no" />
  <title>AI Notifier API</title>
  <link href="https://unpkg.com/@stoplight/elements@9.0.0/styles.min.css" rel="stylesheet" />
  <script src="https://unpkg.com/@stoplight/elements@9.0.0/web-components.min.js" crossorigin="anonymous"></script>
</head>
<body style="height: 100vh; margin: 0; position: relative;">
  <a href="/docs/events" style="
    position: fixed;
    top: 12px;
    right: 16px;
    z-index: 9999;
    background: #161b22;
    border: 1px solid #30363d;
    border-radius: 6px;
    color: #58a6ff;
    font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', sans-serif;
    font-size: 12px;
    font-weight: 500;
    padding: 5px 12px;
    text-decoration: none;
  ">Event Stream Docs →</a>
  <elements-api
    apiDescriptionUrl="/openapi.json"
    router="hash"
    layout="sidebar"
    tryItCredentialsPolicy="same-origin"
    darkMode
  />
</body>
</html>`

const eventsDocsHTML = `<!doctype html>
<html lang="en">
<head>
  <meta charset="utf-8" />
  <meta name="viewport" content="width=device-width, initial-scale=1" />
  <title>Event Stream · AI Notifier</title>
  <style>
    body {
      margin: 0 auto;
      max-width: 860px;
      padding: 32px;
      font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, sans-serif;
      font-size: 14px;
      line-height: 1.65;
      background: #0d1117;
      color: #c9d1d9;
    }
    a { color: #58a6ff; text-decoration: none; }
    h1 { font-size: 26px; font-weight: 600; color: #e6edf3; margin: 0 0 8px; }
    h2 { font-size: 18px; font-weight: 600; color: #e6edf3; margin: 36px 0 12px; padding-bottom: 8px; border-bottom: 1px solid #21262d; }
    table { width: 100%; border-collapse: collapse; font-size: 13px; margin-bottom: 20px; }
    th { text-align: left; padding: 8px 12px; background: #161b22; color: #8b949e; border-bottom: 1px solid #30363d; }
    td { padding: 8px 12px; border-bottom: 1px solid #21262d; vertical-align: top; }
    code, pre { font-family: "SFMono-Regular", Consolas, "Liberation Mono", Menlo, monospace; }
    code { font-size: 12px; background: #161b22; border: 1px solid #30363d; border-radius: 3px; padding: 1px 5px; color: #e6edf3; }
    pre { background: #161b22; border: 1px solid #30363d; border-radius: 6px; padding: 16px; overflow-x: auto; }
    pre code { background: none; border: none; padding: 0; }
  </style>
</head>
<body>
  <p><a href="/docs">← REST API docs</a></p>
  <h1>Event Stream</h1>
  <p>Server-sent events describing what the notifier saw and did. Nothing is replayed: a client only sees events published after it connects, and a client that falls behind loses events.</p>

  <h2>Endpoint</h2>
  <pre><code>GET /api/v1/events?kinds=request.tracked,notification.*</code></pre>
  <p><code>kinds</code> is optional. Entries are exact kinds or prefixes ending in <code>*</code>.</p>

  <h2>Kinds</h2>
  <table>
    <tr><th>Kind</th><th>Payload</th></tr>
    <tr><td><code>request.tracked</code></td><td>request_id, tab_id, service_id, start_time</td></tr>
    <tr><td><code>request.completed</code></td><td>request fields plus elapsed_ms</td></tr>
    <tr><td><code>request.discarded</code></td><td>request fields plus elapsed_ms (shorter than the minimum duration)</td></tr>
    <tr><td><code>request.failed</code></td><td>request fields</td></tr>
    <tr><td><code>notification.sent</code></td><td>id, tab_id, service_id, created_at</td></tr>
    <tr><td><code>notification.suppressed</code></td><td>the tab: id, window_id, url, active (the user was already looking at it)</td></tr>
    <tr><td><code>notification.clicked</code></td><td>notification_id, tab_id, outcome</td></tr>
    <tr><td><code>janitor.swept</code></td><td>requests, notifications removed</td></tr>
  </table>

  <h2>Example</h2>
  <pre><code>curl -N http://127.0.0.1:8189/api/v1/events

event: request.tracked
data: {"request_id":"3/1204.77","tab_id":3,"service_id":"claude","start_time":"2026-01-02T10:00:00Z"}

event: notification.sent
data: {"id":"ai-response-0190b0c2-...","tab_id":3,"service_id":"claude","created_at":"2026-01-02T10:00:21Z"}</code></pre>
</body>
</html>`
