package api

import (
	"fmt"
	"html"
)

// streamRoutes are listed in the docs banner; huma does not describe SSE routes.
var streamRoutes = []string{
	"/api/v1/stream?symbol=SPY&kinds=shapes,notification",
	"/api/v1/sessions/{symbol}/stream?kinds=shapes,styles,viewport",
}

func docsPage(version string) string {
	var links string
	for _, r := range streamRoutes {
		links += fmt.Sprintf("<li><code>%s</code></li>", html.EscapeString(r))
	}
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
<head>
  <meta charset="utf-8" />
  <meta name="viewport" content="width=device-width, initial-scale=1" />
  <title>chartsync %[1]s</title>
  <link href="https://unpkg.com/@stoplight/elements@9.0.0/styles.min.css" rel="stylesheet" />
  <script src="https://unpkg.com/@stoplight/elements@9.0.0/web-components.min.js" crossorigin="anonymous"></script>
  <style>
    body { margin: 0; display: flex; flex-direction: column; height: 100vh; font-family: sans-serif; }
    header { padding: 6px 16px; font-size: 12px; border-bottom: 1px solid #ddd; }
    header ul { display: inline; margin: 0; padding: 0; }
    header li { display: inline; margin-left: 12px; }
    elements-api { flex: 1; overflow: auto; }
  </style>
</head>
<body>
  <header>chartsync %[1]s &middot; event streams (text/event-stream):<ul>%[2]s</ul></header>
  <elements-api apiDescriptionUrl="/openapi.json" router="hash" layout="sidebar" tryItCredentialsPolicy="same-origin" />
</body>
</html>`, html.EscapeString(version), links)
}
