// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"html/template"
	"net/http"

	"github.com/sapcc/go-bits/logg"
)

type approvalPageData struct {
	Found     bool
	Success   bool
	Error     string
	Image     string
	Container string
}

func writeApprovalPage(w http.ResponseWriter, status int, data approvalPageData) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	err := approvalPageTmpl.Execute(w, data)
	if err != nil {
		logg.Error("cannot render approval page: %s", err.Error())
	}
}

// mobile-friendly single-card page; the notification link lands here
var approvalPageTmpl = template.Must(template.New("approve").Parse(`<!DOCTYPE html>
<html>
<head>
	<meta name="viewport" content="width=device-width, initial-scale=1">
	<title>Approve Update</title>
	<style>
		* { box-sizing: border-box; }
		body {
			font-family: -apple-system, system-ui, sans-serif;
			background: #1a1a2e; color: #eee;
			min-height: 100vh; margin: 0; padding: 20px;
			display: flex; align-items: center; justify-content: center;
		}
		.card {
			background: #16213e; border-radius: 16px; padding: 32px;
			max-width: 400px; width: 100%;
			box-shadow: 0 8px 32px rgba(0,0,0,0.3);
		}
		h1 { margin: 0 0 8px 0; font-size: 24px; }
		.subtitle { color: #888; margin-bottom: 24px; }
		.info { background: #0f3460; padding: 16px; border-radius: 8px; margin-bottom: 24px; }
		.info div { margin: 8px 0; }
		.label { color: #888; font-size: 12px; text-transform: uppercase; }
		.value { font-family: monospace; word-break: break-all; }
		form { display: flex; flex-direction: column; gap: 16px; }
		input[type="text"] {
			background: #0f3460; border: 2px solid #333; color: #fff;
			padding: 16px; border-radius: 8px; font-size: 24px;
			text-align: center; letter-spacing: 8px; font-family: monospace;
		}
		input[type="text"]:focus { outline: none; border-color: #4CAF50; }
		button {
			background: #4CAF50; color: white; border: none; padding: 16px;
			border-radius: 8px; font-size: 18px; cursor: pointer;
		}
		button:hover { background: #45a049; }
		.error { background: #f44336; color: white; padding: 12px; border-radius: 8px; margin-bottom: 16px; }
		.success { background: #4CAF50; color: white; padding: 16px; border-radius: 8px; text-align: center; }
	</style>
</head>
<body>
	<div class="card">
		{{- if .Error }}
		<div class="error">{{ .Error }}</div>
		{{- end }}
		{{- if .Success }}
		<div class="success">
			<h2>&#10003; Approved</h2>
			<p>{{ .Container }} is updating...</p>
		</div>
		{{- else if not .Found }}
		<div class="error">
			<h2>Not Found</h2>
			<p>This approval link has expired or was already used.</p>
		</div>
		{{- else }}
		<h1>Approve Update</h1>
		<p class="subtitle">Enter your 6-digit code</p>
		<div class="info">
			<div>
				<span class="label">Image</span>
				<div class="value">{{ .Image }}</div>
			</div>
			<div>
				<span class="label">Container</span>
				<div class="value">{{ .Container }}</div>
			</div>
		</div>
		<form method="POST">
			<input type="text" name="code" maxlength="6" pattern="[0-9]{6}"
			       placeholder="000000" autofocus autocomplete="off" inputmode="numeric">
			<button type="submit">Approve &amp; Deploy</button>
		</form>
		{{- end }}
	</div>
</body>
</html>
`))
