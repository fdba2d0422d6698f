package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/sweeney/face-trigger/internal/status"
)

var indexTmpl = template.Must(template.New("index").Funcs(template.FuncMap{
	"uptime": func(d time.Duration) string {
		d = d.Truncate(time.Second)
		days := int(d.Hours()) / 24
		h := int(d.Hours()) % 24
		m := int(d.Minutes()) % 60
		s := int(d.Seconds()) % 60
		if days > 0 {
			return fmt.Sprintf("%dd %dh %dm %ds", days, h, m, s)
		}
		if h > 0 {
			return fmt.Sprintf("%dh %dm %ds", h, m, s)
		}
		if m > 0 {
			return fmt.Sprintf("%dm %ds", m, s)
		}
		return fmt.Sprintf("%ds", s)
	},
	"clock": func(t time.Time) string {
		if t.IsZero() {
			return "never"
		}
		return t.UTC().Format("2006-01-02T15:04:05Z")
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<meta http-equiv="refresh" content="10">
<title>Face Trigger</title>
<style>
body { font-family: monospace; max-width: 600px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.ok { color: green; }
.bad { color: red; }
.muted { color: #888; }
</style>
</head>
<body>
<h1>Face Trigger</h1>

<h2>Recent Dispatches</h2>
<table>
{{range .Recent}}<tr><th>{{.Identity}}</th><td>{{.Action}} <span class="muted">{{clock .At}}</span></td></tr>
{{else}}<tr><td class="muted">none yet</td></tr>
{{end}}</table>

<h2>Connectivity</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}ok{{else}}bad{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{.Config.Broker}}</td></tr>
<tr><th>Topic</th><td>{{.Config.Topic}}</td></tr>
<tr><th>Capture</th><td class="{{if .CaptureDegraded}}bad{{else}}ok{{end}}">{{if .CaptureDegraded}}degraded{{else}}ok{{end}}</td></tr>
<tr><th>Last frame</th><td>{{clock .LastFrame}}</td></tr>
</table>

<h2>Counts</h2>
<table>
<tr><th>Frames</th><td>{{.Counts.Frames}} ({{.Counts.FrameErrors}} errors)</td></tr>
<tr><th>Faces</th><td>{{.Counts.Faces}} ({{.Counts.Unknown}} unknown)</td></tr>
<tr><th>Dispatches</th><td>{{.Counts.Dispatches}}</td></tr>
<tr><th>Suppressed</th><td>{{.Counts.Suppressed}}</td></tr>
<tr><th>Delivered</th><td>{{.Counts.Delivered}} ({{.Counts.DeliveryFailures}} failed)</td></tr>
<tr><th>Notified</th><td>{{.Counts.Notified}} ({{.Counts.NotifyFailures}} failed)</td></tr>
<tr><th>Dropped</th><td>{{.Counts.Dropped}}</td></tr>
</table>

<h2>Rules</h2>
<table>
{{range .Config.Rules}}<tr><th>{{.Identity}}</th><td>{{.Action}}</td></tr>
{{end}}<tr><th class="muted">anyone else</th><td>{{.Config.DefaultAction}}</td></tr>
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{clock .StartTime}}</td></tr>
<tr><th>Cooldown</th><td>{{.Config.CooldownMs}}ms</td></tr>
<tr><th>Workers</th><td>{{.Config.Workers}}</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPAddr}}</td></tr>
</table>

<p><a href="/index.json">JSON</a> | <a href="/metrics">metrics</a></p>
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot) {
	// Snapshot has Uptime() method but template needs a Duration field.
	data := struct {
		status.Snapshot
		Uptime time.Duration
	}{
		Snapshot: snap,
		Uptime:   snap.Uptime(),
	}
	indexTmpl.Execute(w, data)
}
