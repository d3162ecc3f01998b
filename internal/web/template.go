package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/sweeney/power-button/internal/status"
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
	"orUnknown": func(v any) string {
		if s := fmt.Sprint(v); s != "" {
			return s
		}
		return "UNKNOWN"
	},
	"modeClass": func(v any) string {
		switch fmt.Sprint(v) {
		case "ON":
			return "on"
		case "FLASHING":
			return "flashing"
		case "OFF":
			return "off"
		}
		return "unknown"
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<meta http-equiv="refresh" content="5">
<title>Power Button</title>
<style>
body { font-family: monospace; max-width: 600px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.on { color: green; font-weight: bold; }
.flashing { color: orange; font-weight: bold; }
.off { color: #888; }
.unknown { color: orange; }
.connected { color: green; }
.disconnected { color: red; }
</style>
</head>
<body>
<h1>Power Button</h1>

<h2>State</h2>
<table>
<tr><th>Controller</th><td id="state">{{if .Polled}}{{orUnknown .Power.State}}{{else}}UNKNOWN{{end}}</td></tr>
<tr><th>Relay</th><td id="relay" class="{{modeClass .Power.Relay}}">{{orUnknown .Power.Relay}}</td></tr>
<tr><th>LED</th><td id="led" class="{{modeClass .Power.LED}}">{{orUnknown .Power.LED}}</td></tr>
<tr><th>Shutdown request</th><td id="shutdown">{{if .Power.ShutdownRequested}}asserted{{else}}clear{{end}}</td></tr>
<tr><th>Safety power-off</th><td id="safety">{{if not .Power.SafetyOffEnabled}}disabled{{else if gt .Power.SafetyOffRemaining 0}}{{.Power.SafetyOffRemaining}} ticks{{else}}idle{{end}}</td></tr>
</table>

<h2>Connectivity</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{if .Config.Broker}}{{.Config.Broker}}{{else}}disabled{{end}}</td></tr>
{{if .Network}}<tr><th>Network</th><td>{{.Network.Status}} ({{.Network.Type}}{{if .Network.SSID}}, {{.Network.SSID}}{{end}})</td></tr>
<tr><th>IP</th><td>{{.Network.IP}}</td></tr>{{end}}
</table>

<h2>Event Counts</h2>
<table>
<tr><th>Power on</th><td>{{.Power.Counts.PowerOn}}</td></tr>
<tr><th>Shutdown requested</th><td>{{.Power.Counts.ShutdownRequested}}</td></tr>
<tr><th>Confirmed power off</th><td>{{.Power.Counts.ConfirmedPowerOff}}</td></tr>
<tr><th>Safety timeout off</th><td>{{.Power.Counts.SafetyTimeoutOff}}</td></tr>
<tr><th>Invalid state resets</th><td>{{.Power.Counts.InvalidStateResets}}</td></tr>
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>GPIO backend</th><td>{{.Config.Backend}}</td></tr>
<tr><th>Tick</th><td>{{.Config.TickMs}}ms</td></tr>
<tr><th>Poll</th><td>{{.Config.PollMs}}ms</td></tr>
<tr><th>Debounce</th><td>{{.Config.DebounceUs}}us</td></tr>
<tr><th>Flash</th><td>{{.Config.FlashMs}}ms</td></tr>
<tr><th>Safety timeout</th><td>{{if eq .Config.SafetyOffMs 0}}disabled{{else}}{{.Config.SafetyOffMs}}ms{{end}}</td></tr>
<tr><th>Heartbeat</th><td>{{if eq .Config.HeartbeatMs 0}}disabled{{else}}{{.Config.HeartbeatMs}}ms{{end}}</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPPort}}</td></tr>
</table>

<p><a href="/index.json">JSON</a></p>
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot) error {
	// Snapshot has Uptime() method but template needs a Duration field.
	data := struct {
		status.Snapshot
		Uptime time.Duration
	}{
		Snapshot: snap,
		Uptime:   snap.Uptime(),
	}
	return indexTmpl.Execute(w, data)
}
