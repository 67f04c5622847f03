package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/sweeney/light-controller/internal/rtc"
	"github.com/sweeney/light-controller/internal/status"
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
	"temperature": func(c float64) string {
		if c == rtc.TemperatureUnavailable {
			return "unavailable"
		}
		return fmt.Sprintf("%.2f °C", c)
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<meta http-equiv="refresh" content="10">
<title>Light Controller</title>
<style>
body { font-family: monospace; max-width: 600px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.on { color: green; font-weight: bold; }
.off { color: #888; }
.fault { color: orange; }
.connected { color: green; }
.disconnected { color: red; }
</style>
</head>
<body>
<h1>Light Controller</h1>

<h2>Light</h2>
<table>
<tr><th>State</th><td id="light-state" class="{{if .Light.On}}on{{else}}off{{end}}">{{.Light.Status}}</td></tr>
<tr><th>Owner</th><td id="light-owner">{{.Light.Owner}}</td></tr>
<tr><th>Switched on</th><td>{{.Counts.On}}</td></tr>
<tr><th>Switched off</th><td>{{.Counts.Off}}</td></tr>
</table>

<h2>Schedule</h2>
<table>
<tr><th>Window</th><td>{{.Window.Start}} – {{.Window.End}}{{if .Window.Wraps}} (overnight){{end}}</td></tr>
<tr><th>Enabled</th><td>{{if .ScheduleEnabled}}yes{{else}}no{{end}}</td></tr>
</table>

<h2>Clock</h2>
<table>
{{if .Clock.Time.IsZero}}<tr><th>RTC</th><td class="fault">no reading yet</td></tr>
{{else}}<tr><th>RTC</th><td{{if not .Clock.OK}} class="fault"{{end}}>{{.Clock.Time.Format "02-01-2006 15:04:05"}}{{if not .Clock.OK}} (stale){{end}}</td></tr>
<tr><th>Temperature</th><td>{{temperature .Clock.Temperature}}</td></tr>{{end}}
<tr><th>Timezone</th><td>{{.Config.Timezone}}</td></tr>
</table>

<h2>Connectivity</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{.Config.Broker}}</td></tr>
<tr><th>Topic prefix</th><td>{{.Config.TopicPrefix}}</td></tr>
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Poll</th><td>{{.Config.PollMs}}ms</td></tr>
<tr><th>Sensor lockout</th><td>{{.Config.LockoutMs}}ms</td></tr>
<tr><th>Sensor revert</th><td>{{.Config.RevertMs}}ms</td></tr>
<tr><th>Heartbeat</th><td>{{if eq .Config.HeartbeatMs 0}}disabled{{else}}{{.Config.HeartbeatMs}}ms{{end}}</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPPort}}</td></tr>
</table>

<p><a href="/index.json">JSON</a> · <a href="/metrics">metrics</a></p>
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot) {
	// Snapshot has an Uptime method but the template needs a Duration field.
	data := struct {
		status.Snapshot
		Uptime time.Duration
	}{
		Snapshot: snap,
		Uptime:   snap.Uptime(),
	}
	indexTmpl.Execute(w, data)
}
