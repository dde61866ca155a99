package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/sweeney/irrigation-node/internal/status"
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
	"stateOrUnknown": func(s string) string {
		if s == "" {
			return "UNKNOWN"
		}
		return s
	},
	"optional": func(v *float64) string {
		if v == nil {
			return "--"
		}
		return fmt.Sprintf("%.1f", *v)
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Irrigation Node</title>
<style>
body { font-family: monospace; max-width: 600px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.on { color: green; font-weight: bold; }
.off { color: #888; }
.unknown { color: orange; }
.connected { color: green; }
.disconnected { color: red; }
.live-dot { display: inline-block; width: 8px; height: 8px; border-radius: 50%; margin-left: 6px; vertical-align: middle; }
.live-dot.ok { background: green; }
.live-dot.err { background: red; }
.live-dot.pending { background: orange; }
</style>
</head>
<body>
<h1>Irrigation Node<span id="live-dot" class="live-dot pending" title="waiting"></span></h1>

<h2>Telemetry</h2>
<table>
<tr><th>Temperature</th><td><span id="temp">{{optional .Reading.Temp}}</span> &deg;C</td></tr>
<tr><th>Humidity</th><td><span id="hum">{{optional .Reading.Humidity}}</span> %</td></tr>
<tr><th>Soil moisture</th><td><span id="soil">{{.Reading.Soil}}</span> %</td></tr>
</table>

<h2>Pump</h2>
<table>
<tr><th>Pump</th><td class="{{if eq (stateOrUnknown (printf "%s" .Controller.State)) "RUNNING"}}on{{else if eq (stateOrUnknown (printf "%s" .Controller.State)) "IDLE"}}off{{else}}unknown{{end}}">{{stateOrUnknown (printf "%s" .Controller.State)}}</td></tr>
<tr><th>Automatic control</th><td>{{if .Controller.GateOpen}}enabled{{else}}warming up ({{uptime .Controller.WarmupElapsed}}){{end}}</td></tr>
<tr><th>Dry samples</th><td>{{.Controller.DrySamples}}</td></tr>
{{if .LastEvent}}<tr><th>Last event</th><td>{{.LastEvent.Type}} ({{.LastEvent.Reason}}) at {{.LastEvent.Timestamp.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>{{end}}
</table>

<h2>Pump Counts</h2>
<table>
<tr><th>Starts</th><td>{{.Controller.Counts.Starts}}</td></tr>
<tr><th>Wet stops</th><td>{{.Controller.Counts.WetStops}}</td></tr>
<tr><th>Timeout stops</th><td>{{.Controller.Counts.TimeoutStops}}</td></tr>
</table>

<h2>Connectivity</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{.Config.Broker}}</td></tr>
{{if .Network}}<tr><th>Network</th><td>{{.Network.Status}} ({{.Network.Type}}{{if .Network.SSID}}, {{.Network.SSID}}{{end}})</td></tr>
<tr><th>IP</th><td>{{.Network.IP}}</td></tr>{{end}}
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Poll</th><td>{{.Config.PollMs}}ms</td></tr>
<tr><th>Warm-up</th><td>{{.Config.WarmupMs}}ms</td></tr>
<tr><th>Heartbeat</th><td>{{if eq .Config.HeartbeatMs 0}}disabled{{else}}{{.Config.HeartbeatMs}}ms{{end}}</td></tr>
<tr><th>Sensors</th><td>{{.Config.SensorBackend}}</td></tr>
<tr><th>Relay pin</th><td>{{.Config.RelayPin}}</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPAddr}}</td></tr>
</table>

<p><a href="/index.json">JSON</a> | <a href="/data">data</a> | <a href="/metrics">metrics</a></p>
<script>
(function() {
  var dot = document.getElementById("live-dot");
  var tempEl = document.getElementById("temp");
  var humEl = document.getElementById("hum");
  var soilEl = document.getElementById("soil");

  function fmt(v) {
    return v === null || v === undefined ? "--" : Number(v).toFixed(1);
  }

  function setDot(cls, title) {
    dot.className = "live-dot " + cls;
    dot.title = title;
  }

  function refresh() {
    fetch("/data").then(function(r) {
      if (!r.ok) { throw new Error(r.status); }
      return r.json();
    }).then(function(d) {
      tempEl.textContent = fmt(d.temp);
      humEl.textContent = fmt(d.hum);
      soilEl.textContent = d.soil;
      setDot("ok", "live");
    }).catch(function() {
      setDot("err", "offline");
    });
  }

  setInterval(refresh, 3000);
})();
</script>
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
