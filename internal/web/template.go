package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/sweeney/irrigation-controller/internal/status"
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
	"opt": func(v *float64, unit string) string {
		if v == nil {
			return "n/a"
		}
		return fmt.Sprintf("%.1f%s", *v, unit)
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Irrigation Controller</title>
<style>
body { font-family: monospace; max-width: 600px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.on { color: green; font-weight: bold; }
.off { color: #888; }
.resting { color: orange; }
.fault { color: red; }
.connected { color: green; }
.disconnected { color: red; }
.live-dot { display: inline-block; width: 8px; height: 8px; border-radius: 50%; margin-left: 6px; vertical-align: middle; }
.live-dot.ok { background: green; }
.live-dot.err { background: red; }
.live-dot.pending { background: orange; }
</style>
</head>
<body>
<h1>Irrigation Controller<span id="live-dot" class="live-dot pending" title="connecting"></span></h1>

<h2>Soil</h2>
{{with .Latest}}
<table>
{{if .SoilUnknown}}
<tr><th>Moisture</th><td id="soil">n/a</td></tr>
<tr><th>Trend average</th><td id="soil-ma">n/a</td></tr>
<tr><th>Change</th><td id="delta">n/a</td></tr>
{{else}}
<tr><th>Moisture</th><td id="soil">{{printf "%.1f" .SoilPct}}%</td></tr>
<tr><th>Trend average</th><td id="soil-ma">{{printf "%.1f" .SoilMA}}%</td></tr>
<tr><th>Change</th><td id="delta">{{printf "%.2f" .DeltaSoil}}</td></tr>
{{end}}
<tr><th>ADC</th><td id="adc">{{.ADCMedian}}</td></tr>
<tr><th>Temperature</th><td id="temp">{{opt .Temperature " °C"}}</td></tr>
<tr><th>Humidity</th><td id="hum">{{opt .Humidity " %"}}</td></tr>
<tr><th>Sensor</th><td id="fault" class="{{if .SensorFault}}fault{{end}}">{{if .SensorFault}}fault{{else if .ClimateFault}}climate fault{{else}}ok{{end}}</td></tr>
</table>

<h2>Decision</h2>
<table>
<tr><th>Probability</th><td id="proba">{{printf "%.3f" .Probability}}</td></tr>
<tr><th>Reason</th><td id="reason">{{.Reason}}</td></tr>
<tr><th>Mode</th><td id="mode">{{.Mode}}{{if .Degraded}} (degraded){{end}}</td></tr>
<tr><th>Pump</th><td id="pump" class="{{if eq (printf "%s" .Phase) "ON"}}on{{else if eq (printf "%s" .Phase) "RESTING"}}resting{{else}}off{{end}}">{{.Phase}}</td></tr>
<tr><th>Run this hour</th><td id="run">{{.RunSecondsThisHour}}s</td></tr>
</table>

<h2>Event Counts</h2>
<table>
<tr><th>Pump ON</th><td>{{.Counts.PumpOn}}</td></tr>
<tr><th>Pump OFF</th><td>{{.Counts.PumpOff}}</td></tr>
<tr><th>Max-on cutoffs</th><td>{{.Counts.MaxOnCutoffs}}</td></tr>
<tr><th>Budget cutoffs</th><td>{{.Counts.BudgetCutoffs}}</td></tr>
</table>
{{else}}
<p>Waiting for the first cycle.</p>
{{end}}

<h2>Connectivity</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{if .Config.Broker}}{{.Config.Broker}}{{else}}disabled{{end}}</td></tr>
{{if .Network}}<tr><th>Network</th><td>{{.Network.Status}} ({{.Network.Type}}{{if .Network.SSID}}, {{.Network.SSID}}{{end}})</td></tr>
<tr><th>IP</th><td>{{.Network.IP}}</td></tr>{{end}}
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Session</th><td>{{.SessionID}}</td></tr>
<tr><th>Interval</th><td>{{.Config.IntervalMs}}ms</td></tr>
<tr><th>Threshold</th><td>{{.Config.Threshold}}</td></tr>
<tr><th>Emergency</th><td>{{.Config.EmergencyPct}}%</td></tr>
<tr><th>Max on</th><td>{{.Config.MaxOnSec}}s</td></tr>
<tr><th>Budget</th><td>{{.Config.MaxMinPerHour}} min/h</td></tr>
<tr><th>Relay</th><td>BCM {{.Config.RelayPin}}{{if .Config.ActiveHigh}} active-high{{else}} active-low{{end}}{{if .Config.DryRun}} (dry run){{end}}</td></tr>
</table>

<p><a href="/index.json">JSON</a></p>
<script>
(function() {
  var dot = document.getElementById("live-dot");
  function setDot(cls, title) { dot.className = "live-dot " + cls; dot.title = title; }
  function set(id, text) { var el = document.getElementById(id); if (el) el.textContent = text; }
  function opt(v, unit) { return v === null || v === undefined ? "n/a" : v.toFixed(1) + unit; }

  function connect() {
    var ws = new WebSocket((location.protocol === "https:" ? "wss://" : "ws://") + location.host + "/ws");
    ws.onopen = function() { setDot("ok", "live"); };
    ws.onclose = function() { setDot("err", "offline"); setTimeout(connect, 5000); };
    ws.onmessage = function(ev) {
      try {
        var s = JSON.parse(ev.data);
        set("soil", s.soil_unknown ? "n/a" : s.soil_pct.toFixed(1) + "%");
        set("soil-ma", s.soil_unknown ? "n/a" : s.soil_ma.toFixed(1) + "%");
        set("delta", s.soil_unknown ? "n/a" : s.delta_soil.toFixed(2));
        set("adc", s.adc_raw);
        set("temp", opt(s.temperature, " °C"));
        set("hum", opt(s.humidity, " %"));
        set("proba", s.proba.toFixed(3));
        set("reason", s.reason);
        set("mode", s.mode + (s.degraded ? " (degraded)" : ""));
        set("run", s.run_sec_this_hour + "s");
        var pump = document.getElementById("pump");
        if (pump) {
          pump.textContent = s.phase;
          pump.className = s.phase === "ON" ? "on" : s.phase === "RESTING" ? "resting" : "off";
        }
      } catch (e) {}
    };
  }
  connect();
})();
</script>
</body>
</html>
`

func renderHTML(w io.Writer, st status.Status) {
	// Status has an Uptime() method but the template needs a field.
	data := struct {
		status.Status
		Uptime time.Duration
	}{
		Status: st,
		Uptime: st.Uptime(),
	}
	indexTmpl.Execute(w, data)
}
