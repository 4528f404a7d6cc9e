package web

import (
	"fmt"
	"html/template"
	"io"
	"strings"
	"time"

	"github.com/sweeney/pinbus/internal/control"
	"github.com/sweeney/pinbus/internal/status"
)

// formatUptime renders d as "1d 2h 3m 4s", dropping leading zero units.
func formatUptime(d time.Duration) string {
	total := int64(d / time.Second)
	units := []struct {
		size   int64
		suffix string
	}{
		{86400, "d"}, {3600, "h"}, {60, "m"}, {1, "s"},
	}
	var parts []string
	for _, u := range units {
		n := total / u.size
		total %= u.size
		if n == 0 && len(parts) == 0 && u.size != 1 {
			continue
		}
		parts = append(parts, fmt.Sprintf("%d%s", n, u.suffix))
	}
	return strings.Join(parts, " ")
}

func valueClass(v control.Value) string {
	switch v {
	case control.True:
		return "on"
	case control.False:
		return "off"
	}
	return "unknown"
}

func stamp(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.UTC().Format(time.RFC3339)
}

var pageTmpl = template.Must(template.New("page").Funcs(template.FuncMap{
	"uptime":     formatUptime,
	"valueClass": valueClass,
	"stamp":      stamp,
}).Parse(pageHTML))

const pageHTML = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>pinbus {{.Node}}</title>
<style>
body { font: 14px/1.4 monospace; max-width: 760px; margin: 1.5em auto; padding: 0 1em; }
section { margin-bottom: 1.5em; }
table { width: 100%; border-collapse: collapse; }
th, td { padding: 3px 6px; text-align: left; border-bottom: 1px solid #e4e4e4; }
.on, .up { color: #1a7f37; font-weight: bold; }
.off { color: #777; }
.unknown { color: #b26b00; }
.down, .failed { color: #c62828; }
</style>
</head>
<body>
<h1>pinbus {{.Node}}</h1>

<section>
<h2>Controls {{if .Ready}}<small class="up">ready</small>{{else}}<small class="unknown">waiting for first reading</small>{{end}}</h2>
{{- if .Controls}}
<table>
<tr><th>Control</th><th>Pin</th><th>Edge</th><th>Value</th><th>Updates</th><th>Rose/fell</th><th>Last change</th></tr>
{{- range .Controls}}
<tr id="control-{{.Key}}"><td>{{.Name}}</td><td>{{.Pin}}</td><td>{{.Edge}}</td><td class="{{valueClass .Value}}">{{if .Supported}}{{.Value}}{{else}}unsupported{{end}}</td><td>{{.Updates}}</td><td>{{.Edges.Rose}}/{{.Edges.Fell}}</td><td>{{stamp .LastChange}}</td></tr>
{{- end}}
</table>
{{- else}}
<p>No controls configured.</p>
{{- end}}
</section>

<section>
<h2>Actions</h2>
{{- if .Actions}}
<table>
<tr><th>Action</th><th>Type</th><th>Triggers</th><th>Failures</th><th>Last trigger</th></tr>
{{- range .Actions}}
<tr id="action-{{.Key}}"><td>{{.Name}}</td><td>{{.Type}}</td><td>{{.Triggers}}</td><td{{if .Failures}} class="failed" title="{{.LastError}}"{{end}}>{{.Failures}}</td><td>{{stamp .LastTrigger}}</td></tr>
{{- end}}
</table>
{{- else}}
<p>No actions configured.</p>
{{- end}}
</section>

<section>
<h2>Node</h2>
<table>
<tr><th>Bus</th><td class="{{if .BusConnected}}up{{else}}down{{end}}">{{.Config.BusType}} {{if .BusConnected}}connected{{else}}disconnected{{end}}{{with .Config.Broker}} ({{.}}){{end}}</td></tr>
<tr><th>Topic</th><td>{{.Config.Topic}}</td></tr>
{{- with .Network}}
<tr><th>Network</th><td>{{.Status}} {{.Type}}{{with .SSID}} {{.}}{{end}} {{.IP}}</td></tr>
{{- end}}
<tr><th>Uptime</th><td>{{uptime .Uptime}} since {{stamp .StartTime}}</td></tr>
<tr><th>Poll / heartbeat</th><td>{{.Config.PollMs}}ms / {{if .Config.HeartbeatMs}}{{.Config.HeartbeatMs}}ms{{else}}off{{end}}</td></tr>
</table>
</section>

<p><a href="/index.json">index.json</a> | <a href="/metrics">metrics</a></p>
</body>
</html>
`

// renderHTML flattens the snapshot's derived values so the template can read
// them as fields.
func renderHTML(w io.Writer, snap status.Snapshot) error {
	return pageTmpl.Execute(w, struct {
		status.Snapshot
		Uptime time.Duration
		Ready  bool
	}{snap, snap.Uptime(), snap.Ready()})
}
