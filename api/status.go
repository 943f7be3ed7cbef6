package api

import (
	"html/template"
	"net/http"
	"time"

	"go.uber.org/zap"

	"go-cloudtasks-emulator/model"
)

var statusTemplate = template.Must(template.New("index").Funcs(template.FuncMap{
	"ts": func(t *time.Time) string {
		if t == nil {
			return ""
		}
		return t.Format(time.RFC3339)
	},
	"status": func(a *model.Attempt) string {
		if a == nil {
			return ""
		}
		return http.StatusText(a.Status)
	},
}).Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Tasks</title>
<style>
body { font-family: sans-serif; margin: 2em; }
table { border-collapse: collapse; }
th, td { border: 1px solid #ccc; padding: 4px 8px; text-align: left; }
.SUCCEEDED { background: #e6ffe6; }
.EXHAUSTED { background: #ffe6e6; }
</style>
</head>
<body>
<h1>Tasks ({{len .}})</h1>
<table>
<tr>
<th>Name</th><th>Queue</th><th>State</th><th>Request</th><th>Created</th><th>Scheduled</th>
<th>Dispatches</th><th>Responses</th><th>First response</th><th>Last response</th><th>Completed</th><th>Last error</th>
</tr>
{{range .}}<tr class="{{.State}}">
<td>{{.ID}}</td>
<td>{{.QueueID}}</td>
<td>{{.State}}</td>
<td>{{.Request.Method}} {{.Host}}{{.Request.RelativeURI}}</td>
<td>{{.CreateTime.Format "2006-01-02T15:04:05Z07:00"}}</td>
<td>{{.ScheduleTime.Format "2006-01-02T15:04:05Z07:00"}}</td>
<td>{{.DispatchCount}}</td>
<td>{{.ResponseCount}}</td>
<td>{{with .FirstAttempt}}{{.Status}}{{end}} {{status .FirstAttempt}}</td>
<td>{{with .LastAttempt}}{{.Status}}{{end}} {{status .LastAttempt}}</td>
<td>{{ts .CompleteTime}}</td>
<td>{{.LastError}}</td>
</tr>
{{end}}</table>
</body>
</html>
`))

func (s *Server) statusPage(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := statusTemplate.Execute(w, s.tasks.Snapshot()); err != nil {
		s.logger.Warn("render status page", zap.Error(err))
	}
}
