package report

import "html/template"

var reportTemplate = template.Must(template.New("report").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>Run {{.RunID}}</title>
<style>
body { font-family: system-ui, sans-serif; margin: 2rem; color: #222; }
h1 { font-size: 1.4rem; }
h2 { font-size: 1.1rem; margin-top: 2rem; }
table { border-collapse: collapse; margin-top: 0.5rem; }
th, td { border: 1px solid #ccc; padding: 0.3rem 0.7rem; text-align: left; }
th { background: #f4f4f4; }
td.num { text-align: right; }
.muted { color: #777; font-size: 0.85rem; }
</style>
</head>
<body>
<h1>Run {{.RunID}}</h1>
<p class="muted">Generated {{.GeneratedAt}} &middot; {{.Total}} jobs</p>

<h2>Status</h2>
<table>
<tr><th>Status</th><th>Jobs</th></tr>
{{range .Statuses}}<tr><td>{{.Status}}</td><td class="num">{{.Count}}</td></tr>
{{end}}</table>

<h2>Algorithms</h2>
<table>
<tr><th>Algorithm</th><th>Jobs</th><th>Completed</th><th>Failed</th><th>Avg duration (s)</th><th>Avg F-score</th><th>Avg VF-score</th></tr>
{{range .Algos}}<tr><td>{{.Algo}}</td><td class="num">{{.Total}}</td><td class="num">{{.Completed}}</td><td class="num">{{.Failed}}</td><td class="num">{{.AvgDurationS}}</td><td class="num">{{.AvgFScore}}</td><td class="num">{{.AvgVFScore}}</td></tr>
{{end}}</table>

{{if .Failures}}
<h2>Failures</h2>
<table>
<tr><th>Job</th><th>Product</th><th>Variant</th><th>Algorithm</th><th>Error</th></tr>
{{range .Failures}}<tr><td>{{.JobID}}</td><td>{{.ProductID}}</td><td>{{.Variant}}</td><td>{{.Algo}}</td><td>{{.ErrorMsg}}</td></tr>
{{end}}</table>
{{end}}
</body>
</html>
`))
