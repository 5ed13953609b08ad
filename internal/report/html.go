package report

import (
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/tobyv/tokentrail/internal/model"
)

// htmlDocument is the full report page. Styling is deliberately inline
// so the file is self-contained and viewable offline.
var htmlTmpl = template.Must(template.New("report").Funcs(template.FuncMap{
	"formatCount": FormatCount,
	"formatCost":  FormatCost,
	"pct":         func(part, total float64) string { return fmt.Sprintf("%.1f%%", percent(part, total)) },
	"barPx":       barPx,
	"barColor":    barColor,
}).Parse(`<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8"/>
  <meta name="viewport" content="width=device-width, initial-scale=1.0"/>
  <title>tokentrail LLM Cost Report</title>
  <style>
    body { font-family: 'Courier New', monospace; background: #f8f9fa; padding: 24px; color: #222; }
    h1 { font-size: 20px; margin-bottom: 4px; }
    h2 { font-size: 15px; margin-top: 0; }
    .subtitle { color: #666; font-size: 13px; margin-bottom: 24px; }
    .card { background: white; border-radius: 8px; padding: 20px; margin-bottom: 20px;
            box-shadow: 0 1px 4px rgba(0,0,0,0.08); }
    table { border-collapse: collapse; width: 100%; font-size: 13px; }
    th { text-align: left; padding: 8px 12px; background: #f0f0f0; border-bottom: 2px solid #ddd; }
    td { padding: 8px 12px; border-bottom: 1px solid #eee; }
    tr:hover td { background: #fafafa; }
    .fnrow { display: flex; align-items: center; gap: 8px; font-size: 13px; margin: 6px 0; }
    .fnname { width: 220px; overflow: hidden; text-overflow: ellipsis; white-space: nowrap; }
    .fnbar { height: 18px; border-radius: 3px; opacity: 0.85; }
  </style>
</head>
<body>
  <h1>tokentrail LLM Cost Report</h1>
  <div class="subtitle">
    Total: <strong>{{formatCost .Summary.TotalCostUSD}}</strong> &nbsp;|&nbsp;
    Tokens: <strong>{{formatCount .Summary.TotalTokens}}</strong> &nbsp;|&nbsp;
    Calls: <strong>{{.Summary.TotalCalls}}</strong>
  </div>

  <div class="card">
    <h2>Cost by Function</h2>
    {{range .Functions}}
    <div class="fnrow">
      <span class="fnname">{{.Name}}</span>
      <span class="fnbar" style="width: {{barPx .Cost $.Summary.TotalCostUSD}}px; background: {{barColor .Cost $.Summary.TotalCostUSD}};"></span>
      <span>{{formatCost .Cost}} ({{pct .Cost $.Summary.TotalCostUSD}})</span>
    </div>
    {{end}}
  </div>

  <div class="card">
    <h2>Breakdown by Model</h2>
    <table>
      <thead>
        <tr><th>Model</th><th>Cost (USD)</th><th>% of Total</th>
            <th>Input Tokens</th><th>Output Tokens</th></tr>
      </thead>
      <tbody>
        {{range .Models}}
        <tr><td>{{.Name}}</td><td>{{formatCost .Cost}}</td>
            <td>{{pct .Cost $.Summary.TotalCostUSD}}</td>
            <td>{{formatCount .InputTokens}}</td><td>{{formatCount .OutputTokens}}</td></tr>
        {{end}}
      </tbody>
    </table>
  </div>

  <div class="card">
    <h2>All Calls ({{.Summary.TotalCalls}})</h2>
    <table>
      <thead>
        <tr><th>#</th><th>Function</th><th>Model</th><th>Cost</th>
            <th>Tokens (in/out)</th><th>Duration</th></tr>
      </thead>
      <tbody>
        {{range .Summary.Events}}
        <tr><td>{{.Sequence}}</td><td>{{.FunctionName}}</td>
            <td>{{.Model}}</td><td>{{formatCost .CostUSD}}</td>
            <td>{{formatCount .InputTokens}} / {{formatCount .OutputTokens}}</td>
            <td>{{printf "%.0fms" .DurationMS}}</td></tr>
        {{end}}
      </tbody>
    </table>
  </div>
</body>
</html>
`))

type functionRow struct {
	Name string
	Cost float64
}

type modelRow struct {
	Name         string
	Cost         float64
	InputTokens  int64
	OutputTokens int64
}

type htmlData struct {
	Summary   model.Summary
	Functions []functionRow
	Models    []modelRow
}

// HTML renders the report document for the summary.
func HTML(s model.Summary) (string, error) {
	data := htmlData{Summary: s}

	for _, fn := range keysByCost(s.ByFunction) {
		data.Functions = append(data.Functions, functionRow{Name: fn, Cost: s.ByFunction[fn]})
	}

	byModel := make(map[string]*modelRow)
	for _, e := range s.Events {
		row, ok := byModel[e.Model]
		if !ok {
			row = &modelRow{Name: e.Model}
			byModel[e.Model] = row
		}
		row.Cost += e.CostUSD
		row.InputTokens += e.InputTokens
		row.OutputTokens += e.OutputTokens
	}
	for _, row := range byModel {
		data.Models = append(data.Models, *row)
	}
	sort.Slice(data.Models, func(i, j int) bool {
		if data.Models[i].Cost != data.Models[j].Cost {
			return data.Models[i].Cost > data.Models[j].Cost
		}
		return data.Models[i].Name < data.Models[j].Name
	})

	var b strings.Builder
	if err := htmlTmpl.Execute(&b, data); err != nil {
		return "", err
	}
	return b.String(), nil
}

// WriteHTML renders the report and writes it to path, creating missing
// parent directories.
func WriteHTML(s model.Summary, path string) error {
	doc, err := HTML(s)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, []byte(doc), 0644)
}

// barPx maps a cost share to a bar width in pixels.
func barPx(part, total float64) int {
	const maxWidth = 580
	if total <= 0 {
		return 0
	}
	return int(part / total * maxWidth)
}

// barColor shades a bar from green (cheap) to red (expensive).
func barColor(part, total float64) string {
	frac := 0.0
	if total > 0 {
		frac = part / total
	}
	switch {
	case frac > 0.5:
		return "#e74c3c"
	case frac > 0.25:
		return "#e67e22"
	case frac > 0.1:
		return "#f1c40f"
	default:
		return "#2ecc71"
	}
}
