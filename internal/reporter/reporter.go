// Package reporter renders run results for humans: a static HTML status
// page per target date and a plain-text summary suitable for a notification
// body.
package reporter

import (
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"frontpipe/internal/models"
	"frontpipe/pkg/errors"
)

// now is stubbed in tests.
var now = time.Now

// badgeColors maps each status to the badge color on the status page.
var badgeColors = map[models.Status]string{
	models.StatusSaved:     "#2e7d32",
	models.StatusPending:   "#616161",
	models.StatusFound:     "#0277bd",
	models.StatusWrongDate: "#c62828",
	models.StatusFailed:    "#c62828",
	models.StatusManual:    "#6a1b9a",
}

// statusOrder fixes the display order of the summary counts.
var statusOrder = []models.Status{
	models.StatusSaved,
	models.StatusFound,
	models.StatusPending,
	models.StatusWrongDate,
	models.StatusFailed,
	models.StatusManual,
}

// CountByStatus tallies rows per status.
func CountByStatus(rows []*models.FeedRow) map[models.Status]int {
	counts := make(map[models.Status]int)
	for _, row := range rows {
		counts[row.Status]++
	}
	return counts
}

type pageRow struct {
	Counterparty string
	Stream       string
	Channel      string
	Status       string
	Badge        string
	Note         string
	SavedPaths   string
	LastEvent    string
}

type pageData struct {
	TargetDate  string
	GeneratedAt string
	Summary     []summaryCell
	Rows        []pageRow
}

type summaryCell struct {
	Status string
	Count  int
	Badge  string
}

var pageTemplate = template.Must(template.New("status").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Feed status {{.TargetDate}}</title>
<style>
body { font-family: -apple-system, Segoe UI, sans-serif; margin: 2em; color: #212121; }
table { border-collapse: collapse; width: 100%; }
th, td { text-align: left; padding: 6px 10px; border-bottom: 1px solid #e0e0e0; }
th { background: #fafafa; }
.badge { color: #fff; border-radius: 3px; padding: 2px 8px; font-size: 0.85em; }
.summary span { margin-right: 1em; }
</style>
</head>
<body>
<h1>Feed status for {{.TargetDate}}</h1>
<p>Generated at {{.GeneratedAt}}</p>
<p class="summary">
{{- range .Summary}}
<span><span class="badge" style="background:{{.Badge}}">{{.Status}}</span> {{.Count}}</span>
{{- end}}
</p>
<table>
<tr><th>Counterparty</th><th>Stream</th><th>Channel</th><th>Status</th><th>Note</th><th>Saved</th><th>Last event</th></tr>
{{- range .Rows}}
<tr>
<td>{{.Counterparty}}</td>
<td>{{.Stream}}</td>
<td>{{.Channel}}</td>
<td><span class="badge" style="background:{{.Badge}}">{{.Status}}</span></td>
<td>{{.Note}}</td>
<td>{{.SavedPaths}}</td>
<td>{{.LastEvent}}</td>
</tr>
{{- end}}
</table>
</body>
</html>
`))

func buildPageData(targetDate string, rows []*models.FeedRow) pageData {
	data := pageData{
		TargetDate:  targetDate,
		GeneratedAt: now().UTC().Format(time.RFC3339),
	}

	counts := CountByStatus(rows)
	for _, status := range statusOrder {
		if counts[status] == 0 {
			continue
		}
		data.Summary = append(data.Summary, summaryCell{
			Status: status.String(),
			Count:  counts[status],
			Badge:  badgeColors[status],
		})
	}

	sorted := make([]*models.FeedRow, len(rows))
	copy(sorted, rows)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Counterparty != sorted[j].Counterparty {
			return sorted[i].Counterparty < sorted[j].Counterparty
		}
		return sorted[i].Stream < sorted[j].Stream
	})
	for _, row := range sorted {
		data.Rows = append(data.Rows, pageRow{
			Counterparty: row.Counterparty,
			Stream:       row.Stream,
			Channel:      string(row.Channel),
			Status:       row.Status.String(),
			Badge:        badgeColors[row.Status],
			Note:         row.RowNote,
			SavedPaths:   row.SavedPathDisplay(),
			LastEvent:    row.LastEventTS,
		})
	}
	return data
}

// WriteStatusPage renders the rows into <dir>/status_<date>.html and returns
// the written path.
func WriteStatusPage(dir, targetDate string, rows []*models.FeedRow) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.StateError(errors.CodeStateSaveFailed, dir, err)
	}

	data := buildPageData(targetDate, rows)

	path := filepath.Join(dir, fmt.Sprintf("status_%s.html", targetDate))
	f, err := os.Create(path)
	if err != nil {
		return "", errors.StateError(errors.CodeStateSaveFailed, path, err)
	}
	if err := pageTemplate.Execute(f, data); err != nil {
		f.Close()
		return "", errors.StateError(errors.CodeStateSaveFailed, path, err)
	}
	if err := f.Close(); err != nil {
		return "", errors.StateError(errors.CodeStateSaveFailed, path, err)
	}
	return path, nil
}

// BuildEmailBody renders a plain-text run summary: counts first, then the
// rows still needing attention.
func BuildEmailBody(targetDate string, rows []*models.FeedRow) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Feed status for %s\n\n", targetDate)

	counts := CountByStatus(rows)
	for _, status := range statusOrder {
		if counts[status] == 0 {
			continue
		}
		fmt.Fprintf(&b, "  %-10s %d\n", status.String(), counts[status])
	}

	var open []*models.FeedRow
	for _, row := range rows {
		if row.Status == models.StatusSaved || row.Status == models.StatusManual {
			continue
		}
		open = append(open, row)
	}
	if len(open) > 0 {
		b.WriteString("\nOutstanding:\n")
		for _, row := range open {
			fmt.Fprintf(&b, "  %s [%s]", row.Key(), row.Status)
			if row.RowNote != "" {
				fmt.Fprintf(&b, " %s", row.RowNote)
			}
			b.WriteString("\n")
		}
	}
	return b.String()
}

// emailTemplate keeps all styling inline so mail clients render it.
var emailTemplate = template.Must(template.New("email").Parse(`<html>
<body style="font-family: sans-serif; color: #212121;">
<h2 style="margin-bottom: 4px;">Feed status for {{.TargetDate}}</h2>
<p style="color: #757575; margin-top: 0;">Generated at {{.GeneratedAt}}</p>
<p>
{{- range .Summary}}
<span style="background:{{.Badge}}; color:#fff; border-radius:3px; padding:2px 8px;">{{.Status}} {{.Count}}</span>
{{- end}}
</p>
<table style="border-collapse: collapse;" cellpadding="6">
<tr style="background:#fafafa;"><th align="left">Counterparty</th><th align="left">Stream</th><th align="left">Status</th><th align="left">Note</th></tr>
{{- range .Rows}}
<tr>
<td>{{.Counterparty}}</td>
<td>{{.Stream}}</td>
<td><span style="background:{{.Badge}}; color:#fff; border-radius:3px; padding:2px 8px;">{{.Status}}</span></td>
<td>{{.Note}}</td>
</tr>
{{- end}}
</table>
</body>
</html>
`))

// BuildEmailHTML renders the run summary as an HTML mail body.
func BuildEmailHTML(targetDate string, rows []*models.FeedRow) (string, error) {
	var b strings.Builder
	if err := emailTemplate.Execute(&b, buildPageData(targetDate, rows)); err != nil {
		return "", errors.StateError(errors.CodeStateSaveFailed, targetDate, err)
	}
	return b.String(), nil
}
