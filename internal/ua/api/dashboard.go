package api

import (
	"fmt"
	"html/template"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"time"

	types "github.com/sebas/softphone/api/types/v1"
)

const dashboardHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta http-equiv="refresh" content="5">
<title>{{.Title}}</title>
</head>
<body>
<h1>{{.Title}}</h1>
<p>Node {{.NodeID}} · up {{.Uptime}}</p>
<h2>Account</h2>
{{if .Account}}<p>{{.Account.ID}} <b>{{.Account.State}}</b></p>{{else}}<p>No account</p>{{end}}
{{template "calls" .}}
</body>
</html>
{{define "calls"}}<h2>Calls ({{len .Calls}})</h2>
<table>
<tr><th>Call ID</th><th>Direction</th><th>State</th><th>Remote</th><th>Duration</th><th>Media</th></tr>
{{range .Calls}}<tr><td>{{.CallID}}</td><td>{{.Direction}}</td><td>{{.State}}</td><td>{{.RemoteURI}}</td><td>{{.Duration}}</td><td>{{.Media}}</td></tr>
{{else}}<tr><td colspan="6">No calls</td></tr>
{{end}}</table>{{end}}`

var dashboardTemplate = template.Must(template.New("dashboard").Parse(dashboardHTML))

// DashboardData holds data for rendering the dashboard
type DashboardData struct {
	Title   string
	NodeID  string
	Uptime  string
	Account *types.Account
	Calls   []CallRow
}

// CallRow holds one call for display
type CallRow struct {
	CallID    string
	Direction string
	State     string
	RemoteURI string
	Duration  string
	Media     string
}

// handleDashboard renders the status page
func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	s.render(w, "", s.buildDashboardData())
}

// handleCallsPartial renders only the calls table
func (s *Server) handleCallsPartial(w http.ResponseWriter, r *http.Request) {
	s.render(w, "calls", s.buildDashboardData())
}

func (s *Server) render(w http.ResponseWriter, name string, data DashboardData) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := renderDashboard(w, name, data); err != nil {
		slog.Error("[API] Failed to render dashboard", "error", err)
		http.Error(w, "Failed to render template", http.StatusInternalServerError)
	}
}

func renderDashboard(w io.Writer, name string, data DashboardData) error {
	if name == "" {
		return dashboardTemplate.Execute(w, data)
	}
	return dashboardTemplate.ExecuteTemplate(w, name, data)
}

func (s *Server) buildDashboardData() DashboardData {
	data := DashboardData{
		Title:  "Softphone",
		NodeID: s.opts.NodeID,
		Uptime: formatUptime(time.Since(s.startTime)),
		Calls:  make([]CallRow, 0),
	}
	if rs := s.phone.Account(); rs != nil {
		data.Account = &types.Account{ID: rs.ID(), State: rs.State().String()}
	}
	for _, cs := range s.phone.Directory().List() {
		c := toCall(cs)
		media := "-"
		switch {
		case c.Transmitting && c.Recording:
			media = "playing, recording"
		case c.Transmitting:
			media = "playing"
		case c.Recording:
			media = "recording"
		}
		data.Calls = append(data.Calls, CallRow{
			CallID:    c.CallID,
			Direction: c.Direction,
			State:     c.State,
			RemoteURI: c.RemoteURI,
			Duration:  formatDuration(c.Duration),
			Media:     media,
		})
	}
	sort.Slice(data.Calls, func(i, j int) bool { return data.Calls[i].CallID < data.Calls[j].CallID })
	return data
}

// formatUptime formats a duration for display
func formatUptime(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	mins := int(d.Minutes()) % 60
	secs := int(d.Seconds()) % 60

	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm", days, hours, mins)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm %ds", hours, mins, secs)
	}
	if mins > 0 {
		return fmt.Sprintf("%dm %ds", mins, secs)
	}
	return fmt.Sprintf("%ds", secs)
}

// formatDuration formats seconds for display
func formatDuration(seconds int) string {
	if seconds < 60 {
		return fmt.Sprintf("%ds", seconds)
	}
	if seconds < 3600 {
		return fmt.Sprintf("%dm %ds", seconds/60, seconds%60)
	}
	return fmt.Sprintf("%dh %dm %ds", seconds/3600, (seconds%3600)/60, seconds%60)
}
