// Package report renders a finished load test run for humans and tools.
package report

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/alecthomas/chroma/v2/quick"
	"github.com/atotto/clipboard"
	"github.com/charmbracelet/lipgloss"
	"gopkg.in/yaml.v3"

	"github.com/studiowebux/kohaload/internal/check"
	"github.com/studiowebux/kohaload/internal/loadtest"
)

// Output formats
const (
	FormatText = "text"
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// ErrUnknownFormat is returned for an unsupported --format value
var ErrUnknownFormat = errors.New("unknown format")

// Document is everything reported about one run
type Document struct {
	Run    *loadtest.Run  `json:"run" yaml:"run"`
	Checks []check.Result `json:"checks" yaml:"checks"`
	VUs    []VUSummary    `json:"vus,omitempty" yaml:"vus,omitempty"`
}

// VUSummary aggregates the iterations one VU ran
type VUSummary struct {
	VU            int     `json:"vu" yaml:"vu"`
	Iterations    int     `json:"iterations" yaml:"iterations"`
	Failures      int     `json:"failures" yaml:"failures"`
	AvgDurationMs float64 `json:"avg_duration_ms" yaml:"avg_duration_ms"`
}

// Options control rendering
type Options struct {
	Format string
	Filter string // JMESPath filter applied before Query
	Query  string // JMESPath expression or $(shell command)
	Copy   bool   // also put the rendering on the clipboard
	// Color highlights JSON and YAML output; set it when writing to a terminal
	Color bool
}

// chroma formatter and style for terminal output
const (
	highlightFormatter = "terminal256"
	highlightStyle     = "monokai"
)

// Load assembles the document for runID from the database
func Load(manager *loadtest.Manager, runID int64) (*Document, error) {
	run, err := manager.GetRun(runID)
	if err != nil {
		return nil, fmt.Errorf("failed to load run %d: %w", runID, err)
	}
	checks, err := manager.GetCheckResults(runID)
	if err != nil {
		return nil, fmt.Errorf("failed to load checks of run %d: %w", runID, err)
	}
	iterations, err := manager.GetIterationMetrics(runID)
	if err != nil {
		return nil, fmt.Errorf("failed to load iterations of run %d: %w", runID, err)
	}
	return &Document{Run: run, Checks: checks, VUs: SummarizeVUs(iterations)}, nil
}

// SummarizeVUs groups iteration metrics by VU, ordered by VU number
func SummarizeVUs(iterations []*loadtest.IterationMetric) []VUSummary {
	byVU := map[int]*VUSummary{}
	totals := map[int]int64{}
	for _, it := range iterations {
		s, ok := byVU[it.VU]
		if !ok {
			s = &VUSummary{VU: it.VU}
			byVU[it.VU] = s
		}
		s.Iterations++
		if it.ErrorMessage != "" {
			s.Failures++
		}
		totals[it.VU] += it.DurationMs
	}

	out := make([]VUSummary, 0, len(byVU))
	for vu, s := range byVU {
		s.AvgDurationMs = float64(totals[vu]) / float64(s.Iterations)
		out = append(out, *s)
	}
	slices.SortFunc(out, func(a, b VUSummary) int { return a.VU - b.VU })
	return out
}

// Render writes doc to w in the requested format. The clipboard always
// receives the plain rendering.
func Render(w io.Writer, doc *Document, opts Options) error {
	out, err := Format(doc, opts)
	if err != nil {
		return err
	}
	if opts.Copy {
		if err := clipboard.WriteAll(out); err != nil {
			return fmt.Errorf("failed to copy to clipboard: %w", err)
		}
	}
	if lexer := highlightLexer(opts); opts.Color && lexer != "" {
		var colored strings.Builder
		if err := quick.Highlight(&colored, out, lexer, highlightFormatter, highlightStyle); err == nil {
			out = colored.String()
		}
	}
	_, err = io.WriteString(w, out)
	return err
}

// highlightLexer names the chroma lexer for the output opts produce
func highlightLexer(opts Options) string {
	if opts.Filter != "" || opts.Query != "" {
		if _, ok := ShellCommand(opts.Query); ok {
			return ""
		}
		return "json"
	}
	switch strings.ToLower(opts.Format) {
	case FormatJSON:
		return "json"
	case FormatYAML:
		return "yaml"
	}
	return ""
}

// Format renders doc to a string. A filter or query always yields JSON.
func Format(doc *Document, opts Options) (string, error) {
	if opts.Filter != "" || opts.Query != "" {
		out, err := Query(doc, opts.Filter, opts.Query)
		if err != nil {
			return "", err
		}
		return out + "\n", nil
	}

	switch strings.ToLower(opts.Format) {
	case "", FormatText:
		return Text(doc), nil
	case FormatJSON:
		data, err := json.MarshalIndent(doc, "", "  ")
		if err != nil {
			return "", err
		}
		return string(data) + "\n", nil
	case FormatYAML:
		data, err := yaml.Marshal(doc)
		if err != nil {
			return "", err
		}
		return string(data), nil
	default:
		return "", fmt.Errorf("%w %q (want text, json or yaml)", ErrUnknownFormat, opts.Format)
	}
}

var (
	colorGreen = lipgloss.AdaptiveColor{Light: "#006400", Dark: "#00ff00"}
	colorRed   = lipgloss.AdaptiveColor{Light: "#8b0000", Dark: "#ff0000"}
	colorGray  = lipgloss.AdaptiveColor{Light: "#555555", Dark: "#888888"}
	colorCyan  = lipgloss.AdaptiveColor{Light: "#008b8b", Dark: "#00ffff"}

	styleTitle   = lipgloss.NewStyle().Bold(true).Foreground(colorCyan)
	styleSuccess = lipgloss.NewStyle().Foreground(colorGreen)
	styleError   = lipgloss.NewStyle().Foreground(colorRed)
	styleSubtle  = lipgloss.NewStyle().Foreground(colorGray)
)

// Text renders the end-of-test summary
func Text(doc *Document) string {
	run := doc.Run
	var b strings.Builder

	b.WriteString(styleTitle.Render(fmt.Sprintf("Run #%d  %s", run.ID, run.ConfigName)) + "\n")
	b.WriteString(styleSubtle.Render(fmt.Sprintf("%s  %d VUs  started %s",
		run.StaffURL, run.VUs, run.StartedAt.Format("2006-01-02 15:04:05"))) + "\n")
	if run.CompletedAt != nil {
		b.WriteString(styleSubtle.Render("duration "+run.CompletedAt.Sub(run.StartedAt).Round(100*time.Millisecond).String()) + "\n")
	}
	b.WriteString("\n")

	if len(doc.Checks) > 0 {
		b.WriteString(styleTitle.Render("Checks") + "\n")
		for _, c := range doc.Checks {
			mark := styleSuccess.Render("✓")
			if c.Fails > 0 {
				mark = styleError.Render("✗")
			}
			line := fmt.Sprintf("  %s %s", mark, c.Name)
			if c.Fails > 0 {
				line += styleSubtle.Render(fmt.Sprintf("  %d%%  ✓ %d / ✗ %d", percent(c.Passes, c.Total()), c.Passes, c.Fails))
			}
			b.WriteString(line + "\n")
		}
		b.WriteString("\n")
	}

	checksLine := fmt.Sprintf("%.2f%%  ✓ %d  ✗ %d", run.ChecksRate*100, run.ChecksPassed, run.ChecksFailed)
	rows := [][2]string{
		{"status", statusText(run.Status)},
		{"checks", checksLine},
		{"iterations", fmt.Sprintf("%d/%d completed, %d failed", run.TotalIterationsCompleted, run.TotalIterationsSent, run.TotalFailures)},
		{"iteration_duration", fmt.Sprintf("avg=%.0fms min=%dms p(50)=%dms p(95)=%dms p(99)=%dms max=%dms",
			run.AvgDurationMs, run.MinDurationMs, run.P50DurationMs, run.P95DurationMs, run.P99DurationMs, run.MaxDurationMs)},
	}
	for _, r := range rows {
		b.WriteString(fmt.Sprintf("  %-20s %s\n", r[0]+"...", r[1]))
	}

	if len(doc.VUs) > 0 {
		b.WriteString("\n" + styleTitle.Render("Per VU") + "\n")
		for _, vu := range doc.VUs {
			b.WriteString(fmt.Sprintf("  vu %-4d %4d iterations  %3d failed  avg %.0fms\n",
				vu.VU, vu.Iterations, vu.Failures, vu.AvgDurationMs))
		}
	}

	b.WriteString("\n")
	if run.ThresholdsPassed {
		b.WriteString(styleSuccess.Render("thresholds passed") + "\n")
	} else {
		b.WriteString(styleError.Render("thresholds failed: "+strings.Join(run.FailedThresholds, ", ")) + "\n")
	}
	return b.String()
}

// RunsTable renders one line per run for `kohaload runs`
func RunsTable(runs []*loadtest.Run) string {
	if len(runs) == 0 {
		return "No load test runs found.\n"
	}
	var b strings.Builder
	b.WriteString(styleTitle.Render(fmt.Sprintf("%-6s %-10s %-20s %-17s %6s %8s %8s", "ID", "STATUS", "NAME", "STARTED", "ITERS", "CHECKS", "P95")) + "\n")
	for _, run := range runs {
		b.WriteString(fmt.Sprintf("%-6d %-10s %-20s %-17s %6d %7.1f%% %6dms\n",
			run.ID, statusIcon(run), truncate(run.ConfigName, 20), run.StartedAt.Format("2006-01-02 15:04"),
			run.TotalIterationsCompleted, run.ChecksRate*100, run.P95DurationMs))
	}
	return b.String()
}

// ConfigsTable renders one line per saved configuration
func ConfigsTable(configs []*loadtest.Config) string {
	if len(configs) == 0 {
		return "No saved configurations.\n"
	}
	var b strings.Builder
	b.WriteString(styleTitle.Render(fmt.Sprintf("%-6s %-20s %5s %8s %s", "ID", "NAME", "VUS", "ITERS", "STAFF URL")) + "\n")
	for _, c := range configs {
		b.WriteString(fmt.Sprintf("%-6d %-20s %5d %8d %s\n", c.ID, truncate(c.Name, 20), c.VUs, c.Iterations, c.StaffURL))
	}
	return b.String()
}

func statusIcon(run *loadtest.Run) string {
	switch {
	case run.Status == loadtest.StatusFailed:
		return "ERR"
	case run.Status == loadtest.StatusRunning:
		return "RUN"
	case !run.IsCompleted() || strings.HasPrefix(run.Status, loadtest.StatusCancelled):
		return "STOP"
	case !run.ThresholdsPassed:
		return "FAIL"
	}
	return "OK"
}

func statusText(status string) string {
	if status == loadtest.StatusCompleted {
		return styleSuccess.Render(status)
	}
	return styleError.Render(status)
}

func percent(part, total int) int {
	if total == 0 {
		return 0
	}
	return part * 100 / total
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}
