package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/studiowebux/kohaload/internal/loadtest"
)

const (
	// PollInterval is how often the view samples the executor
	PollInterval = 100 * time.Millisecond

	ModalWidthMarginNarrow = 10 // horizontal margin around the modal
	MaxModalWidth          = 90
	barWidth               = 40
)

// Source is the running load test the view observes
type Source interface {
	GetStats() *loadtest.Stats
	GetRun() *loadtest.Run
	IsExecutionComplete() bool
	Stop()
}

// Message types
type progressMsg struct{}
type completedMsg struct{}
type stoppedMsg struct{}

// Model renders the progress of one run
type Model struct {
	source   Source
	title    string
	bar      progress.Model
	width    int
	height   int
	stopping bool
	done     bool
	now      func() time.Time
}

// NewModel creates a progress view for source
func NewModel(source Source, title string) Model {
	bar := progress.New(progress.WithSolidFill(string(colorCyan.Dark)), progress.WithoutPercentage())
	bar.Width = barWidth
	return Model{
		source: source,
		title:  title,
		bar:    bar,
		now:    time.Now,
	}
}

// Stopping reports whether the user asked to cancel the run
func (m Model) Stopping() bool {
	return m.stopping
}

// Done reports whether the view has finished
func (m Model) Done() bool {
	return m.done
}

func (m Model) Init() tea.Cmd {
	return m.poll()
}

// poll schedules the next sample of the executor
func (m Model) poll() tea.Cmd {
	source := m.source
	return tea.Tick(PollInterval, func(time.Time) tea.Msg {
		if source.IsExecutionComplete() {
			return completedMsg{}
		}
		return progressMsg{}
	})
}

func stopCmd(source Source) tea.Cmd {
	return func() tea.Msg {
		source.Stop()
		return stoppedMsg{}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.bar.Width = min(barWidth, max(10, m.modalWidth()-8))
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			if m.stopping {
				return m, nil
			}
			m.stopping = true
			return m, stopCmd(m.source)
		}
		return m, nil

	case progressMsg:
		return m, m.poll()

	case completedMsg:
		// A cancelled executor reports complete before its VUs return
		if m.stopping {
			return m, m.poll()
		}
		m.done = true
		return m, tea.Quit

	case stoppedMsg:
		m.done = true
		return m, tea.Quit
	}
	return m, nil
}

func (m Model) modalWidth() int {
	if m.width == 0 {
		return MaxModalWidth
	}
	return min(MaxModalWidth, m.width-ModalWidthMarginNarrow)
}

func (m Model) View() string {
	stats := m.source.GetStats()
	run := m.source.GetRun()
	elapsed := m.now().Sub(run.StartedAt)

	var content strings.Builder

	title := m.title + " - Running"
	if m.stopping {
		title = m.title + " - Stopping"
	}
	content.WriteString(styleTitle.Render(title) + "\n")
	content.WriteString(styleSubtle.Render(fmt.Sprintf("%s  run #%d  %d VUs", run.StaffURL, run.ID, run.VUs)) + "\n\n")

	progressPct := stats.Progress()
	content.WriteString(styleTitleFocused.Render("Progress") + "\n")
	content.WriteString(fmt.Sprintf("%d/%d iterations (%.1f%%)\n", stats.CompletedIterations, stats.TotalIterations, progressPct))
	content.WriteString(m.bar.ViewAs(progressPct/100) + "\n")

	content.WriteString(fmt.Sprintf("Elapsed: %s\n", formatDuration(elapsed)))
	content.WriteString(fmt.Sprintf("Active VUs: %d\n", stats.ActiveVUs))

	if m.stopping {
		stoppingMsg := fmt.Sprintf("Waiting for %d active VUs to finish...", stats.ActiveVUs)
		content.WriteString(styleWarning.Render(stoppingMsg) + "\n")
	}
	content.WriteString("\n")

	content.WriteString(styleTitleFocused.Render("Statistics") + "\n")

	leftCol := []string{
		fmt.Sprintf("Success:    %d", stats.SuccessCount),
		fmt.Sprintf("Failures:   %d", stats.FailureCount),
		fmt.Sprintf("Avg:        %.0fms", stats.AvgDurationMs()),
		fmt.Sprintf("Min:        %dms", stats.Min()),
	}
	rightCol := []string{
		fmt.Sprintf("Max:        %dms", stats.Max()),
		fmt.Sprintf("P50:        %dms", stats.P50()),
		fmt.Sprintf("P95:        %dms", stats.P95()),
		fmt.Sprintf("P99:        %dms", stats.P99()),
	}
	for i := range leftCol {
		content.WriteString(fmt.Sprintf("%-25s%s\n", leftCol[i], rightCol[i]))
	}

	checksLine := fmt.Sprintf("Checks: %.2f%%  ✓ %d  ✗ %d", stats.ChecksRate()*100, stats.ChecksPassed, stats.ChecksFailed)
	if stats.ChecksFailed > 0 {
		content.WriteString("\n" + styleError.Render(checksLine) + "\n")
	} else {
		content.WriteString("\n" + styleSuccess.Render(checksLine) + "\n")
	}

	ips := 0.0
	if elapsed.Seconds() > 0 {
		ips = float64(stats.CompletedIterations) / elapsed.Seconds()
	}
	content.WriteString(fmt.Sprintf("Iterations/sec: %.2f\n", ips))

	content.WriteString("\n")
	footer := "ESC/q: Cancel test"
	if m.stopping {
		footer = "Stopping test gracefully... please wait"
	}
	content.WriteString(styleSubtle.Render(footer))

	modalStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(colorCyan).
		Padding(1, 2).
		Width(m.modalWidth())

	if m.width == 0 || m.height == 0 {
		return modalStyle.Render(content.String())
	}
	return lipgloss.Place(
		m.width,
		m.height,
		lipgloss.Center,
		lipgloss.Center,
		modalStyle.Render(content.String()),
	)
}

// Run shows the progress view until source completes or the user stops it
func Run(source Source, title string, opts ...tea.ProgramOption) error {
	_, err := tea.NewProgram(NewModel(source, title), append([]tea.ProgramOption{tea.WithAltScreen()}, opts...)...).Run()
	return err
}

// formatDuration formats a duration for display
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	minutes := int(d.Minutes())
	seconds := int(d.Seconds()) % 60
	return fmt.Sprintf("%dm %ds", minutes, seconds)
}
