package live

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"boundq/internal/runner"
	"boundq/internal/tui/components"
	"boundq/internal/tui/styles"
)

const refresh = 200 * time.Millisecond

// Source is polled for live counters; *runner.Runner satisfies it.
type Source interface {
	Progress() runner.Progress
}

type tickMsg time.Time

// DoneMsg ends the program once the batch has returned.
type DoneMsg struct {
	Result *runner.Result
}

type Model struct {
	source Source
	cancel context.CancelFunc

	Stats  runner.Progress
	Bar    progress.Model
	Result *runner.Result

	RpsLine     components.Sparkline
	LatencyLine components.Sparkline

	LastUpdate    time.Time
	LastCompleted int64
	Stopping      bool

	Width int
}

// NewModel builds the view. cancel is invoked when the user presses q or ctrl+c.
func NewModel(src Source, cancel context.CancelFunc) Model {
	return Model{
		source:      src,
		cancel:      cancel,
		Bar:         progress.New(progress.WithDefaultGradient()),
		RpsLine:     components.NewSparkline(40, "Throughput (req/s)", styles.Active),
		LatencyLine: components.NewSparkline(40, "Latency P90 (ms)", styles.Warn),
		LastUpdate:  time.Now(),
	}
}

func tick() tea.Cmd {
	return tea.Tick(refresh, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m Model) Init() tea.Cmd {
	return tick()
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tickMsg:
		m = m.poll(time.Time(msg))
		return m, tick()

	case DoneMsg:
		m.Result = msg.Result
		m = m.poll(time.Now())
		return m, tea.Quit

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			// keep rendering until the batch drains
			if !m.Stopping && m.cancel != nil {
				m.cancel()
			}
			m.Stopping = true
		}
		return m, nil

	case tea.WindowSizeMsg:
		m.Width = msg.Width
		m.Bar.Width = max(msg.Width-8, 10)
		half := max(msg.Width/2-6, 10)
		m.RpsLine.Width = half
		m.LatencyLine.Width = half
		return m, nil
	}
	return m, nil
}

func (m Model) poll(now time.Time) Model {
	p := m.source.Progress()
	dt := max(now.Sub(m.LastUpdate).Seconds(), 0.01)

	m.RpsLine.Add(float64(p.Completed-m.LastCompleted) / dt)
	m.LatencyLine.Add(p.P90Ms)

	m.Stats = p
	m.LastCompleted = p.Completed
	m.LastUpdate = now
	return m
}

func (m Model) percent() float64 {
	if m.Stats.Total == 0 {
		return 1
	}
	return float64(m.Stats.Completed) / float64(m.Stats.Total)
}

func (m Model) View() string {
	s := strings.Builder{}
	p := m.Stats

	errRate := 0.0
	if p.Completed > 0 {
		errRate = float64(p.Failed) / float64(p.Completed) * 100
	}
	errColor := styles.Active
	if errRate > 5.0 {
		errColor = styles.Error
	} else if errRate > 1.0 {
		errColor = styles.Warn
	}

	col1 := fmt.Sprintf("DONE: %d/%d\nINF: %d (peak %d)", p.Completed, p.Total, p.Inflight, p.Peak)
	col2 := fmt.Sprintf("ERR: %.2f%%\nFAIL: %d", errRate, p.Failed)
	col3 := fmt.Sprintf("OK: %d\nTIME: %s", p.Succeeded, p.Elapsed.Round(100*time.Millisecond))

	s.WriteString(lipgloss.JoinHorizontal(lipgloss.Top,
		styles.Box.Render(col1),
		styles.Box.Render(errColor.Render(col2)),
		styles.Box.Render(col3),
	))
	s.WriteString("\n\n")

	s.WriteString(lipgloss.JoinHorizontal(lipgloss.Top,
		styles.Box.Render(m.RpsLine.View()),
		styles.Box.Render(m.LatencyLine.View()),
	))
	s.WriteString("\n\n")

	s.WriteString("  " + m.Bar.ViewAs(m.percent()))
	s.WriteString("\n\n")

	switch {
	case m.Result != nil:
		s.WriteString(styles.Success.Render("  Run finished"))
	case m.Stopping:
		s.WriteString(styles.Warn.Render(fmt.Sprintf("  Cancelling, draining %d in flight...", p.Inflight)))
	default:
		s.WriteString("  " + styles.RenderKey("q", "cancel run"))
	}
	s.WriteString("\n")
	return s.String()
}

// Run executes r under a full-screen live view and returns its result. Cancelling ctx
// closes the view at once; pressing q cancels the batch and waits for it to drain.
func Run(ctx context.Context, r *runner.Runner) (*runner.Result, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(NewModel(r, cancel), tea.WithContext(ctx))

	done := make(chan *runner.Result, 1)
	go func() {
		res := r.Run(runCtx)
		done <- res
		p.Send(DoneMsg{Result: res})
	}()

	if _, err := p.Run(); err != nil && ctx.Err() == nil {
		cancel()
		<-done
		return nil, fmt.Errorf("live view: %w", err)
	}
	return <-done, nil
}
