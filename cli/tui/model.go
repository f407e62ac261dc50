package tui

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/pithecene-io/packetline/adapter"
)

// SnapshotMsg delivers a pipeline snapshot to the model.
type SnapshotMsg adapter.Snapshot

// DoneMsg reports that the run finished. Err is the run error, if any.
type DoneMsg struct {
	Err error
}

// keyMap defines key bindings.
type keyMap struct {
	Quit key.Binding
}

var keys = keyMap{
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
}

const barWidth = 30

// Model is the Bubble Tea model of the live pipeline view.
type Model struct {
	snap     adapter.Snapshot
	received bool
	bar      progress.Model

	done     bool
	err      error
	quitting bool
}

// NewModel creates an empty model waiting for its first snapshot.
func NewModel() Model {
	return Model{
		bar: progress.New(
			progress.WithDefaultGradient(),
			progress.WithWidth(barWidth),
		),
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.bar.Width = max(10, min(barWidth, msg.Width/3))
		return m, nil

	case tea.KeyMsg:
		if key.Matches(msg, keys.Quit) {
			m.quitting = true
			return m, tea.Quit
		}

	case SnapshotMsg:
		m.snap = adapter.Snapshot(msg)
		m.received = true
		return m, nil

	case DoneMsg:
		m.done = true
		m.err = msg.Err
		return m, nil
	}

	return m, nil
}

// Snapshot returns the last snapshot received.
func (m Model) Snapshot() (adapter.Snapshot, bool) {
	return m.snap, m.received
}

// Done reports whether the run has finished.
func (m Model) Done() bool {
	return m.done
}

// View implements tea.Model.
func (m Model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(TitleStyle.Render("packetline"))
	b.WriteString("\n")

	if !m.received {
		b.WriteString(LabelStyle.Render("waiting for first report..."))
		b.WriteString("\n")
	} else {
		b.WriteString(m.renderCounters())
		b.WriteString("\n\n")
		b.WriteString(m.renderPools())
		b.WriteString("\n")
		b.WriteString(m.renderBreaker())
		b.WriteString("\n")
		b.WriteString(m.renderProtocols())
	}

	b.WriteString(m.renderStatus())
	help := HelpStyle.Render("Press q or Ctrl+C to quit")
	return b.String() + "\n" + help
}

func (m Model) renderCounters() string {
	c := m.snap.Counters
	return lipgloss.JoinHorizontal(lipgloss.Top,
		renderStatBox("Ingested", c.PacketsIngested, highlightColor),
		renderStatBox("Stored", c.RecordsStored, successColor),
		renderStatBox("Skipped", c.PacketsSkipped, mutedColor),
		renderStatBox("Dead letters", int64(m.snap.DeadLetters.Size), errorColor),
	)
}

func renderStatBox(label string, value int64, color lipgloss.Color) string {
	content := StatLabelStyle.Render(label) + "\n" +
		StatValueStyle.Foreground(color).Render(fmt.Sprintf("%d", value))
	return StatBoxStyle.BorderForeground(color).Render(content)
}

func (m Model) renderPools() string {
	var b strings.Builder
	b.WriteString(SectionStyle.Render("Pools"))
	b.WriteString("\n")
	for _, p := range m.snap.Pools {
		fmt.Fprintf(&b, "%s %s %s\n",
			LabelStyle.Render(p.Name),
			m.bar.ViewAs(p.Utilization),
			ValueStyle.Render(fmt.Sprintf("%d/%d active, %d queued", p.Active, p.Workers, p.QueueDepth)),
		)
	}
	return b.String()
}

func (m Model) renderBreaker() string {
	br := m.snap.Breaker
	state := br.State.String()
	return fmt.Sprintf("%s %s %s\n",
		LabelStyle.Render("Breaker "+br.Name),
		StateStyle(state).Render(state),
		ValueStyle.Render(fmt.Sprintf("(%d/%d failures, %d rejected)", br.Failures, br.Threshold, br.Rejected)),
	)
}

func (m Model) renderProtocols() string {
	detected := m.snap.Counters.PacketsDetected
	if len(detected) == 0 {
		return ""
	}
	names := make([]string, 0, len(detected))
	for name := range detected {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString(SectionStyle.Render("Protocols"))
	b.WriteString("\n")
	for _, name := range names {
		fmt.Fprintf(&b, "%s %s\n", LabelStyle.Render(name), ValueStyle.Render(fmt.Sprintf("%d", detected[name])))
	}
	return b.String()
}

func (m Model) renderStatus() string {
	switch {
	case m.err != nil:
		return "\n" + ErrorStyle.Render("run failed: "+m.err.Error())
	case m.done:
		return "\n" + SuccessStyle.Render("run complete")
	default:
		return ""
	}
}
