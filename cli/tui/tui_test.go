package tui

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/pithecene-io/packetline/adapter"
	"github.com/pithecene-io/packetline/breaker"
	"github.com/pithecene-io/packetline/dlq"
	"github.com/pithecene-io/packetline/metrics"
	"github.com/pithecene-io/packetline/pool"
)

func testSnapshot() adapter.Snapshot {
	snap := adapter.NewSnapshot("r-1", 3, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	snap.Pools = []pool.Stats{
		{Name: "parsing", Workers: 4, Active: 2, QueueDepth: 7, Utilization: 0.5},
		{Name: "storage", Workers: 2, Active: 0, Utilization: 0},
	}
	snap.Breaker = breaker.Snapshot{Name: "parser", State: breaker.StateOpen, Failures: 5, Threshold: 5, Rejected: 9}
	snap.DeadLetters = dlq.Stats{Size: 12}
	snap.Counters = metrics.Snapshot{
		PacketsIngested: 40,
		RecordsStored:   25,
		PacketsSkipped:  3,
		PacketsDetected: map[string]int64{"QUIC": 10, "WebSocket": 4},
	}
	return snap
}

func update(t *testing.T, m Model, msg tea.Msg) Model {
	t.Helper()
	next, _ := m.Update(msg)
	got, ok := next.(Model)
	if !ok {
		t.Fatalf("Update returned %T, want Model", next)
	}
	return got
}

func TestModel_WaitsForFirstSnapshot(t *testing.T) {
	view := NewModel().View()
	if !strings.Contains(view, "waiting for first report") {
		t.Errorf("initial view missing waiting line:\n%s", view)
	}
}

func TestModel_RendersSnapshot(t *testing.T) {
	m := update(t, NewModel(), SnapshotMsg(testSnapshot()))

	snap, ok := m.Snapshot()
	if !ok || snap.Seq != 3 {
		t.Fatalf("Snapshot() = %d, %v, want seq 3", snap.Seq, ok)
	}

	view := m.View()
	for _, want := range []string{"parsing", "2/4 active, 7 queued", "open", "5/5 failures", "QUIC", "WebSocket", "40", "12"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q:\n%s", want, view)
		}
	}
}

func TestModel_Done(t *testing.T) {
	m := update(t, NewModel(), DoneMsg{})
	if !m.Done() {
		t.Error("Done() = false after DoneMsg")
	}
	if !strings.Contains(m.View(), "run complete") {
		t.Errorf("view missing completion line:\n%s", m.View())
	}

	m = update(t, NewModel(), DoneMsg{Err: errors.New("stream truncated")})
	if !strings.Contains(m.View(), "run failed: stream truncated") {
		t.Errorf("view missing failure line:\n%s", m.View())
	}
}

func TestModel_QuitKey(t *testing.T) {
	next, cmd := NewModel().Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
	if cmd == nil {
		t.Fatal("q should return a quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("q command is not tea.Quit")
	}
	if view := next.View(); view != "" {
		t.Errorf("view after quit = %q, want empty", view)
	}
}

func TestModel_WindowResizeClampsBar(t *testing.T) {
	m := update(t, NewModel(), tea.WindowSizeMsg{Width: 12, Height: 40})
	if m.bar.Width != 10 {
		t.Errorf("bar width = %d, want 10", m.bar.Width)
	}
	m = update(t, m, tea.WindowSizeMsg{Width: 300, Height: 40})
	if m.bar.Width != barWidth {
		t.Errorf("bar width = %d, want %d", m.bar.Width, barWidth)
	}
}

func TestStateStyle(t *testing.T) {
	for _, state := range []breaker.State{breaker.StateClosed, breaker.StateOpen, breaker.StateHalfOpen} {
		if got := StateStyle(state.String()).Render("x"); !strings.Contains(got, "x") {
			t.Errorf("StateStyle(%s) rendered %q", state, got)
		}
	}
}

func TestProgram_NotifierFeedsView(t *testing.T) {
	var out bytes.Buffer
	p := NewProgram(tea.WithInput(nil), tea.WithOutput(&out))

	done := make(chan error, 1)
	go func() { done <- p.Run() }()

	if err := p.Notifier().Notify(t.Context(), testSnapshot()); err != nil {
		t.Fatalf("Notify failed: %v", err)
	}
	p.Finish(nil)
	p.Quit()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() = %v, want nil after Finish", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("program did not exit")
	}
}

func TestProgram_QuitBeforeFinish(t *testing.T) {
	p := NewProgram(tea.WithInput(nil), tea.WithOutput(&bytes.Buffer{}))

	done := make(chan error, 1)
	go func() { done <- p.Run() }()
	_ = p.Notifier().Notify(context.Background(), testSnapshot())
	p.Quit()

	select {
	case err := <-done:
		if !errors.Is(err, ErrQuit) {
			t.Errorf("Run() = %v, want ErrQuit", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("program did not exit")
	}
}
