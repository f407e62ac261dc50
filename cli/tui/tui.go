package tui

import (
	"context"
	"errors"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/pithecene-io/packetline/adapter"
)

// ErrQuit is returned by Program.Run when the user quit before the run
// finished.
var ErrQuit = errors.New("tui: quit by user")

// Program runs the live view.
type Program struct {
	p *tea.Program
}

// NewProgram creates the live view program.
func NewProgram(opts ...tea.ProgramOption) *Program {
	return &Program{p: tea.NewProgram(NewModel(), opts...)}
}

// Notifier returns a notifier that forwards every snapshot to the view.
// Send blocks until the program is running, so start Run first.
func (p *Program) Notifier() adapter.Notifier {
	return adapter.Func(func(_ context.Context, snap adapter.Snapshot) error {
		p.p.Send(SnapshotMsg(snap))
		return nil
	})
}

// Finish tells the view the run ended with err.
func (p *Program) Finish(err error) {
	p.p.Send(DoneMsg{Err: err})
}

// Run blocks until the user quits. Returns ErrQuit when the user left
// before Finish was called.
func (p *Program) Run() error {
	final, err := p.p.Run()
	if err != nil {
		return err
	}
	if m, ok := final.(Model); ok && !m.Done() {
		return ErrQuit
	}
	return nil
}

// Quit stops the program.
func (p *Program) Quit() {
	p.p.Quit()
}
