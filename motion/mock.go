package motion

import (
	"context"
	"sync"
)

// Mock is a Stage that records every command it receives.  It is safe for
// concurrent use.
type Mock struct {
	// Fail, if not nil, is consulted with each telegram before it is
	// executed.  A non-nil return fails the command.
	Fail func(cmd string) error

	// OnMove, if not nil, is called after each successful move
	OnMove func(a Axis, pos float64)

	mu   sync.Mutex
	cmds []string
	pos  map[Axis]float64
}

// NewMock returns a mock stage with all axes at zero
func NewMock() *Mock {
	return &Mock{pos: make(map[Axis]float64)}
}

func (m *Mock) exec(cmd string) error {
	if m.Fail != nil {
		if err := m.Fail(cmd); err != nil {
			return err
		}
	}
	m.mu.Lock()
	m.cmds = append(m.cmds, cmd)
	m.mu.Unlock()
	return nil
}

// MoveAbs satisfies Stage
func (m *Mock) MoveAbs(ctx context.Context, a Axis, pos float64) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	cmd := MoveCommand(a, pos)
	if err := m.exec(cmd); err != nil {
		return "", err
	}
	m.mu.Lock()
	if m.pos == nil {
		m.pos = make(map[Axis]float64)
	}
	m.pos[a] = pos
	m.mu.Unlock()
	if m.OnMove != nil {
		m.OnMove(a, pos)
	}
	return "OK " + cmd, nil
}

// Offset satisfies Stage.  The park position of the mock is zero.
func (m *Mock) Offset(ctx context.Context, a Axis) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := m.exec(OffsetCommand(a)); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pos != nil {
		m.pos[a] = 0
	}
	return nil
}

// Reset satisfies Stage
func (m *Mock) Reset(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := m.exec(ResetCommand); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pos = make(map[Axis]float64)
	return nil
}

// Commands returns a copy of every telegram executed so far
func (m *Mock) Commands() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.cmds...)
}

// GetPos returns the last commanded position of an axis
func (m *Mock) GetPos(a Axis) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pos[a]
}
