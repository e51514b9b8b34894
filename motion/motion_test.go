package motion_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/optlab/bsdfbench/motion"
)

func ExampleMoveCommand() {
	fmt.Println(motion.MoveCommand(motion.DetectorRadial, 12.5))
	fmt.Println(motion.MoveCommand(motion.LightAzimuthal, 8))
	fmt.Println(motion.OffsetCommand(motion.DetectorAzimuthal))
	// Output:
	// DET_RAD:12.5
	// LIGHT_AZ:8
	// DET_AZ:OFFSET
}

func TestMockRecordsCommands(t *testing.T) {
	m := motion.NewMock()
	ctx := context.Background()
	if _, err := m.MoveAbs(ctx, motion.LightRadial, 10); err != nil {
		t.Fatal(err)
	}
	if err := m.Offset(ctx, motion.DetectorRadial); err != nil {
		t.Fatal(err)
	}
	if err := m.Reset(ctx); err != nil {
		t.Fatal(err)
	}
	want := []string{"LIGHT_RAD:10", "DET_RAD:OFFSET", "RESET"}
	if diff := cmp.Diff(want, m.Commands()); diff != "" {
		t.Errorf("commands (-want +got):\n%s", diff)
	}
}

func TestMockFailureInjection(t *testing.T) {
	boom := errors.New("stall")
	m := motion.NewMock()
	m.Fail = func(cmd string) error {
		if cmd == "DET_AZ:20" {
			return boom
		}
		return nil
	}
	_, err := m.MoveAbs(context.Background(), motion.DetectorAzimuthal, 20)
	if !errors.Is(err, boom) {
		t.Errorf("expected injected failure, got %v", err)
	}
	if len(m.Commands()) != 0 {
		t.Error("failed command should not be recorded")
	}
}

func TestLimitedRefusesOutOfRangeMoves(t *testing.T) {
	m := motion.NewMock()
	l := motion.Limited{Stage: m, Limits: motion.Limits{motion.DetectorRadial: {Min: 0, Max: 180}}}
	ctx := context.Background()
	_, err := l.MoveAbs(ctx, motion.DetectorRadial, 190)
	var lerr motion.LimitError
	if !errors.As(err, &lerr) || lerr.Axis != motion.DetectorRadial {
		t.Errorf("expected LimitError, got %v", err)
	}
	if _, err := l.MoveAbs(ctx, motion.LightAzimuthal, 355); err != nil {
		t.Errorf("unlimited axis refused: %v", err)
	}
	if got := m.Commands(); len(got) != 1 {
		t.Errorf("expected one command to reach the stage, got %v", got)
	}
}

func TestParseAxis(t *testing.T) {
	a, err := motion.ParseAxis("det_rad")
	if err != nil || a != motion.DetectorRadial {
		t.Errorf("got %v, %v", a, err)
	}
	if _, err := motion.ParseAxis("Z"); err == nil {
		t.Error("expected error for unknown axis")
	}
}
