/*Package arduino drives the goniometer's stepper controller, an Arduino running
a line-oriented serial protocol at 9600 8N1.

Telegrams are ASCII and end with '\n':

	LIGHT_AZ:<deg>     move an axis to an absolute angle
	DET_RAD:OFFSET     park an axis
	RESET              reset the controller

The controller answers each telegram with one line.  Lines beginning with ERR
are failures.
*/
package arduino

import (
	"context"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/optlab/bsdfbench/comm"
	"github.com/optlab/bsdfbench/motion"
)

// AckError is generated when the controller rejects a telegram or answers
// with nothing
type AckError struct {
	Cmd  string
	Resp string
}

// Error satisfies the error interface
func (e *AckError) Error() string {
	if e.Resp == "" {
		return "arduino: no acknowledgment for " + e.Cmd
	}
	return "arduino: " + e.Cmd + " rejected: " + e.Resp
}

// Config holds the link and timing parameters
type Config struct {
	Addr   string `koanf:"addr" yaml:"addr"`
	Serial bool   `koanf:"serial" yaml:"serial"`
	Baud   int    `koanf:"baud" yaml:"baud"`

	// Settle is the time waited after each acknowledged move
	Settle time.Duration `koanf:"settle" yaml:"settle"`

	// Spacing is the minimum time between telegrams
	Spacing time.Duration `koanf:"spacing" yaml:"spacing"`

	// ReadAck is true when the firmware answers each telegram.  Without it
	// the Settle delay is the only synchronization.
	ReadAck bool `koanf:"readAck" yaml:"readAck"`
}

// DefaultConfig is the controller on its usual port
func DefaultConfig() Config {
	return Config{
		Addr:    "/dev/ttyACM0",
		Serial:  true,
		Baud:    9600,
		Settle:  2 * time.Second,
		Spacing: 50 * time.Millisecond,
		ReadAck: true,
	}
}

// Stage is a motion.Stage backed by the controller
type Stage struct {
	*comm.RemoteDevice

	cfg     Config
	limiter *rate.Limiter
}

// New returns a new Stage.  The link is opened lazily on the first command.
func New(cfg Config) *Stage {
	rd := comm.NewRemoteDevice(cfg.Addr, cfg.Serial, cfg.Baud)
	// the controller reboots when the port opens, give it time to come up
	rd.OpenTimeout = 5 * time.Second
	var lim *rate.Limiter
	if cfg.Spacing > 0 {
		lim = rate.NewLimiter(rate.Every(cfg.Spacing), 1)
	} else {
		lim = rate.NewLimiter(rate.Inf, 1)
	}
	return &Stage{RemoteDevice: rd, cfg: cfg, limiter: lim}
}

func (s *Stage) exec(ctx context.Context, cmd string) (string, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return "", err
	}
	if err := s.Open(); err != nil {
		return "", err
	}
	if !s.cfg.ReadAck {
		return "", s.Send([]byte(cmd))
	}
	resp, err := s.SendRecv([]byte(cmd))
	if err != nil {
		return "", err
	}
	ack := strings.TrimSpace(string(resp))
	if ack == "" || strings.HasPrefix(strings.ToUpper(ack), "ERR") {
		return ack, &AckError{Cmd: cmd, Resp: ack}
	}
	return ack, nil
}

func (s *Stage) settle(ctx context.Context) error {
	if s.cfg.Settle <= 0 {
		return nil
	}
	t := time.NewTimer(s.cfg.Settle)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// MoveAbs satisfies motion.Stage
func (s *Stage) MoveAbs(ctx context.Context, a motion.Axis, deg float64) (string, error) {
	ack, err := s.exec(ctx, motion.MoveCommand(a, deg))
	if err != nil {
		return ack, err
	}
	return ack, s.settle(ctx)
}

// Offset satisfies motion.Stage
func (s *Stage) Offset(ctx context.Context, a motion.Axis) error {
	if _, err := s.exec(ctx, motion.OffsetCommand(a)); err != nil {
		return err
	}
	return s.settle(ctx)
}

// Reset satisfies motion.Stage
func (s *Stage) Reset(ctx context.Context) error {
	_, err := s.exec(ctx, motion.ResetCommand)
	return err
}
