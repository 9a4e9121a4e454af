// Package gate implements the confirmation step between projects.
package gate

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/mattn/go-isatty"
	"go.uber.org/zap"

	"github.com/JakeFAU/bidboard-harvester/internal/bid"
)

// Mode selects when the operator is asked.
type Mode string

// Confirmation modes.
const (
	// ModeAlways asks after every project.
	ModeAlways Mode = "always"
	// ModeOnFailure asks only after a failed project.
	ModeOnFailure Mode = "on_failure"
	// ModeNever continues without asking.
	ModeNever Mode = "never"
)

// ParseMode validates a configured mode. Empty selects ModeAlways.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return ModeAlways, nil
	case ModeAlways, ModeOnFailure, ModeNever:
		return m, nil
	default:
		return "", fmt.Errorf("unknown confirmation mode %q", s)
	}
}

// Attended reports whether an operator can stop the run at the gate.
func (m Mode) Attended() bool {
	return m != ModeNever
}

// Config controls the terminal gate.
type Config struct {
	Mode Mode
	// DefaultAnswer is used when input is not a terminal.
	DefaultAnswer bool
}

// Terminal prompts on an interactive terminal. Input is read by a single
// goroutine started on the first prompt, so an answer typed after a canceled
// prompt is delivered to the next one.
type Terminal struct {
	in          *bufio.Reader
	out         io.Writer
	interactive bool
	cfg         Config
	logger      *zap.Logger

	readerOnce sync.Once
	lines      chan string
	readErr    error
}

// NewTerminal builds a gate reading from in. Prompts are only shown when in
// is a terminal; otherwise the configured default answer applies.
func NewTerminal(in *os.File, out io.Writer, cfg Config, logger *zap.Logger) *Terminal {
	fd := in.Fd()
	interactive := isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
	return New(in, out, interactive, cfg, logger)
}

// New builds a gate over arbitrary streams.
func New(in io.Reader, out io.Writer, interactive bool, cfg Config, logger *zap.Logger) *Terminal {
	if cfg.Mode == "" {
		cfg.Mode = ModeAlways
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Terminal{
		in:          bufio.NewReader(in),
		out:         out,
		interactive: interactive,
		cfg:         cfg,
		logger:      logger.Named("gate"),
		lines:       make(chan string),
	}
}

// Attended reports whether an operator will actually be asked: the mode
// prompts and input is a terminal.
func (t *Terminal) Attended() bool {
	return t.interactive && t.cfg.Mode.Attended()
}

// Confirm asks whether to continue. An empty answer means yes.
func (t *Terminal) Confirm(ctx context.Context, p bid.Prompt) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	switch {
	case t.cfg.Mode == ModeNever:
		return true, nil
	case t.cfg.Mode == ModeOnFailure && p.Succeeded:
		return true, nil
	case !t.interactive:
		t.logger.Info("no terminal attached, using default answer",
			zap.Bool("continue", t.cfg.DefaultAnswer), zap.Int("remaining", p.Remaining))
		return t.cfg.DefaultAnswer, nil
	}

	for {
		fmt.Fprint(t.out, describe(p))
		line, err := t.readLine(ctx)
		if err != nil {
			return false, err
		}
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "", "y", "yes":
			return true, nil
		case "n", "no", "q", "quit":
			return false, nil
		default:
			fmt.Fprintln(t.out, "Please answer y or n.")
		}
	}
}

func describe(p bid.Prompt) string {
	status := "completed"
	if !p.Succeeded {
		status = fmt.Sprintf("failed (%v)", p.Err)
	}
	return fmt.Sprintf("Project %s %s. %d remaining. Continue? [Y/n] ", p.Last, status, p.Remaining)
}

func (t *Terminal) readLine(ctx context.Context) (string, error) {
	t.readerOnce.Do(func() { go t.readLoop() })
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case line, ok := <-t.lines:
		if !ok {
			return "", fmt.Errorf("read answer: %w", t.readErr)
		}
		return line, nil
	}
}

// readLoop owns t.in. It closes t.lines after recording the read error.
func (t *Terminal) readLoop() {
	defer close(t.lines)
	for {
		line, err := t.in.ReadString('\n')
		if err == nil || line != "" {
			t.lines <- line
		}
		if err != nil {
			t.readErr = err
			return
		}
	}
}

// Auto answers every prompt the same way.
type Auto struct {
	Answer bool
}

// Confirm returns the fixed answer unless ctx is done.
func (a Auto) Confirm(ctx context.Context, _ bid.Prompt) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return a.Answer, nil
}
