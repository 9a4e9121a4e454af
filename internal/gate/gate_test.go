package gate

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/bidboard-harvester/internal/bid"
)

func TestParseMode(t *testing.T) {
	t.Parallel()

	for in, want := range map[string]Mode{"": ModeAlways, "ALWAYS": ModeAlways, "on_failure": ModeOnFailure, " never ": ModeNever} {
		got, err := ParseMode(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseMode("sometimes")
	require.Error(t, err)
	assert.False(t, ModeNever.Attended())
	assert.True(t, ModeOnFailure.Attended())
}

func TestTerminalAnswers(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
		want  bool
	}{
		{name: "enter continues", input: "\n", want: true},
		{name: "yes", input: "Y\n", want: true},
		{name: "no", input: "n\n", want: false},
		{name: "quit", input: "quit\n", want: false},
		{name: "reprompts on garbage", input: "maybe\nno\n", want: false},
		{name: "answer without newline", input: "y", want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var out bytes.Buffer
			g := New(strings.NewReader(tt.input), &out, true, Config{}, zap.NewNop())
			got, err := g.Confirm(context.Background(), bid.Prompt{Last: "P100", Succeeded: true, Remaining: 2})
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Contains(t, out.String(), "Project P100 completed. 2 remaining. Continue? [Y/n]")
		})
	}
}

func TestTerminalShowsFailure(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	g := New(strings.NewReader("\n"), &out, true, Config{}, nil)
	_, err := g.Confirm(context.Background(), bid.Prompt{Last: "P7", Err: errors.New("boom"), Remaining: 1})
	require.NoError(t, err)
	assert.Contains(t, out.String(), "Project P7 failed (boom)")
}

func TestTerminalModes(t *testing.T) {
	t.Parallel()

	never := New(strings.NewReader(""), io.Discard, true, Config{Mode: ModeNever}, nil)
	ok, err := never.Confirm(context.Background(), bid.Prompt{Err: errors.New("x")})
	require.NoError(t, err)
	assert.True(t, ok)

	onFailure := New(strings.NewReader("n\n"), io.Discard, true, Config{Mode: ModeOnFailure}, nil)
	ok, err = onFailure.Confirm(context.Background(), bid.Prompt{Succeeded: true})
	require.NoError(t, err)
	assert.True(t, ok, "successful projects are not confirmed")
	ok, err = onFailure.Confirm(context.Background(), bid.Prompt{Err: errors.New("x")})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTerminalNonInteractiveUsesDefault(t *testing.T) {
	t.Parallel()

	g := New(strings.NewReader("y\n"), io.Discard, false, Config{DefaultAnswer: false}, nil)
	ok, err := g.Confirm(context.Background(), bid.Prompt{Succeeded: true})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTerminalEOFIsAnError(t *testing.T) {
	t.Parallel()

	g := New(strings.NewReader(""), io.Discard, true, Config{}, nil)
	_, err := g.Confirm(context.Background(), bid.Prompt{Succeeded: true})
	require.ErrorIs(t, err, io.EOF)
}

func TestTerminalHonoursCanceledContext(t *testing.T) {
	t.Parallel()

	pr, pw := io.Pipe()
	defer pw.Close()
	g := New(pr, io.Discard, true, Config{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := g.Confirm(ctx, bid.Prompt{Succeeded: true})
	require.ErrorIs(t, err, context.Canceled)
}

func TestTerminalAnswerAfterCanceledPromptGoesToNextPrompt(t *testing.T) {
	t.Parallel()

	pr, pw := io.Pipe()
	defer pw.Close()
	g := New(pr, io.Discard, true, Config{}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := g.Confirm(ctx, bid.Prompt{Succeeded: true})
	require.ErrorIs(t, err, context.DeadlineExceeded)

	go func() { _, _ = pw.Write([]byte("n\n")) }()
	ok, err := g.Confirm(context.Background(), bid.Prompt{Succeeded: true})
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, pw.Close())
	_, err = g.Confirm(context.Background(), bid.Prompt{Succeeded: true})
	require.ErrorIs(t, err, io.EOF)
}

func TestTerminalAttended(t *testing.T) {
	t.Parallel()

	assert.True(t, New(strings.NewReader(""), io.Discard, true, Config{Mode: ModeAlways}, nil).Attended())
	assert.True(t, New(strings.NewReader(""), io.Discard, true, Config{Mode: ModeOnFailure}, nil).Attended())
	assert.False(t, New(strings.NewReader(""), io.Discard, true, Config{Mode: ModeNever}, nil).Attended())
	assert.False(t, New(strings.NewReader(""), io.Discard, false, Config{Mode: ModeAlways}, nil).Attended())
}

func TestAuto(t *testing.T) {
	t.Parallel()

	ok, err := Auto{Answer: true}.Confirm(context.Background(), bid.Prompt{})
	require.NoError(t, err)
	assert.True(t, ok)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Auto{Answer: true}.Confirm(ctx, bid.Prompt{})
	require.ErrorIs(t, err, context.Canceled)
}
