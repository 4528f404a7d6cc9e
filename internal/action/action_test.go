package action

import (
	"context"
	"errors"
	"os/exec"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweeney/pinbus/internal/bus"
)

// fakeRunner records commands and returns a scripted result.
type fakeRunner struct {
	mu    sync.Mutex
	calls []Command
	err   error
	block chan struct{}
}

func (r *fakeRunner) Run(ctx context.Context, c Command) (Result, error) {
	r.mu.Lock()
	r.calls = append(r.calls, c)
	err := r.err
	block := r.block
	r.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return Result{Code: -1}, ctx.Err()
		}
	}
	var exit *ExitError
	if errors.As(err, &exit) {
		return Result{Code: exit.Code}, err
	}
	return Result{}, err
}

func (r *fakeRunner) Calls() []Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Command(nil), r.calls...)
}

func TestNewRequiresKey(t *testing.T) {
	_, err := New(Config{Type: TypeEvent, Action: "x"}, bus.NewRecorder(), nil, nil)
	assert.ErrorIs(t, err, ErrMissingKey)
}

func TestNewValidatesAction(t *testing.T) {
	_, err := New(Config{Key: "a", Type: TypeEvent}, bus.NewRecorder(), nil, nil)
	assert.ErrorIs(t, err, ErrMissingAction)

	_, err = New(Config{Key: "a", Type: TypeCommand, Action: map[string]any{"x": 1}}, nil, nil, nil)
	assert.ErrorIs(t, err, ErrMissingAction)

	_, err = New(Config{Key: "a", Type: TypeCommand, Action: "  "}, nil, nil, nil)
	assert.ErrorIs(t, err, ErrMissingAction)

	_, err = New(Config{Key: "a", Type: TypeCommand, Action: `echo "unterminated`}, nil, nil, nil)
	assert.Error(t, err)

	_, err = New(Config{Key: "a", Type: Type(9), Action: "x"}, nil, nil, nil)
	assert.ErrorIs(t, err, ErrUnknownType)
}

func TestNewDefaults(t *testing.T) {
	a, err := New(Config{Key: "Lights On", Action: map[string]any{"state": "on"}}, bus.NewRecorder(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "lights_on", a.Key())
	assert.Equal(t, "Lights On", a.Name())
	assert.Equal(t, TypeEvent, a.Type())
	assert.Equal(t, bus.DefaultTopic, a.Config().Topic)
}

func TestParseType(t *testing.T) {
	for in, want := range map[string]Type{"": TypeEvent, "event": TypeEvent, "Command": TypeCommand} {
		got, err := ParseType(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseType("webhook")
	assert.ErrorIs(t, err, ErrUnknownType)
}

func TestEventTriggerPublishesOnce(t *testing.T) {
	rec := bus.NewRecorder()
	a, err := New(Config{Key: "lights_on", Type: TypeEvent, Action: map[string]any{"state": "on"}, Topic: "lights"}, rec, nil, nil)
	require.NoError(t, err)

	require.NoError(t, a.Trigger(context.Background()))

	got := rec.Published()
	require.Len(t, got, 1)
	assert.Equal(t, "lights", got[0].Topic)
	assert.JSONEq(t, `{"state":"on"}`, string(got[0].Data))
}

func TestEventPayloadIgnoresValue(t *testing.T) {
	rec := bus.NewRecorder()
	a, err := New(Config{Key: "ping", Action: []any{1, "two"}}, rec, nil, nil)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, a.Trigger(ctx))
	require.NoError(t, a.TriggerValue(ctx, "x"))
	require.NoError(t, a.TriggerValue(ctx, map[string]any{"door": true}))
	require.NoError(t, a.TriggerValue(ctx, nil))

	got := rec.Published()
	require.Len(t, got, 4)
	for _, msg := range got[1:] {
		assert.Equal(t, got[0].Data, msg.Data)
	}
}

func TestEventPublishErrorSurfaces(t *testing.T) {
	rec := bus.NewRecorder()
	rec.SetPublishError(errors.New("offline"))
	a, err := New(Config{Key: "ping", Action: true}, rec, nil, nil)
	require.NoError(t, err)
	assert.Error(t, a.Trigger(context.Background()))
}

func TestCommandTriggerArgs(t *testing.T) {
	r := &fakeRunner{}
	a, err := New(Config{Key: "notify", Type: TypeCommand, Action: "/usr/local/bin/notify --now"}, nil, r, nil)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, a.TriggerValue(ctx, "x"))
	require.NoError(t, a.Trigger(ctx))

	calls := r.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, []string{`"x"`}, calls[0].Args)
	assert.Empty(t, calls[1].Args)

	argv, err := calls[0].Argv()
	require.NoError(t, err)
	assert.Equal(t, []string{"/usr/local/bin/notify", "--now", `"x"`}, argv)

	argv, err = calls[1].Argv()
	require.NoError(t, err)
	assert.Equal(t, []string{"/usr/local/bin/notify", "--now"}, argv)
}

func TestCommandValueIsOneArgument(t *testing.T) {
	r := &fakeRunner{}
	a, err := New(Config{Key: "notify", Type: TypeCommand, Action: "notify"}, nil, r, nil)
	require.NoError(t, err)

	require.NoError(t, a.TriggerValue(context.Background(), map[string]any{"a b": []int{1, 2}}))
	argv, err := r.Calls()[0].Argv()
	require.NoError(t, err)
	assert.Equal(t, []string{"notify", `{"a b":[1,2]}`}, argv)
}

func TestCommandShellArgv(t *testing.T) {
	c := Command{Template: "echo hi >> /tmp/log", Args: []string{`true`}, Shell: true}
	argv, err := c.Argv()
	require.NoError(t, err)
	assert.Equal(t, []string{"/bin/sh", "-c", "echo hi >> /tmp/log true"}, argv)

	_, err = Command{Template: "  ", Shell: true}.Argv()
	assert.ErrorIs(t, err, ErrEmptyCommand)
	_, err = Command{Template: ""}.Argv()
	assert.ErrorIs(t, err, ErrEmptyCommand)
}

func TestCommandExitErrorSurfaces(t *testing.T) {
	r := &fakeRunner{err: &ExitError{Code: 3}}
	a, err := New(Config{Key: "fail", Type: TypeCommand, Action: "false"}, nil, r, nil)
	require.NoError(t, err)

	err = a.Trigger(context.Background())
	var exit *ExitError
	require.ErrorAs(t, err, &exit)
	assert.Equal(t, 3, exit.Code)
	assert.Len(t, r.Calls(), 1, "no retry")
}

func TestCommandTimeout(t *testing.T) {
	r := &fakeRunner{block: make(chan struct{})}
	a, err := New(Config{Key: "slow", Type: TypeCommand, Action: "sleep 60", Timeout: 20 * time.Millisecond}, nil, r, nil)
	require.NoError(t, err)

	err = a.Trigger(context.Background())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestExecRunner(t *testing.T) {
	if _, err := exec.LookPath("/bin/sh"); err != nil {
		t.Skip("no /bin/sh")
	}
	ctx := context.Background()

	res, err := ExecRunner{}.Run(ctx, Command{Template: `printf %s`, Args: []string{`"x"`}, Shell: true})
	require.NoError(t, err)
	assert.Equal(t, "x", res.Output)

	res, err = ExecRunner{}.Run(ctx, Command{Template: `sh -c "exit 7"`})
	var exit *ExitError
	require.ErrorAs(t, err, &exit)
	assert.Equal(t, 7, exit.Code)
	assert.Equal(t, 7, res.Code)

	_, err = ExecRunner{}.Run(ctx, Command{Template: "/nonexistent/pinbus-test-binary"})
	assert.ErrorIs(t, err, ErrCommandFailed)
}

func TestLimitedBuffer(t *testing.T) {
	b := &limitedBuffer{max: 4}
	n, err := b.Write([]byte("abcdef"))
	require.NoError(t, err)
	assert.Equal(t, 6, n)
	_, _ = b.Write([]byte("gh"))
	assert.Equal(t, "abcd", b.String())
}
