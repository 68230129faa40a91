package activity

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elifesciences/pubflow/internal/logging"
	"github.com/elifesciences/pubflow/internal/monitor"
	"github.com/elifesciences/pubflow/internal/swfclient"
)

type successActivity struct{}

func (successActivity) Name() string                      { return "Success" }
func (successActivity) PrettyName() string                { return "Success Activity" }
func (successActivity) Defaults() swfclient.TimeoutPolicy { return DefaultTimeouts() }
func (successActivity) Do(ctx context.Context, rt *Runtime, payload map[string]any) Result {
	return Result{Outcome: SUCCESS}
}

type panicActivity struct{}

func (panicActivity) Name() string                      { return "Panic" }
func (panicActivity) PrettyName() string                { return "Panic Activity" }
func (panicActivity) Defaults() swfclient.TimeoutPolicy { return DefaultTimeouts() }
func (panicActivity) Do(ctx context.Context, rt *Runtime, payload map[string]any) Result {
	panic("boom")
}

func TestRegistry_RegisterAndLookup(t *testing.T) {
	reg := NewRegistry()
	reg.Register("Success", func() Activity { return successActivity{} })

	a, ok := reg.Lookup("Success")
	require.True(t, ok)
	assert.Equal(t, "Success", a.Name())

	_, ok = reg.Lookup("Unknown")
	assert.False(t, ok)
}

func TestNewRuntime_CreatesAndRemovesDirs(t *testing.T) {
	logger := logging.NewContextLogger(logging.New(logging.Config{Level: "error"}), nil)
	rt, err := NewRuntime(nil, logger, nil, nil, nil, "run1", "activity1")
	require.NoError(t, err)

	_, err = os.Stat(rt.InputDir)
	require.NoError(t, err)
	_, err = os.Stat(rt.OutputDir)
	require.NoError(t, err)

	rt.Close()
	_, err = os.Stat(rt.TmpDir)
	assert.True(t, os.IsNotExist(err))
}

type recordingSink struct {
	phases []monitor.Phase
}

func (s *recordingSink) Emit(ctx context.Context, articleID, version, run, component string, phase monitor.Phase, message string) {
	s.phases = append(s.phases, phase)
}
func (s *recordingSink) SetProperty(ctx context.Context, articleID, key string, value any, typ string, version *string) {
}

func TestRunWithMonitorEvents_Success(t *testing.T) {
	sink := &recordingSink{}
	rt := &Runtime{Monitor: sink, Logger: logging.NewContextLogger(logging.New(logging.Config{Level: "error"}), nil)}

	result := RunWithMonitorEvents(context.Background(), successActivity{}, rt, nil)
	assert.Equal(t, SUCCESS, result.Outcome)
	assert.Equal(t, []monitor.Phase{monitor.PhaseStart, monitor.PhaseEnd}, sink.phases)
}

func TestRunWithMonitorEvents_RecoversPanic(t *testing.T) {
	sink := &recordingSink{}
	rt := &Runtime{Monitor: sink, Logger: logging.NewContextLogger(logging.New(logging.Config{Level: "error"}), nil)}

	result := RunWithMonitorEvents(context.Background(), panicActivity{}, rt, nil)
	assert.Equal(t, PERMANENT_FAILURE, result.Outcome)
	assert.Equal(t, []monitor.Phase{monitor.PhaseStart, monitor.PhaseError}, sink.phases)
}
