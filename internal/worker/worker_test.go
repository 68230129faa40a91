package worker

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elifesciences/pubflow/internal/activity"
	"github.com/elifesciences/pubflow/internal/logging"
	"github.com/elifesciences/pubflow/internal/monitor"
	"github.com/elifesciences/pubflow/internal/swfclient"
)

// recordingClient wraps the in-memory backend and records the
// respond-completed/respond-failed calls the worker loop makes, so tests
// can assert outcome routing without inspecting backend internals.
type recordingClient struct {
	*swfclient.MemoryClient

	completedTokens []string
	completedResult map[string]any
	failedTokens    []string
	failedReasons   []string
	failedDetails   []string
}

func newRecordingClient() *recordingClient {
	return &recordingClient{MemoryClient: swfclient.NewMemoryClient()}
}

func (c *recordingClient) RespondActivityTaskCompleted(ctx context.Context, taskToken string, result map[string]any) error {
	c.completedTokens = append(c.completedTokens, taskToken)
	c.completedResult = result
	return nil
}

func (c *recordingClient) RespondActivityTaskFailed(ctx context.Context, taskToken, reason, details string) error {
	c.failedTokens = append(c.failedTokens, taskToken)
	c.failedReasons = append(c.failedReasons, reason)
	c.failedDetails = append(c.failedDetails, details)
	return nil
}

func testLogger() *logging.ContextLogger {
	return logging.NewContextLogger(logging.New(logging.Config{Level: "error"}), nil)
}

type stubActivity struct {
	name   string
	result activity.Result
	panics bool
}

func (s stubActivity) Name() string                      { return s.name }
func (s stubActivity) PrettyName() string                { return s.name }
func (s stubActivity) Defaults() swfclient.TimeoutPolicy { return activity.DefaultTimeouts() }
func (s stubActivity) Do(ctx context.Context, rt *activity.Runtime, payload map[string]any) activity.Result {
	if s.panics {
		panic("boom")
	}
	return s.result
}

func testSink() monitor.Sink {
	return monitor.NewFanout(testLogger(), nil, nil)
}

func newTestLoop(t *testing.T, client *recordingClient, a activity.Activity) *Loop {
	t.Helper()
	reg := activity.NewRegistry()
	reg.Register(a.Name(), func() activity.Activity { return a })
	return NewLoop(client, reg, "default", "worker-1", testLogger(), nil, nil, nil, testSink())
}

func TestProcess_Success_RespondsCompleted(t *testing.T) {
	client := newRecordingClient()
	a := stubActivity{name: "DepositCrossref", result: activity.Result{Outcome: activity.SUCCESS, Output: map[string]any{"doi": "10.7554/eLife.00777"}}}
	loop := newTestLoop(t, client, a)

	task := &swfclient.ActivityTask{TaskToken: "activity:wf1:deposit", ActivityType: "DepositCrossref", ActivityID: "deposit", Input: map[string]any{"run": "r1"}}
	loop.process(context.Background(), task)

	require.Len(t, client.completedTokens, 1)
	assert.Equal(t, "activity:wf1:deposit", client.completedTokens[0])
	assert.Equal(t, "10.7554/eLife.00777", client.completedResult["doi"])
	assert.Empty(t, client.failedTokens)
}

func TestProcess_TemporaryFailure_RespondsFailedWithTemporaryReason(t *testing.T) {
	client := newRecordingClient()
	a := stubActivity{name: "DepositCrossref", result: activity.Result{Outcome: activity.TEMPORARY_FAILURE, Detail: "connection reset"}}
	loop := newTestLoop(t, client, a)

	task := &swfclient.ActivityTask{TaskToken: "activity:wf1:deposit", ActivityType: "DepositCrossref"}
	loop.process(context.Background(), task)

	require.Len(t, client.failedTokens, 1)
	assert.Equal(t, "temporary", client.failedReasons[0])
	assert.Equal(t, "connection reset", client.failedDetails[0])
}

func TestProcess_PermanentFailure_RespondsFailedWithPermanentReason(t *testing.T) {
	client := newRecordingClient()
	a := stubActivity{name: "DepositCrossref", result: activity.Result{Outcome: activity.PERMANENT_FAILURE, Detail: "422 unprocessable"}}
	loop := newTestLoop(t, client, a)

	task := &swfclient.ActivityTask{TaskToken: "activity:wf1:deposit", ActivityType: "DepositCrossref"}
	loop.process(context.Background(), task)

	require.Len(t, client.failedTokens, 1)
	assert.Equal(t, "permanent", client.failedReasons[0])
}

func TestProcess_DeferredOutcome_NoResponse(t *testing.T) {
	client := newRecordingClient()
	a := stubActivity{name: "DepositCrossref", result: activity.Result{Outcome: activity.DEFERRED}}
	loop := newTestLoop(t, client, a)

	task := &swfclient.ActivityTask{TaskToken: "activity:wf1:deposit", ActivityType: "DepositCrossref"}
	loop.process(context.Background(), task)

	assert.Empty(t, client.completedTokens)
	assert.Empty(t, client.failedTokens)
}

func TestProcess_UnknownActivityType_RespondsPermanentFailure(t *testing.T) {
	client := newRecordingClient()
	reg := activity.NewRegistry()
	loop := NewLoop(client, reg, "default", "worker-1", testLogger(), nil, nil, nil, testSink())

	task := &swfclient.ActivityTask{TaskToken: "activity:wf1:deposit", ActivityType: "NoSuchActivity"}
	loop.process(context.Background(), task)

	require.Len(t, client.failedTokens, 1)
	assert.Equal(t, "permanent", client.failedReasons[0])
	assert.Contains(t, client.failedDetails[0], "NoSuchActivity")
}

func TestProcess_PanicRecoveredAsPermanentFailure(t *testing.T) {
	client := newRecordingClient()
	a := stubActivity{name: "DepositCrossref", panics: true}
	loop := newTestLoop(t, client, a)

	task := &swfclient.ActivityTask{TaskToken: "activity:wf1:deposit", ActivityType: "DepositCrossref"}
	assert.NotPanics(t, func() { loop.process(context.Background(), task) })

	require.Len(t, client.failedTokens, 1)
	assert.Equal(t, "permanent", client.failedReasons[0])
}
