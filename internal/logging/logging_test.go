package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureLogger(cfg Config) (*logrus.Logger, *bytes.Buffer) {
	logger := New(cfg)
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	return logger, &buf
}

func TestNew_LevelParsing(t *testing.T) {
	assert.Equal(t, logrus.DebugLevel, New(Config{Level: "debug"}).Level)
	assert.Equal(t, logrus.WarnLevel, New(Config{Level: "warn"}).Level)
	assert.Equal(t, logrus.ErrorLevel, New(Config{Level: "error"}).Level)
	assert.Equal(t, logrus.InfoLevel, New(Config{Level: "unknown"}).Level)
}

func TestNew_JSONFormat(t *testing.T) {
	logger, buf := captureLogger(Config{Level: "info", Format: "json"})
	logger.Info("hello")

	var parsed map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &parsed))
	assert.Equal(t, "hello", parsed["msg"])
}

func TestContextLogger_WithFieldsAccumulates(t *testing.T) {
	logger, buf := captureLogger(Config{Level: "info", Format: "json"})
	cl := NewContextLogger(logger, map[string]interface{}{"component": "deposit"})
	cl = cl.WithField("run", "run1")
	cl.Info("working")

	var parsed map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &parsed))
	assert.Equal(t, "deposit", parsed["component"])
	assert.Equal(t, "run1", parsed["run"])
}

func TestContextLogger_WithFields_DoesNotMutateParent(t *testing.T) {
	logger, _ := captureLogger(Config{Level: "info"})
	parent := NewContextLogger(logger, map[string]interface{}{"component": "deposit"})
	child := parent.WithField("run", "run1")

	assert.NotContains(t, parent.fields, "run")
	assert.Contains(t, child.fields, "run")
}

func TestContextLogger_WithError(t *testing.T) {
	logger, buf := captureLogger(Config{Level: "info", Format: "json"})
	cl := NewContextLogger(logger, nil)
	cl.WithError(assertErr{}).Error("failed")

	var parsed map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &parsed))
	assert.Equal(t, "boom", parsed["error"])
}

type assertErr struct{}

func (assertErr) Error() string { return "boom" }

func TestRecover_CapturesPanic(t *testing.T) {
	logger, _ := captureLogger(Config{Level: "error"})
	cl := NewContextLogger(logger, nil)

	recovered, msg := func() (recovered bool, msg string) {
		defer func() {
			recovered, msg = Recover(cl)
		}()
		panic("boom")
	}()

	assert.True(t, recovered)
	assert.Equal(t, "boom", msg)
}

func TestRecover_NoPanicReturnsFalse(t *testing.T) {
	logger, _ := captureLogger(Config{Level: "error"})
	cl := NewContextLogger(logger, nil)

	recovered, msg := func() (recovered bool, msg string) {
		defer func() {
			recovered, msg = Recover(cl)
		}()
		return false, ""
	}()

	assert.False(t, recovered)
	assert.Empty(t, msg)
}

func TestWithRunContext_OmitsEmptyFields(t *testing.T) {
	logger, _ := captureLogger(Config{Level: "info"})
	cl := NewContextLogger(logger, nil)

	withRun := WithRunContext(nil, cl, "run1", "", "")
	assert.Equal(t, "run1", withRun.fields["run"])
	assert.NotContains(t, withRun.fields, "article_id")
	assert.NotContains(t, withRun.fields, "version")
}
