package workflow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromYAML(t *testing.T) {
	data := []byte(`
workflows:
  - name: DepositCrossref
    default_execution_timeout: 3600000000000
    steps:
      - activity_type: DepositCrossref
        activity_id: deposit-crossref
        heartbeat_timeout: 30000000000
        schedule_to_start: 30000000000
        schedule_to_close: 1800000000000
        start_to_close: 900000000000
`)
	reg, err := LoadFromYAML(data)
	require.NoError(t, err)

	def, ok := reg.Lookup("DepositCrossref")
	require.True(t, ok)
	assert.Equal(t, time.Hour, def.DefaultExecutionTimeout)
	require.Len(t, def.Steps, 1)
	assert.Equal(t, "DepositCrossref", def.Steps[0].ActivityType)
	assert.Equal(t, 15*time.Minute, def.Steps[0].StartToClose)
}

func TestLoadFromYAML_MissingName(t *testing.T) {
	_, err := LoadFromYAML([]byte("workflows:\n  - steps: []\n"))
	assert.Error(t, err)
}

func TestDefinition_StepAt(t *testing.T) {
	def := Definition{Steps: []Step{{ActivityID: "a"}, {ActivityID: "b"}}}

	step, ok := def.StepAt(1)
	require.True(t, ok)
	assert.Equal(t, "b", step.ActivityID)

	_, ok = def.StepAt(2)
	assert.False(t, ok)
}

func TestRegistry_Lookup_Unknown(t *testing.T) {
	reg := NewRegistry()
	_, ok := reg.Lookup("nope")
	assert.False(t, ok)
}
