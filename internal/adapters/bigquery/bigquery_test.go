package bigquery

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// NewSink/InsertEvent need a live BigQuery client and are not exercised
// here; EventRow.Save is the pure row-shaping logic and is what the
// Inserter actually calls.
func TestEventRow_Save(t *testing.T) {
	now := time.Now()
	row := EventRow{
		ArticleID:  "elife-00777",
		Version:    "2",
		Run:        "run1",
		Component:  "Deposit Crossref",
		Phase:      "start",
		Message:    "starting",
		OccurredAt: now,
	}

	values, insertID, err := row.Save()

	require.NoError(t, err)
	assert.Empty(t, insertID)
	assert.Equal(t, "elife-00777", values["article_id"])
	assert.Equal(t, "start", values["phase"])
	assert.Equal(t, now, values["occurred_at"])
}
