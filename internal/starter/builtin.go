package starter

import (
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/elifesciences/pubflow/internal/articleinfo"
)

// DepositCrossrefStarter is the cron-triggered starter for the batch
// outbox-deposit pipeline. It is a singleton: its fixed workflow id makes a
// start while a run is still open fail as a duplicate, so runs never
// overlap; the schedule table's minimum-interval guard only spaces runs out.
type DepositCrossrefStarter struct{}

func (DepositCrossrefStarter) Name() string            { return "DepositCrossrefStarter" }
func (DepositCrossrefStarter) WorkflowName() string    { return "DepositCrossref" }
func (DepositCrossrefStarter) WorkflowID(Input) string { return Singleton("DepositCrossref") }

func (DepositCrossrefStarter) WorkflowInput(in Input) map[string]any {
	run := in.Run
	if run == "" {
		run = uuid.NewString()
	}
	return map[string]any{"run": run}
}

var _ Starter = DepositCrossrefStarter{}

// IngestDigestStarter is the file-triggered starter for the gated-ingest
// pipeline, invoked by the Queue Worker when a digest JSON notification
// matches its routing rule. It derives the article identity from the
// triggering file name; status and run-type, normally resolved by an
// upstream metadata lookup this single-activity exemplar does not carry,
// are inferred from conventional markers in the key itself.
type IngestDigestStarter struct{}

func (IngestDigestStarter) Name() string         { return "IngestDigestToEndpoint" }
func (IngestDigestStarter) WorkflowName() string { return "IngestDigestToEndpoint" }

func (IngestDigestStarter) WorkflowID(in Input) string {
	return FileTriggered("IngestDigestToEndpoint", in)
}

func (IngestDigestStarter) WorkflowInput(in Input) map[string]any {
	articleID := articleinfo.StripVersionSuffix(BaseNameWithoutExt(in.FileName))
	version := "1"
	status := "vor"
	runType := ""

	if info, err := articleinfo.Parse(in.FileName); err == nil {
		articleID = info.Prefix + info.ID
		if info.Version > 0 {
			version = strconv.Itoa(info.Version)
		}
	}

	lower := strings.ToLower(in.FileName)
	if strings.Contains(lower, "poa") {
		status = "poa"
	}
	if strings.Contains(lower, "silent") {
		runType = "silent-correction"
	}

	return map[string]any{
		"run":        in.Run,
		"bucket":     in.Bucket,
		"file_name":  in.FileName,
		"article_id": articleID,
		"version":    version,
		"status":     status,
		"run_type":   runType,
	}
}

var _ Starter = IngestDigestStarter{}
