// Package starter implements the starter family: each starter composes a
// workflow id from its trigger data and starts an execution on the
// backend, swallowing a duplicate-start error as a routine outcome rather
// than a reportable failure.
package starter

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/elifesciences/pubflow/internal/logging"
	"github.com/elifesciences/pubflow/internal/swfclient"
)

// Input is the trigger data a starter composes a workflow id and input
// from. FileName/Bucket are populated for file-triggered starters; Run is
// populated when the trigger already carries one (queue-worker routed
// notifications always do).
type Input struct {
	FileName string
	Bucket   string
	Run      string
	Extra    map[string]any
}

// Starter is the contract every named starter implements.
type Starter interface {
	Name() string
	WorkflowName() string
	// WorkflowID composes the execution id this starter's conditional-
	// start policy is keyed on.
	WorkflowID(in Input) string
	// WorkflowInput builds the input payload passed to the new execution.
	WorkflowInput(in Input) map[string]any
}

// Registry is the name→Starter map populated once at program start,
// replacing the module-level import-by-name dispatch of a starter module
// lookup.
type Registry struct {
	mu       sync.RWMutex
	starters map[string]Starter
}

func NewRegistry() *Registry {
	return &Registry{starters: make(map[string]Starter)}
}

func (r *Registry) Register(s Starter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.starters[s.Name()] = s
}

func (r *Registry) Lookup(name string) (Starter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.starters[name]
	return s, ok
}

// Start composes the workflow id/input from a Starter and in, and starts
// the execution on client. ErrAlreadyStarted is swallowed and logged: a
// duplicate start is the conditional-start policy working as intended, not
// a failure.
func Start(ctx context.Context, client swfclient.Client, s Starter, in Input, logger *logging.ContextLogger) error {
	workflowID := s.WorkflowID(in)
	input := s.WorkflowInput(in)

	logger = logger.WithFields(map[string]interface{}{
		"starter":     s.Name(),
		"workflow_id": workflowID,
	})

	err := client.StartWorkflowExecution(ctx, workflowID, s.WorkflowName(), "1", input)
	if err != nil {
		if errors.Is(err, swfclient.ErrAlreadyStarted) {
			logger.Info("starter: workflow already running, skipping")
			return nil
		}
		logger.WithError(err).Error("starter: start_workflow_execution failed")
		return fmt.Errorf("starter: start %s: %w", s.Name(), err)
	}

	logger.Info("starter: started workflow")
	return nil
}

// BaseNameWithoutExt strips a filename's extension and any directory
// components, the building block every file-triggered starter's workflow
// id composes with.
func BaseNameWithoutExt(fileName string) string {
	base := filepath.Base(fileName)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// FileTriggered composes a workflow id of
// "<WorkflowName>_<filename-sans-extension>[.<run>]", the convention every
// file-triggered starter in this family uses.
func FileTriggered(workflowName string, in Input) string {
	id := fmt.Sprintf("%s_%s", workflowName, BaseNameWithoutExt(in.FileName))
	if in.Run != "" {
		id = id + "." + in.Run
	}
	return id
}

// Singleton composes a workflow id equal to the workflow name itself, the
// convention cron-triggered starters use so the conditional-start policy
// enforces at most one concurrent execution.
func Singleton(workflowName string) string {
	return workflowName
}
