// Package iteration implements the Iteration State Machine (spec.md
// §4.E): the single-threaded per-instance sequence that drives a
// ProjectInstance from QUEUED through INITIALIZING, the iteration loop of
// Discriminator/Translator worker passes, and into COMPLETED, STOPPED, or
// ERROR.
package iteration

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/ternarybob/actor/internal/logger"
	"github.com/ternarybob/actor/pkg/monitor"
	"github.com/ternarybob/actor/pkg/state"
	"github.com/ternarybob/actor/pkg/workers"
	"github.com/ternarybob/actor/pkg/workspace"
)

// PauseInterval is how often a paused instance re-checks its control flags
// (spec.md §4.E: "pause spins with 1 s sleeps").
const PauseInterval = time.Second

// worker is the subset of *workers.Worker the Machine depends on, accepted
// as an interface so tests can drive the state machine without shelling
// out to make/cargo/testcmp.sh.
type worker interface {
	Run(ctx context.Context, projectName string, iteration, previousTestCount int, logDir string) workers.Result
}

// Machine drives one ProjectInstance's lifecycle against its workspace.
// It is single-threaded: the scheduler runs at most one Machine per
// instance at a time.
type Machine struct {
	Instance      *state.ProjectInstance
	Store         *state.Store
	Workspace     *workspace.Workspace
	Translator    worker
	Discriminator worker

	InputDir   string // source tree seeded into c_files/ at INITIALIZING
	BackupRoot string // backup_root/<project_instance>/

	// Monitor, when set, receives phase-transition/backup/error events for
	// the live HTTP/SSE view (pkg/monitor). Left nil, Run is unaffected.
	Monitor monitor.Emitter

	pauseInterval time.Duration
}

// New builds a Machine ready to Run. Callers that restored the instance
// via the Continuation/Fork Manager set Instance.CurrentIteration > 0
// before calling Run, which skips iteration 0 entirely.
func New(instance *state.ProjectInstance, store *state.Store, ws *workspace.Workspace, translator, discriminator *workers.Worker, inputDir, backupRoot string) *Machine {
	return &Machine{
		Instance:      instance,
		Store:         store,
		Workspace:     ws,
		Translator:    translator,
		Discriminator: discriminator,
		InputDir:      inputDir,
		BackupRoot:    backupRoot,
		pauseInterval: PauseInterval,
	}
}

// Run executes the transition diagram of spec.md §4.E to completion,
// persisting state after every phase boundary. It never panics out to the
// caller: any captured error is recorded on the instance and returned, and
// Instance.Status is left ERROR (spec.md §7 propagation rule — "the
// scheduler never crashes because one instance fails").
func (m *Machine) Run(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = m.fail(fmt.Errorf("panic: %v", r))
		}
	}()

	log := logger.GetLogger()

	if m.Instance.CurrentIteration == 0 {
		if m.stopped(ctx) {
			return nil
		}

		m.transition(state.StatusInitializing, "create workspace, seed from input")
		if errs := m.Workspace.InitFromInput(m.InputDir); len(errs) > 0 {
			return m.fail(fmt.Errorf("initialize workspace: %w", errs[0]))
		}

		if m.stopped(ctx) {
			return nil
		}

		m.transition(state.StatusTranslating, "iteration 0")
		result := m.Translator.Run(ctx, m.Instance.ProjectName, 0, 0, m.Workspace.LogFiles())
		if !result.Valid {
			return m.fail(fmt.Errorf("translator iteration 0: %s", result.Diagnostic))
		}

		if err := m.backup(0); err != nil {
			return m.fail(err)
		}
		m.Instance.CurrentIteration = 1
		m.persist()
	}

	for m.Instance.CurrentIteration <= m.Instance.MaxIterations {
		if m.stopped(ctx) {
			return nil
		}

		k := m.Instance.CurrentIteration

		previousCount, err := m.Workspace.CountTestCases()
		if err != nil {
			return m.fail(fmt.Errorf("count committed test cases: %w", err))
		}

		m.transition(state.StatusDiscriminating, fmt.Sprintf("iteration %d", k))
		discResult := m.Discriminator.Run(ctx, m.Instance.ProjectName, k, previousCount, m.Workspace.LogFiles())
		if !discResult.Valid {
			return m.fail(fmt.Errorf("discriminator iteration %d: %s", k, discResult.Diagnostic))
		}

		if m.stopped(ctx) {
			return nil
		}

		wantCount := previousCount + m.Instance.KNew
		m.transition(state.StatusTranslating, fmt.Sprintf("iteration %d", k))
		transResult := m.Translator.Run(ctx, m.Instance.ProjectName, k, wantCount, m.Workspace.LogFiles())
		if !transResult.Valid {
			return m.fail(fmt.Errorf("translator iteration %d: %s", k, transResult.Diagnostic))
		}

		if err := m.backup(k); err != nil {
			return m.fail(err)
		}
		m.Instance.CurrentIteration = k + 1
		m.persist()
	}

	m.Instance.Complete()
	m.persist()
	m.emit(monitor.EventInstanceCompleted, nil)
	log.Info().Msg(fmt.Sprintf("instance %s completed after %d iterations", m.Instance.Key(), m.Instance.MaxIterations))
	return nil
}

// stopped checks should_stop/should_pause at a phase boundary, spinning on
// pause until cleared or stopped, and transitions to STOPPED if a stop is
// observed (spec.md §4.E, §5 "checked only at phase boundaries, never
// mid-worker").
func (m *Machine) stopped(ctx context.Context) bool {
	for m.Instance.ShouldPause() {
		select {
		case <-ctx.Done():
			return true
		case <-time.After(m.pauseInterval):
		}
		if m.Instance.ShouldStop() {
			break
		}
	}

	if ctx.Err() != nil || m.Instance.ShouldStop() {
		m.Instance.Stop()
		m.persist()
		m.emit(monitor.EventInstanceStopped, nil)
		return true
	}
	return false
}

func (m *Machine) transition(phase state.Status, detail string) {
	m.Instance.Transition(phase, detail)
	m.persist()
	m.emit(monitor.EventPhaseTransition, map[string]any{"phase": string(phase), "detail": detail})
}

func (m *Machine) backup(iteration int) error {
	dir := filepath.Join(m.BackupRoot, fmt.Sprintf("iteration_%d", iteration))
	if errs := m.Workspace.BackupTo(dir); len(errs) > 0 {
		return fmt.Errorf("backup iteration %d: %w", iteration, errs[0])
	}
	m.Instance.AppendBackup(iteration, dir)
	m.emit(monitor.EventBackupCreated, map[string]any{"iteration": iteration, "path": dir})
	return nil
}

func (m *Machine) fail(err error) error {
	m.Instance.AppendError(err.Error())
	m.persist()
	logger.GetLogger().Error().Msg(fmt.Sprintf("instance %s: %v", m.Instance.Key(), err))
	m.emit(monitor.EventInstanceError, map[string]any{"error": err.Error()})
	return err
}

func (m *Machine) emit(eventType monitor.EventType, data map[string]any) {
	if m.Monitor == nil {
		return
	}
	event := monitor.NewEvent(eventType, m.Instance.Key())
	for k, v := range data {
		event = event.WithData(k, v)
	}
	m.Monitor.Emit(event)
}

func (m *Machine) persist() {
	if err := m.Store.Save(m.Instance); err != nil {
		logger.GetLogger().Error().Msg(fmt.Sprintf("persist instance %s: %v", m.Instance.Key(), err))
	}
}
