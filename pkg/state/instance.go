// Package state defines ProjectInstance, the persisted record of one
// translation run, and Store, the single writer of its on-disk
// .translation_state.json representation.
package state

import (
	"fmt"
	"sync"
	"time"
)

// Status is the lifecycle state of a ProjectInstance.
type Status string

const (
	StatusQueued        Status = "QUEUED"
	StatusInitializing  Status = "INITIALIZING"
	StatusTranslating   Status = "TRANSLATING"
	StatusDiscriminating Status = "DISCRIMINATING"
	StatusPaused        Status = "PAUSED"
	StatusCompleted     Status = "COMPLETED"
	StatusStopped       Status = "STOPPED"
	StatusError         Status = "ERROR"
)

// AgentKind tags which role an agent id belongs to, per the reimplementation
// note in spec.md §9 ("dynamic role polymorphism -> finite tagged-variant
// enum").
type AgentKind string

const (
	AgentTranslator    AgentKind = "translator"
	AgentDiscriminator AgentKind = "discriminator"
)

// HistoryEntry records one phase transition.
type HistoryEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Phase     Status    `json:"phase"`
	Iteration int       `json:"iteration"`
	Detail    string    `json:"detail,omitempty"`
}

// BackupRecord references a committed per-iteration snapshot.
type BackupRecord struct {
	Iteration int       `json:"iteration"`
	Path      string    `json:"path"`
	CreatedAt time.Time `json:"created_at"`
}

// ErrorRecord captures one captured exception/error for the instance.
type ErrorRecord struct {
	Timestamp time.Time `json:"timestamp"`
	Phase     Status    `json:"phase"`
	Iteration int       `json:"iteration"`
	Message   string    `json:"message"`
}

// ProjectInstance is one translation run of one project (spec.md §3).
type ProjectInstance struct {
	mu sync.Mutex

	ProjectName      string `json:"project_name"`
	SessionID        string `json:"session_id"`
	ProjectInstance_ string `json:"project_instance"`

	TranslatorID    string `json:"translator_id"`
	DiscriminatorID string `json:"discriminator_id"`
	MaxIterations   int    `json:"max_iterations"`
	KNew            int    `json:"k_new"`

	Status           Status `json:"status"`
	CurrentIteration int    `json:"current_iteration"`
	CurrentPhase     Status `json:"current_phase"`

	StartTime time.Time  `json:"start_time"`
	EndTime   *time.Time `json:"end_time,omitempty"`

	History []HistoryEntry `json:"history"`
	Backups []BackupRecord `json:"backups"`
	Errors  []ErrorRecord  `json:"errors"`

	LastUpdated time.Time `json:"last_updated"`

	// Control flags are checked only at phase boundaries (spec.md §5).
	shouldStop  bool
	shouldPause bool
}

// New creates a fresh ProjectInstance in the QUEUED state.
func New(projectName, sessionID, translatorID, discriminatorID string, maxIterations, kNew int) *ProjectInstance {
	now := time.Now()
	return &ProjectInstance{
		ProjectName:      projectName,
		SessionID:        sessionID,
		ProjectInstance_: InstanceKey(projectName, sessionID),
		TranslatorID:     translatorID,
		DiscriminatorID:  discriminatorID,
		MaxIterations:    maxIterations,
		KNew:             kNew,
		Status:           StatusQueued,
		CurrentIteration: 0,
		CurrentPhase:     StatusQueued,
		StartTime:        now,
		LastUpdated:      now,
	}
}

// InstanceKey computes the project_instance identity: project_name +
// "_" + session_id.
func InstanceKey(projectName, sessionID string) string {
	return fmt.Sprintf("%s_%s", projectName, sessionID)
}

// Key returns this instance's project_instance identity.
func (p *ProjectInstance) Key() string {
	return p.ProjectInstance_
}

// RequestStop sets the cooperative stop flag; the instance worker observes
// it at the next phase boundary.
func (p *ProjectInstance) RequestStop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.shouldStop = true
}

// RequestPause sets the cooperative pause flag.
func (p *ProjectInstance) RequestPause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.shouldPause = true
}

// Resume clears the pause flag.
func (p *ProjectInstance) Resume() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.shouldPause = false
}

// ShouldStop reports the cooperative stop flag.
func (p *ProjectInstance) ShouldStop() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.shouldStop
}

// ShouldPause reports the cooperative pause flag.
func (p *ProjectInstance) ShouldPause() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.shouldPause
}

// Transition moves the instance to a new phase, appending a history entry
// and bumping LastUpdated. Callers still must persist via Store.
func (p *ProjectInstance) Transition(phase Status, detail string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.CurrentPhase = phase
	p.Status = phase
	p.LastUpdated = time.Now()
	p.History = append(p.History, HistoryEntry{
		Timestamp: p.LastUpdated,
		Phase:     phase,
		Iteration: p.CurrentIteration,
		Detail:    detail,
	})
}

// AppendBackup records a completed per-iteration backup. backups[] is
// monotonically appended, never mutated in place.
func (p *ProjectInstance) AppendBackup(iteration int, path string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.Backups = append(p.Backups, BackupRecord{
		Iteration: iteration,
		Path:      path,
		CreatedAt: time.Now(),
	})
}

// AppendError records a captured error without crashing the scheduler
// (spec.md §7 propagation rule).
func (p *ProjectInstance) AppendError(msg string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	p.Errors = append(p.Errors, ErrorRecord{
		Timestamp: now,
		Phase:     p.CurrentPhase,
		Iteration: p.CurrentIteration,
		Message:   msg,
	})
	p.Status = StatusError
	p.LastUpdated = now
}

// Complete marks the instance COMPLETED and stamps EndTime.
func (p *ProjectInstance) Complete() {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	p.Status = StatusCompleted
	p.CurrentPhase = StatusCompleted
	p.EndTime = &now
	p.LastUpdated = now
}

// Stop marks the instance STOPPED and stamps EndTime.
func (p *ProjectInstance) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	p.Status = StatusStopped
	p.CurrentPhase = StatusStopped
	p.EndTime = &now
	p.LastUpdated = now
}

// Snapshot returns a value copy safe to marshal/read without holding the
// instance's internal lock (the mutex itself is not copied into callers'
// long-lived views; see View).
func (p *ProjectInstance) Snapshot() View {
	p.mu.Lock()
	defer p.mu.Unlock()

	return View{
		ProjectName:      p.ProjectName,
		SessionID:        p.SessionID,
		ProjectInstance:  p.ProjectInstance_,
		TranslatorID:     p.TranslatorID,
		DiscriminatorID:  p.DiscriminatorID,
		MaxIterations:    p.MaxIterations,
		Status:           p.Status,
		CurrentIteration: p.CurrentIteration,
		CurrentPhase:     p.CurrentPhase,
		StartTime:        p.StartTime,
		EndTime:          p.EndTime,
		LastUpdated:      p.LastUpdated,
		ErrorCount:       len(p.Errors),
		BackupCount:      len(p.Backups),
	}
}

// View is a read-only projection of a ProjectInstance for status display
// (the scheduler's query API; see cmd/actor).
type View struct {
	ProjectName      string
	SessionID        string
	ProjectInstance  string
	TranslatorID     string
	DiscriminatorID  string
	MaxIterations    int
	Status           Status
	CurrentIteration int
	CurrentPhase     Status
	StartTime        time.Time
	EndTime          *time.Time
	LastUpdated      time.Time
	ErrorCount       int
	BackupCount      int
}

// Elapsed returns how long the instance has been running (or ran).
func (v View) Elapsed() time.Duration {
	if v.EndTime != nil {
		return v.EndTime.Sub(v.StartTime)
	}
	return time.Since(v.StartTime)
}
