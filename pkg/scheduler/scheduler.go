// Package scheduler implements the Project Scheduler (spec.md §4.F): a
// single in-memory map of translation instances, guarded by one mutex, and
// a worker loop that spawns bounded-parallel goroutines running each
// instance's Iteration State Machine to completion.
//
// This generalizes the teacher's internal/project.Manager+Registry pair
// (which tracked indexed source projects one-for-one with a watcher) into
// a scheduler of translation runs, where "initialize" means spawn a
// state-machine goroutine rather than start a file watcher.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/actor/internal/logger"
	"github.com/ternarybob/actor/pkg/dangerous"
	"github.com/ternarybob/actor/pkg/iteration"
	"github.com/ternarybob/actor/pkg/state"
)

// TickInterval is the worker loop's polling cadence (spec.md §4.F: "~0.5 s
// cadence").
const TickInterval = 500 * time.Millisecond

// MachineFactory builds the Iteration State Machine for one instance,
// wiring in whatever Agent Runner, workspace, and worker configuration the
// caller's translator/discriminator selection implies. Kept as an
// injected function so this package stays independent of pkg/runner,
// pkg/workers, and pkg/llm construction details.
type MachineFactory func(inst *state.ProjectInstance) (*iteration.Machine, error)

// Scheduler holds the live instance map and drives the worker loop.
type Scheduler struct {
	MaxParallel int
	Store       *state.Store
	Dangerous   *dangerous.List
	NewMachine  MachineFactory

	mu        sync.Mutex
	instances map[string]*state.ProjectInstance
	order     []string // insertion order, for 1-based display indexing
	active    map[string]struct{}
}

// New builds a Scheduler. maxParallel must be positive; a non-positive
// value is treated as 1.
func New(maxParallel int, store *state.Store, dangerousList *dangerous.List, factory MachineFactory) *Scheduler {
	if maxParallel <= 0 {
		maxParallel = 1
	}
	return &Scheduler{
		MaxParallel: maxParallel,
		Store:       store,
		Dangerous:   dangerousList,
		NewMachine:  factory,
		instances:   make(map[string]*state.ProjectInstance),
		active:      make(map[string]struct{}),
	}
}

// Add registers a new instance in QUEUED status, refusing to queue a
// project on the dangerous-name guard's ignore_list (spec.md §4.F).
func (s *Scheduler) Add(inst *state.ProjectInstance) error {
	if s.Dangerous.IsDangerous(inst.ProjectName) {
		return fmt.Errorf("scheduler: project %q is on the dangerous ignore_list", inst.ProjectName)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.instances[inst.Key()]; exists {
		return fmt.Errorf("scheduler: instance %q already registered", inst.Key())
	}
	s.instances[inst.Key()] = inst
	s.order = append(s.order, inst.Key())

	return s.Store.Save(inst)
}

// Run drives the worker loop until ctx is cancelled: every TickInterval it
// snapshots which instances are live, drops finished ones, and spawns new
// goroutines for QUEUED instances while active < MaxParallel (spec.md
// §4.F steps 1-2).
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	s.mu.Lock()
	activeCount := len(s.active)
	var queued []*state.ProjectInstance
	for _, key := range s.order {
		inst := s.instances[key]
		if inst.Status == state.StatusQueued {
			queued = append(queued, inst)
		}
	}
	s.mu.Unlock()

	for _, inst := range queued {
		if activeCount >= s.MaxParallel {
			return
		}
		if s.spawn(ctx, inst) {
			activeCount++
		}
	}
}

// spawn starts one instance's state machine in its own goroutine,
// returning false if it was already running or could not be constructed.
func (s *Scheduler) spawn(ctx context.Context, inst *state.ProjectInstance) bool {
	s.mu.Lock()
	if _, running := s.active[inst.Key()]; running {
		s.mu.Unlock()
		return false
	}
	s.active[inst.Key()] = struct{}{}
	s.mu.Unlock()

	machine, err := s.NewMachine(inst)
	if err != nil {
		inst.AppendError(fmt.Sprintf("construct iteration machine: %v", err))
		_ = s.Store.Save(inst)
		s.mu.Lock()
		delete(s.active, inst.Key())
		s.mu.Unlock()
		return false
	}

	go func() {
		defer func() {
			s.mu.Lock()
			delete(s.active, inst.Key())
			s.mu.Unlock()
		}()

		if err := machine.Run(ctx); err != nil {
			logger.GetLogger().Error().Msg(fmt.Sprintf("instance %s ended with error: %v", inst.Key(), err))
		}
	}()

	return true
}

// Resolve finds an instance by 1-based display index, then by
// project_instance key, then as the first instance in display order whose
// project_name or session_id equals ref (spec.md §4.F, "Instance
// resolution").
func (s *Scheduler) Resolve(ref string) (*state.ProjectInstance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if idx, err := parseIndex(ref); err == nil {
		if idx >= 1 && idx <= len(s.order) {
			return s.instances[s.order[idx-1]], nil
		}
		return nil, fmt.Errorf("scheduler: no instance at index %d", idx)
	}

	if inst, ok := s.instances[ref]; ok {
		return inst, nil
	}

	for _, key := range s.order {
		inst := s.instances[key]
		if inst.ProjectName == ref || inst.SessionID == ref {
			return inst, nil
		}
	}

	return nil, fmt.Errorf("scheduler: no instance matching %q", ref)
}

// Stop resolves ref and sets its should_stop flag; the instance transitions
// to STOPPED at its next phase boundary.
func (s *Scheduler) Stop(ref string) error {
	inst, err := s.Resolve(ref)
	if err != nil {
		return err
	}
	inst.RequestStop()
	return nil
}

// StopAll requests a stop on every known instance.
func (s *Scheduler) StopAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range s.order {
		s.instances[key].RequestStop()
	}
}

// Status satisfies pkg/monitor.StatusSource, exposing List() to the HTTP
// event bus without this package importing it back.
func (s *Scheduler) Status() any {
	return s.List()
}

// List returns every instance's status view, in display order — refreshed
// from in-memory state, never from disk (spec.md §4.F, "Status table must
// be refreshed from in-memory state, not disk").
func (s *Scheduler) List() []state.View {
	s.mu.Lock()
	defer s.mu.Unlock()

	views := make([]state.View, 0, len(s.order))
	for _, key := range s.order {
		views = append(views, s.instances[key].Snapshot())
	}
	return views
}

func parseIndex(ref string) (int, error) {
	var n int
	if _, err := fmt.Sscanf(ref, "%d", &n); err != nil {
		return 0, err
	}
	// Sscanf accepts leading numeric prefixes like "3abc"; reject those by
	// requiring the whole token round-trips.
	if fmt.Sprintf("%d", n) != ref {
		return 0, fmt.Errorf("scheduler: %q is not a plain index", ref)
	}
	return n, nil
}
