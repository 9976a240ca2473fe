// Package monitor provides a live HTTP/SSE view of the scheduler's
// instances, for an operator UI to watch without polling the working
// directory. It rides on the same chi/cors routing stack the teacher
// reaches for whenever it exposes an HTTP surface.
package monitor

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
)

// EventType categorizes a monitor event. These track Iteration State
// Machine phase boundaries (spec.md §4.E) rather than the teacher's
// step/circuit/rate-limit vocabulary.
type EventType string

const (
	EventPhaseTransition   EventType = "phase_transition"
	EventBackupCreated     EventType = "backup_created"
	EventInstanceQueued    EventType = "instance_queued"
	EventInstanceCompleted EventType = "instance_completed"
	EventInstanceStopped   EventType = "instance_stopped"
	EventInstanceError     EventType = "instance_error"
)

// Event is one emitted occurrence, broadcast to every SSE subscriber.
type Event struct {
	Type      EventType      `json:"type"`
	Instance  string         `json:"instance,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// NewEvent creates an event of the given type, timestamped now.
func NewEvent(eventType EventType, instance string) Event {
	return Event{Type: eventType, Instance: instance, Timestamp: time.Now(), Data: make(map[string]any)}
}

// WithData attaches a key/value pair and returns the event for chaining.
func (e Event) WithData(key string, value any) Event {
	if e.Data == nil {
		e.Data = make(map[string]any)
	}
	e.Data[key] = value
	return e
}

// Emitter is the narrow interface pkg/iteration depends on, so the
// Iteration State Machine can push lifecycle events without importing the
// HTTP server that serves them.
type Emitter interface {
	Emit(Event)
}

// StatusSource supplies the live scheduler snapshot for /status; satisfied
// by *pkg/scheduler.Scheduler without this package importing it back.
type StatusSource interface {
	Status() any
}

// Monitor is an HTTP/SSE event bus: the Iteration State Machine Emits into
// it, and operators subscribe over /events or poll /status.
type Monitor struct {
	addr   string
	source StatusSource
	server *http.Server

	mu          sync.RWMutex
	subscribers map[chan Event]struct{}
	history     []Event
	maxHistory  int
	running     bool
}

// New builds a Monitor bound to addr (e.g. ":8090"), reporting scheduler
// status from source. source may be nil if no live status is available
// yet; /status then reports null.
func New(addr string, source StatusSource) *Monitor {
	return &Monitor{
		addr:        addr,
		source:      source,
		subscribers: make(map[chan Event]struct{}),
		maxHistory:  1000,
	}
}

func (m *Monitor) router() http.Handler {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET"},
	}))
	r.Get("/status", m.handleStatus)
	r.Get("/events", m.handleEvents)
	r.Get("/history", m.handleHistory)
	return r
}

// Start begins serving in the background; it returns once the listener is
// up, and shuts down when ctx is cancelled.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return nil
	}
	ln, err := net.Listen("tcp", m.addr)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	m.running = true
	m.server = &http.Server{Addr: m.addr, Handler: m.router()}
	m.mu.Unlock()

	go func() {
		_ = m.server.Serve(ln)
	}()
	go func() {
		<-ctx.Done()
		_ = m.Stop()
	}()
	return nil
}

// Stop shuts down the server and closes every subscriber channel.
func (m *Monitor) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return nil
	}
	m.running = false
	for ch := range m.subscribers {
		close(ch)
		delete(m.subscribers, ch)
	}
	if m.server == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return m.server.Shutdown(shutdownCtx)
}

// Emit records event in history and fans it out to subscribers
// non-blockingly; a slow subscriber drops events rather than stalling the
// caller (which is typically the Iteration State Machine itself).
func (m *Monitor) Emit(event Event) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.history = append(m.history, event)
	if len(m.history) > m.maxHistory {
		m.history = m.history[1:]
	}
	for ch := range m.subscribers {
		select {
		case ch <- event:
		default:
		}
	}
}

func (m *Monitor) subscribe() chan Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch := make(chan Event, 100)
	m.subscribers[ch] = struct{}{}
	return ch
}

func (m *Monitor) unsubscribe(ch chan Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.subscribers[ch]; ok {
		close(ch)
		delete(m.subscribers, ch)
	}
}

func (m *Monitor) handleStatus(w http.ResponseWriter, r *http.Request) {
	var status any
	if m.source != nil {
		status = m.source.Status()
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(status)
}

func (m *Monitor) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch := m.subscribe()
	defer m.unsubscribe(ch)

	for {
		select {
		case <-r.Context().Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			data, _ := json.Marshal(event)
			w.Write([]byte("data: "))
			w.Write(data)
			w.Write([]byte("\n\n"))
			flusher.Flush()
		}
	}
}

func (m *Monitor) handleHistory(w http.ResponseWriter, r *http.Request) {
	m.mu.RLock()
	history := make([]Event, len(m.history))
	copy(history, m.history)
	m.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(history)
}
