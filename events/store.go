package events

import (
	"sync"
	"time"

	"github.com/voxlane/maestro/core"
)

// WorkflowStatus is the folded last-known state of one execution.
type WorkflowStatus string

const (
	StatusRunning      WorkflowStatus = "RUNNING"
	StatusCompensating WorkflowStatus = "COMPENSATING"
	StatusCompleted    WorkflowStatus = "COMPLETED"
	StatusFailed       WorkflowStatus = "FAILED"
	StatusCancelled    WorkflowStatus = "CANCELLED"
)

// WorkflowState is the summary GetWorkflowState folds from an execution's
// event stream.
type WorkflowState struct {
	ExecutionID           string         `json:"execution_id"`
	TenantID              string         `json:"tenant_id,omitempty"`
	PipelineName          string         `json:"pipeline_name"`
	Status                WorkflowStatus `json:"status"`
	CurrentStep           string         `json:"current_step,omitempty"`
	CompletedSteps        []string       `json:"completed_steps"`
	SkippedSteps          []string       `json:"skipped_steps,omitempty"`
	FailedStep            string         `json:"failed_step,omitempty"`
	Error                 string         `json:"error,omitempty"`
	ErrorCode             string         `json:"error_code,omitempty"`
	ProgressPercent       float64        `json:"progress_percent"`
	TotalCostUsd          float64        `json:"total_cost_usd"`
	CompensationPerformed bool           `json:"compensation_performed"`
	StartedAt             time.Time      `json:"started_at"`
	UpdatedAt             time.Time      `json:"updated_at"`
	DurationMs            int64          `json:"duration_ms,omitempty"`
	EventCount            int            `json:"event_count"`
}

// Filter selects events for queries and subscriptions. Zero fields match
// everything.
type Filter struct {
	ExecutionID string
	TenantID    string
	EventTypes  []EventType
	Since       time.Time
	Until       time.Time
	Limit       int
}

func (f Filter) matches(e *Event) bool {
	if f.ExecutionID != "" && e.ExecutionID != f.ExecutionID {
		return false
	}
	if f.TenantID != "" && e.TenantID != f.TenantID {
		return false
	}
	if len(f.EventTypes) > 0 {
		ok := false
		for _, t := range f.EventTypes {
			if e.Type == t {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if !f.Since.IsZero() && e.Timestamp.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && e.Timestamp.After(f.Until) {
		return false
	}
	return true
}

// Subscription is a live stream of future events matching a filter.
// Close it when done or the subscriber slot leaks.
type Subscription struct {
	id     int
	filter Filter
	ch     chan *Event
	store  *Store
	once   sync.Once
}

// Events is the receive channel. It is closed when the subscription closes.
func (s *Subscription) Events() <-chan *Event {
	return s.ch
}

// Close removes the subscription and closes the channel.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.store.unsubscribe(s.id)
		close(s.ch)
	})
}

const (
	// DefaultSubscriberBuffer is the per-subscriber queue size; events beyond
	// it are dropped rather than blocking the producer.
	DefaultSubscriberBuffer = 100
	// DefaultQueryLimit caps GetEvents results when no limit is given.
	DefaultQueryLimit = 1000
)

// StoreConfig tunes the event store. Zero values select defaults.
type StoreConfig struct {
	// SubscriberBuffer is the bounded queue size per subscriber.
	SubscriberBuffer int
	// TTL is how long events are retained once the store passes SoftCap.
	TTL time.Duration
	// SoftCap is the event count above which appends trigger TTL purges.
	SoftCap int
}

// Store is the in-memory append-only event store. Appends hold a single
// mutex for the O(1) bookkeeping; subscriber delivery happens outside the
// lock and never blocks on a slow consumer.
type Store struct {
	mu          sync.Mutex
	events      []*Event
	byExecution map[string][]*Event
	byTenant    map[string][]*Event
	subs        map[int]*Subscription
	nextSubID   int

	cfg    StoreConfig
	logger core.Logger
}

// NewStore creates an event store.
func NewStore(cfg StoreConfig, logger core.Logger) *Store {
	if cfg.SubscriberBuffer <= 0 {
		cfg.SubscriberBuffer = DefaultSubscriberBuffer
	}
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &Store{
		byExecution: make(map[string][]*Event),
		byTenant:    make(map[string][]*Event),
		subs:        make(map[int]*Subscription),
		cfg:         cfg,
		logger:      logger,
	}
}

// Append stores the event, indexes it, and delivers it to matching
// subscribers. Events for one execution are delivered in append order as
// long as that execution appends from a single goroutine, which the
// executor guarantees.
func (s *Store) Append(e *Event) {
	if e == nil {
		return
	}
	s.mu.Lock()
	s.events = append(s.events, e)
	if e.ExecutionID != "" {
		s.byExecution[e.ExecutionID] = append(s.byExecution[e.ExecutionID], e)
	}
	if e.TenantID != "" {
		s.byTenant[e.TenantID] = append(s.byTenant[e.TenantID], e)
	}
	if s.cfg.SoftCap > 0 && len(s.events) > s.cfg.SoftCap {
		s.purgeLocked()
	}
	targets := make([]*Subscription, 0, len(s.subs))
	for _, sub := range s.subs {
		if sub.filter.matches(e) {
			targets = append(targets, sub)
		}
	}
	s.mu.Unlock()

	for _, sub := range targets {
		select {
		case sub.ch <- e:
		default:
			s.logger.Warn("Subscriber queue full, dropping event", map[string]interface{}{
				"operation":    "event_dropped",
				"event_type":   string(e.Type),
				"execution_id": e.ExecutionID,
				"subscriber":   sub.id,
			})
		}
	}
}

// purgeLocked drops events older than the TTL. Indexes are rebuilt from the
// surviving list.
func (s *Store) purgeLocked() {
	if s.cfg.TTL <= 0 {
		return
	}
	cutoff := time.Now().UTC().Add(-s.cfg.TTL)
	kept := s.events[:0]
	for _, e := range s.events {
		if e.Timestamp.After(cutoff) {
			kept = append(kept, e)
		}
	}
	if len(kept) == len(s.events) {
		return
	}
	purged := len(s.events) - len(kept)
	s.events = kept
	s.byExecution = make(map[string][]*Event, len(s.byExecution))
	s.byTenant = make(map[string][]*Event, len(s.byTenant))
	for _, e := range s.events {
		if e.ExecutionID != "" {
			s.byExecution[e.ExecutionID] = append(s.byExecution[e.ExecutionID], e)
		}
		if e.TenantID != "" {
			s.byTenant[e.TenantID] = append(s.byTenant[e.TenantID], e)
		}
	}
	s.logger.Info("Purged expired events", map[string]interface{}{
		"operation": "events_purged",
		"purged":    purged,
		"remaining": len(s.events),
	})
}

// GetEvents returns stored events matching the filter, oldest first, up to
// the limit (default 1000). Execution-scoped queries are served from the
// index.
func (s *Store) GetEvents(f Filter) []*Event {
	limit := f.Limit
	if limit <= 0 {
		limit = DefaultQueryLimit
	}

	s.mu.Lock()
	var source []*Event
	switch {
	case f.ExecutionID != "":
		source = s.byExecution[f.ExecutionID]
	case f.TenantID != "":
		source = s.byTenant[f.TenantID]
	default:
		source = s.events
	}
	snapshot := append([]*Event(nil), source...)
	s.mu.Unlock()

	capHint := limit
	if capHint > len(snapshot) {
		capHint = len(snapshot)
	}
	out := make([]*Event, 0, capHint)
	for _, e := range snapshot {
		if !f.matches(e) {
			continue
		}
		out = append(out, e)
		if len(out) >= limit {
			break
		}
	}
	return out
}

// Subscribe registers a live stream for future events matching the filter.
func (s *Store) Subscribe(f Filter) *Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSubID++
	sub := &Subscription{
		id:     s.nextSubID,
		filter: f,
		ch:     make(chan *Event, s.cfg.SubscriberBuffer),
		store:  s,
	}
	s.subs[sub.id] = sub
	return sub
}

func (s *Store) unsubscribe(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subs, id)
}

// GetWorkflowState replays an execution's events in order and folds them
// into a last-known-state summary. Returns ErrExecutionNotFound when no
// events exist for the execution.
func (s *Store) GetWorkflowState(executionID string) (*WorkflowState, error) {
	evs := s.GetEvents(Filter{ExecutionID: executionID, Limit: 1 << 30})
	if len(evs) == 0 {
		return nil, core.NewOrchestratorError("events.GetWorkflowState", "events",
			core.ErrExecutionNotFound)
	}

	state := &WorkflowState{
		ExecutionID: executionID,
		Status:      StatusRunning,
		StartedAt:   evs[0].Timestamp,
	}
	for _, e := range evs {
		state.UpdatedAt = e.Timestamp
		state.EventCount++
		if state.TenantID == "" {
			state.TenantID = e.TenantID
		}
		switch e.Type {
		case WorkflowStarted:
			state.PipelineName = e.String("pipelineName")
		case ProgressUpdate:
			state.ProgressPercent = e.Float("percent")
			state.CurrentStep = e.String("currentStep")
		case StepStarted:
			state.CurrentStep = e.String("step")
		case StepCompleted:
			state.CompletedSteps = append(state.CompletedSteps, e.String("step"))
		case StepSkipped:
			state.SkippedSteps = append(state.SkippedSteps, e.String("step"))
		case StepFailed:
			if !e.Bool("continuePipeline") {
				state.FailedStep = e.String("step")
				state.Error = e.String("error")
				state.ErrorCode = e.String("errorCode")
			}
		case CostIncurred:
			state.TotalCostUsd += e.Float("costUsd")
		case CompensationStarted:
			state.Status = StatusCompensating
			state.CompensationPerformed = true
		case WorkflowCompleted:
			state.Status = StatusCompleted
			state.CurrentStep = ""
			state.ProgressPercent = 100
			state.DurationMs = int64(e.Float("durationMs"))
		case WorkflowFailed:
			state.Status = StatusFailed
			state.CurrentStep = ""
			state.DurationMs = int64(e.Float("durationMs"))
			if state.FailedStep == "" {
				state.FailedStep = e.String("failedStep")
				state.Error = e.String("error")
				state.ErrorCode = e.String("errorCode")
			}
		case WorkflowCancelled:
			state.Status = StatusCancelled
			state.CurrentStep = ""
			state.DurationMs = int64(e.Float("durationMs"))
		}
	}
	return state, nil
}

// Len returns the number of stored events.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}
