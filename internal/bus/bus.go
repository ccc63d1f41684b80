// Package bus implements the single in-process event bus of spec §2: every
// lifecycle transition in the engine is published here, and any number of
// subscribers (an HTTP SSE stream, a test harness, a log sink) fan out from
// the same sequence. Ordering is guaranteed per-workflow, not globally
// (spec §5).
package bus

import (
	"sync"
	"time"
)

// Type enumerates the outbound events of spec §6.
type Type string

const (
	WorkflowCreated      Type = "workflow_created"
	WorkflowProgress     Type = "workflow_progress"
	WorkflowCancelled    Type = "workflow_cancelled"
	WorkflowCompleted    Type = "workflow_completed"
	WorkflowFailed       Type = "workflow_failed"
	TaskQueued           Type = "task_queued"
	TaskStarted          Type = "task_started"
	TaskStepOutput       Type = "task_step_output"
	TaskCompleted        Type = "task_completed"
	TaskFailed           Type = "task_failed"
	TaskCancelled        Type = "task_cancelled"
	ArtifactRecorded     Type = "artifact_recorded"
	ArtifactUpdated      Type = "artifact_updated"
	ApprovalRequested    Type = "approval_requested"
	ApprovalDecision     Type = "approval_decision"
	EmergencyUnblock     Type = "emergency_unblock"
	PersistenceRetried   Type = "persistence_retried"
	PersistenceDegraded  Type = "persistence_degraded"
)

// Event is one bus message. Payload carries type-specific fields (a stream
// chunk, an artifact id, an approval decision, ...).
type Event struct {
	Type       Type                   `json:"type"`
	WorkflowID string                 `json:"workflow_id,omitempty"`
	TaskID     string                 `json:"task_id,omitempty"`
	Agent      string                 `json:"agent,omitempty"`
	Stream     string                 `json:"stream,omitempty"` // stdout | stderr, for task_step_output
	Data       string                 `json:"data,omitempty"`
	Payload    map[string]interface{} `json:"payload,omitempty"`
	Time       time.Time              `json:"time"`
}

type subscriber struct {
	id int64
	ch chan Event
}

// Bus is a single in-process pub/sub fan-out point. Zero value is unusable;
// use New.
type Bus struct {
	mu     sync.Mutex
	subs   []subscriber
	nextID int64
}

// New returns an empty Bus ready to use.
func New() *Bus {
	return &Bus{}
}

// Subscribe registers a new observer with the given channel buffer size and
// returns the channel plus an unsubscribe function. The channel is closed by
// unsubscribe, never by Publish.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer < 1 {
		buffer = 1
	}
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	ch := make(chan Event, buffer)
	b.subs = append(b.subs, subscriber{id: id, ch: ch})
	b.mu.Unlock()

	unsubscribe := func() {
		b.mu.Lock()
		for i, s := range b.subs {
			if s.id == id {
				b.subs = append(b.subs[:i], b.subs[i+1:]...)
				break
			}
		}
		b.mu.Unlock()
		close(ch)
	}
	return ch, unsubscribe
}

// Publish fans an event out to every current subscriber. A slow or full
// subscriber never blocks the publisher: the event is dropped for that
// subscriber rather than stalling the engine (subscribers needing a
// guarantee should size their buffer generously or read promptly).
func (b *Bus) Publish(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	b.mu.Lock()
	subs := make([]subscriber, len(b.subs))
	copy(subs, b.subs)
	b.mu.Unlock()

	for _, s := range subs {
		select {
		case s.ch <- ev:
		default:
		}
	}
}
