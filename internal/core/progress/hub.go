// Package progress fans out human-readable ingestion status lines to live subscribers.
//
// A job is opened by the ingestion that owns it, or lazily by the first subscriber, and removed some grace period
// after its terminal status so late subscribers can still read the outcome.
package progress

import (
	"context"
	"log/slog"
	"runtime"
	"strings"
	"sync"
	"time"
)

const (
	CompletePrefix = "complete:"
	ErrorPrefix    = "error:"

	// DefaultQueueSize bounds each subscriber queue; the oldest event is dropped on overflow.
	DefaultQueueSize = 256

	// DefaultIdleGrace is how long a job nobody opened survives its last subscriber.
	DefaultIdleGrace = time.Minute

	waitingStatus = "waiting"
)

// Event is one status update delivered to subscribers.
type Event struct {
	Status   string `json:"status"`
	Filename string `json:"filename"`
}

// Terminal reports whether no further updates follow this event.
func (e Event) Terminal() bool {
	return IsTerminal(e.Status)
}

func IsTerminal(status string) bool {
	return strings.HasPrefix(status, CompletePrefix) || strings.HasPrefix(status, ErrorPrefix)
}

type job struct {
	status   string
	filename string
	opened   bool
	subs     []*Subscription
	cleanup  *time.Timer
}

// Hub is the process-wide registry of ingestion jobs and their subscribers.
type Hub struct {
	mu        sync.Mutex
	jobs      map[string]*job
	queueSize int
	idleGrace time.Duration
	log       *slog.Logger
	closed    bool
}

func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{jobs: make(map[string]*job), queueSize: DefaultQueueSize, idleGrace: DefaultIdleGrace, log: log}
}

// WithQueueSize changes the per-subscriber queue bound for subscriptions created afterwards.
func (h *Hub) WithQueueSize(n int) *Hub {
	if n > 0 {
		h.queueSize = n
	}
	return h
}

// WithIdleGrace changes how long an unopened job is kept after its last subscriber leaves.
func (h *Hub) WithIdleGrace(d time.Duration) *Hub {
	if d > 0 {
		h.idleGrace = d
	}
	return h
}

func (h *Hub) entry(jobID string) *job {
	j, ok := h.jobs[jobID]
	if !ok {
		j = &job{status: waitingStatus}
		h.jobs[jobID] = j
	}
	return j
}

// Open creates the job or refreshes its filename and status, keeping any subscribers that attached early.
func (h *Hub) Open(jobID, filename string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	j := h.entry(jobID)
	if j.cleanup != nil {
		j.cleanup.Stop()
		j.cleanup = nil
	}
	j.filename = filename
	j.status = "Uploading " + filename + "..."
	j.opened = true
}

// Subscribe registers a new queue for jobID, creating the entry if the job has not been opened yet.
// A job that is already running delivers its current status first.
func (h *Hub) Subscribe(jobID string) *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()
	j := h.entry(jobID)
	if !j.opened && j.cleanup != nil {
		j.cleanup.Stop()
		j.cleanup = nil
	}
	sub := newSubscription(jobID, h.queueSize)
	if j.opened {
		sub.push(Event{Status: j.status, Filename: j.filename})
	}
	j.subs = append(j.subs, sub)
	h.log.Debug("progress subscriber attached", "job_id", jobID, "subscribers", len(j.subs))
	return sub
}

// Publish updates the job status and queues it for every subscriber. Unknown jobs are ignored.
func (h *Hub) Publish(jobID, status string) {
	if jobID == "" {
		return
	}
	h.mu.Lock()
	j, ok := h.jobs[jobID]
	if !ok {
		h.mu.Unlock()
		h.log.Warn("progress published for unknown job", "job_id", jobID, "status", status)
		return
	}
	j.status = status
	ev := Event{Status: status, Filename: j.filename}
	subs := append([]*Subscription(nil), j.subs...)
	h.mu.Unlock()

	for i, sub := range subs {
		if dropped := sub.push(ev); dropped {
			h.log.Warn("progress queue full, dropped oldest event", "job_id", jobID, "subscriber", i)
		}
	}
	h.log.Debug("progress published", "job_id", jobID, "subscribers", len(subs), "status", status)

	// let subscriber goroutines drain before the publisher continues with blocking work
	runtime.Gosched()
}

// Unsubscribe detaches sub from its job. Removing an unknown subscription is a no-op.
// A job that was never opened is dropped once it has had no subscribers for the idle grace period.
func (h *Hub) Unsubscribe(jobID string, sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	j, ok := h.jobs[jobID]
	if !ok {
		return
	}
	for i, s := range j.subs {
		if s == sub {
			j.subs = append(j.subs[:i], j.subs[i+1:]...)
			break
		}
	}
	if !j.opened && len(j.subs) == 0 && j.cleanup == nil && !h.closed {
		j.cleanup = time.AfterFunc(h.idleGrace, func() { h.dropIdle(jobID, j) })
	}
}

func (h *Hub) dropIdle(jobID string, j *job) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if cur, ok := h.jobs[jobID]; ok && cur == j && !j.opened && len(j.subs) == 0 {
		delete(h.jobs, jobID)
		h.log.Debug("dropped progress job that was never opened", "job_id", jobID)
	}
}

// Close removes the job entirely.
func (h *Hub) Close(jobID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if j, ok := h.jobs[jobID]; ok && j.cleanup != nil {
		j.cleanup.Stop()
	}
	delete(h.jobs, jobID)
}

// CloseAfter schedules Close once the grace period has passed.
func (h *Hub) CloseAfter(jobID string, grace time.Duration) {
	if jobID == "" {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	j, ok := h.jobs[jobID]
	if !ok || h.closed {
		return
	}
	if j.cleanup != nil {
		j.cleanup.Stop()
	}
	j.cleanup = time.AfterFunc(grace, func() { h.Close(jobID) })
}

// Shutdown stops pending cleanups and drops every job.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, j := range h.jobs {
		if j.cleanup != nil {
			j.cleanup.Stop()
		}
		delete(h.jobs, id)
	}
	h.closed = true
}

// Subscription is a FIFO of events for one observer.
type Subscription struct {
	jobID  string
	mu     sync.Mutex
	queue  []Event
	max    int
	notify chan struct{}
}

func newSubscription(jobID string, max int) *Subscription {
	return &Subscription{jobID: jobID, max: max, notify: make(chan struct{}, 1)}
}

func (s *Subscription) JobID() string { return s.jobID }

// push never blocks; it reports whether an old event was dropped to make room.
func (s *Subscription) push(ev Event) (dropped bool) {
	s.mu.Lock()
	if len(s.queue) >= s.max {
		s.queue = s.queue[1:]
		dropped = true
	}
	s.queue = append(s.queue, ev)
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
	return dropped
}

func (s *Subscription) pop() (Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return Event{}, false
	}
	ev := s.queue[0]
	s.queue = s.queue[1:]
	return ev, true
}

// Len is the number of queued events.
func (s *Subscription) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Next waits up to wait for the next event. ok is false when the wait elapsed without one,
// which callers use to emit a keepalive. err is set only when ctx is done.
func (s *Subscription) Next(ctx context.Context, wait time.Duration) (ev Event, ok bool, err error) {
	if ev, ok := s.pop(); ok {
		return ev, true, nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return Event{}, false, ctx.Err()
		case <-timer.C:
			ev, ok := s.pop()
			return ev, ok, nil
		case <-s.notify:
			if ev, ok := s.pop(); ok {
				return ev, true, nil
			}
		}
	}
}
