package run

import (
	"sort"
	"sync"
)

// EventType identifies a run store notification.
type EventType string

const (
	EventStep     EventType = "step"
	EventFinished EventType = "finished"
)

// Event is published to subscribers of a run as it progresses.
type Event struct {
	RunID  string    `json:"run_id"`
	Type   EventType `json:"type"`
	Status Status    `json:"status"`
	Step   *Step     `json:"step,omitempty"`
}

// Store is the in-memory registry of runs. The controller is the only
// writer for a given run; readers get copies so handlers never observe a
// half-updated transcript.
type Store struct {
	mu   sync.RWMutex
	runs map[string]*Run
	subs map[string][]chan Event
}

func NewStore() *Store {
	return &Store{
		runs: make(map[string]*Run),
		subs: make(map[string][]chan Event),
	}
}

func (s *Store) Put(r *Run) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[r.ID] = r
}

func (s *Store) Get(id string) (*Run, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.runs[id]
	if !ok {
		return nil, false
	}
	return copyRun(r), true
}

func (s *Store) List() []*Run {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Run, 0, len(s.runs))
	for _, r := range s.runs {
		out = append(out, copyRun(r))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	return out
}

// AppendStep records a completed step and notifies subscribers.
func (s *Store) AppendStep(id string, step Step) {
	s.mu.Lock()
	r, ok := s.runs[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	r.Steps = append(r.Steps, step)
	subs := append([]chan Event(nil), s.subs[id]...)
	s.mu.Unlock()

	ev := Event{RunID: id, Type: EventStep, Status: StatusRunning, Step: &step}
	for _, ch := range subs {
		select {
		case ch <- ev:
		default: // slow subscriber, drop rather than stall the run
		}
	}
}

// Finish applies a terminal mutation to the run, notifies subscribers and
// closes their channels.
func (s *Store) Finish(id string, mutate func(*Run)) {
	s.mu.Lock()
	r, ok := s.runs[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	mutate(r)
	status := r.Status
	subs := s.subs[id]
	delete(s.subs, id)
	s.mu.Unlock()

	ev := Event{RunID: id, Type: EventFinished, Status: status}
	for _, ch := range subs {
		select {
		case ch <- ev:
		default:
		}
		close(ch)
	}
}

// Subscribe returns a channel of step events for a run and a cancel
// function. The channel is closed when the run finishes.
func (s *Store) Subscribe(id string) (<-chan Event, func()) {
	ch := make(chan Event, 16)

	s.mu.Lock()
	r, ok := s.runs[id]
	if !ok || r.Status.Terminal() {
		s.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	s.subs[id] = append(s.subs[id], ch)
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		chans := s.subs[id]
		for i, c := range chans {
			if c == ch {
				s.subs[id] = append(chans[:i], chans[i+1:]...)
				return
			}
		}
	}
	return ch, cancel
}

func copyRun(r *Run) *Run {
	cp := *r
	cp.Steps = append([]Step(nil), r.Steps...)
	return &cp
}
