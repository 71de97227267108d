package run

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ondemand-ai/browser-agent/internal/browser"
	"github.com/ondemand-ai/browser-agent/internal/llm"
	"github.com/ondemand-ai/browser-agent/internal/video"
)

// fakePage is the scripted observable state for one URL.
type fakePage struct {
	title string
	tree  string
}

// fakeSession scripts the browser side of a run deterministically.
type fakeSession struct {
	mu         sync.Mutex
	pages      map[string]fakePage
	currentURL string
	closed     bool
	onClose    func()

	snapErrAt  int // fail Snapshot when it is called the n-th time (1-based)
	snapCalls  int
	clickErr   error
	frameCalls int
}

func newFakeSession(pages map[string]fakePage) *fakeSession {
	return &fakeSession{pages: pages, currentURL: "about:blank"}
}

func (s *fakeSession) Navigate(ctx context.Context, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.currentURL = url
	return nil
}

func (s *fakeSession) Snapshot(ctx context.Context) (*browser.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapCalls++
	if s.snapErrAt > 0 && s.snapCalls >= s.snapErrAt {
		return nil, errors.New("browser process crashed")
	}
	page := s.pages[s.currentURL]
	return &browser.Snapshot{
		URL:   s.currentURL,
		Title: page.title,
		Tree:  fmt.Sprintf("call %d\n%s", s.snapCalls, page.tree),
	}, nil
}

func (s *fakeSession) Click(ctx context.Context, targetID int) error {
	return s.clickErr
}

func (s *fakeSession) Type(ctx context.Context, targetID int, text string, submit bool) error {
	return nil
}

func (s *fakeSession) Scroll(ctx context.Context) error { return nil }

func (s *fakeSession) CaptureFrame(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frameCalls++
	return nil
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		if s.onClose != nil {
			s.onClose()
		}
	}
	return nil
}

// fakeProvisioner tracks acquisitions and outstanding sessions.
type fakeProvisioner struct {
	mu       sync.Mutex
	sess     *fakeSession
	err      error
	acquires int
	active   int
}

func (p *fakeProvisioner) Acquire(ctx context.Context, opts browser.Options) (browser.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.acquires++
	if p.err != nil {
		return nil, p.err
	}
	p.active++
	p.sess.onClose = func() {
		p.mu.Lock()
		p.active--
		p.mu.Unlock()
	}
	return p.sess, nil
}

func (p *fakeProvisioner) Acquires() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.acquires
}

func (p *fakeProvisioner) Active() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

// scriptedBackend replays a fixed decision sequence; past the end it keeps
// scrolling. A nil decision with a non-nil err simulates a backend failure.
type scriptedDecision struct {
	decision *llm.Decision
	err      error
}

type scriptedBackend struct {
	mu      sync.Mutex
	script  []scriptedDecision
	next    int
	summary string

	block bool // wait for ctx cancellation instead of answering
}

func (b *scriptedBackend) DecideAction(ctx context.Context, input llm.DecisionInput) (*llm.Decision, error) {
	if b.block {
		<-ctx.Done()
		return nil, fmt.Errorf("%w: %v", llm.ErrBackend, ctx.Err())
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.next >= len(b.script) {
		return &llm.Decision{Action: llm.Action{Type: llm.ActionScroll}}, nil
	}
	d := b.script[b.next]
	b.next++
	if d.err != nil {
		return nil, d.err
	}
	return d.decision, nil
}

func (b *scriptedBackend) Summarize(ctx context.Context, input llm.SummaryInput) (string, error) {
	if b.summary == "" {
		return "", fmt.Errorf("%w: no summary scripted", llm.ErrBackend)
	}
	return b.summary, nil
}

func decide(action llm.Action) scriptedDecision {
	return scriptedDecision{decision: &llm.Decision{
		Observation: "page observed",
		Thought:     "next move",
		Action:      action,
	}}
}

// fakeResolver returns a fixed backend or error regardless of identifier.
type fakeResolver struct {
	backend llm.Backend
	err     error
}

func (r *fakeResolver) Resolve(id string) (llm.Backend, error) {
	if r.err != nil {
		return nil, r.err
	}
	return r.backend, nil
}

// fakeFinalizer records calls and optionally fails encoding.
type fakeFinalizer struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeFinalizer) Finalize(ctx context.Context, framesDir, runID string) (*video.Artifact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &video.Artifact{URL: "/videos/" + runID + ".mp4", Frames: 3}, nil
}
