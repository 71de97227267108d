package run

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/ondemand-ai/browser-agent/internal/browser"
	"github.com/ondemand-ai/browser-agent/internal/llm"
)

// stepExecutor performs one observe-decide-act cycle at a time for a single
// run. An error return means the run cannot make further progress; action
// failures that only affect one step are recorded in the step's outcome
// instead.
type stepExecutor struct {
	sess    browser.Session
	backend llm.Backend
	task    string
	mem     *StepMemory
	log     *zap.Logger

	prevTree string
	lastURL  string
}

func newStepExecutor(sess browser.Session, backend llm.Backend, task string, log *zap.Logger) *stepExecutor {
	return &stepExecutor{
		sess:    sess,
		backend: backend,
		task:    task,
		mem:     NewStepMemory(10, 3),
		log:     log,
	}
}

func (e *stepExecutor) do(ctx context.Context, index int) (Step, error) {
	snap, err := e.sess.Snapshot(ctx)
	if err != nil {
		return Step{}, fmt.Errorf("snapshot failed: %w", err)
	}
	e.lastURL = snap.URL

	if e.prevTree != "" && e.prevTree == snap.Tree {
		e.mem.AddSystemNote("SYSTEM ALERT: Last action had NO VISIBLE EFFECT.")
	}
	e.prevTree = snap.Tree

	decision, err := e.decide(ctx, snap)
	if err != nil {
		return Step{}, err
	}

	action := decision.Action

	// A blocked repeated action becomes a scroll so the model sees new
	// content instead of hammering the same element.
	if blocked, reason := e.mem.ShouldBlock(snap.URL, action); blocked {
		e.log.Info("loop guard triggered",
			zap.String("action", string(action.Type)),
			zap.Int("target", action.TargetID))
		e.mem.AddSystemNote(reason)
		action = llm.Action{Type: llm.ActionScroll}
	}

	step := Step{
		Index:       index,
		URL:         snap.URL,
		Observation: decision.Observation,
		Thought:     decision.Thought,
		Action:      action,
	}

	switch action.Type {
	case llm.ActionFinish:
		step.Outcome = Outcome{OK: true, Terminal: true, Detail: action.Text}
		return step, nil

	case llm.ActionExtract:
		step.Outcome = Outcome{OK: true, Detail: action.Text}
		e.mem.Add(index, snap.URL, action)

	default:
		step.Outcome = e.apply(ctx, snap.URL, action)
		if step.Outcome.OK {
			e.mem.Add(index, snap.URL, action)
		} else {
			e.mem.AddSystemNote("SYSTEM ERROR: " + step.Outcome.Detail)
		}
	}

	if err := e.sess.CaptureFrame(ctx); err != nil {
		e.log.Warn("frame capture failed", zap.Int("step", index), zap.Error(err))
	}

	return step, nil
}

// decide asks the backend for the next action, retrying once immediately on
// failure. A second failure escalates to the controller.
func (e *stepExecutor) decide(ctx context.Context, snap *browser.Snapshot) (*llm.Decision, error) {
	input := llm.DecisionInput{
		Task:             e.task,
		DOMTree:          snap.Tree,
		CurrentURL:       snap.URL,
		History:          e.mem.HistoryString(),
		ScreenshotBase64: snap.ScreenshotBase64,
	}
	decision, err := e.backend.DecideAction(ctx, input)
	if err == nil {
		return decision, nil
	}
	if ctx.Err() != nil {
		return nil, err
	}
	e.log.Warn("backend call failed, retrying once", zap.Error(err))
	decision, err = e.backend.DecideAction(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("backend failed after retry: %w", err)
	}
	return decision, nil
}

// apply executes the action against the session, retrying once when the
// first attempt fails (elements detach during renders). The failure of both
// attempts is absorbed into the step outcome.
func (e *stepExecutor) apply(ctx context.Context, currentURL string, action llm.Action) Outcome {
	err := e.applyOnce(ctx, currentURL, action)
	if err != nil && ctx.Err() == nil {
		e.log.Debug("action failed, retrying once",
			zap.String("action", string(action.Type)), zap.Error(err))
		err = e.applyOnce(ctx, currentURL, action)
	}
	if err != nil {
		return Outcome{OK: false, Detail: err.Error()}
	}
	return Outcome{OK: true, Detail: describeAction(action)}
}

func (e *stepExecutor) applyOnce(ctx context.Context, currentURL string, action llm.Action) error {
	switch action.Type {
	case llm.ActionNavigate:
		return e.sess.Navigate(ctx, normalizeURL(currentURL, action.URL))
	case llm.ActionClick:
		if action.TargetID <= 0 {
			return fmt.Errorf("click without a valid target_id")
		}
		return e.sess.Click(ctx, action.TargetID)
	case llm.ActionTypeInput:
		if action.TargetID <= 0 {
			return fmt.Errorf("type without a valid target_id")
		}
		return e.sess.Type(ctx, action.TargetID, action.Text, action.Submit)
	case llm.ActionScroll:
		return e.sess.Scroll(ctx)
	default:
		return fmt.Errorf("unknown action type: %s", action.Type)
	}
}

func describeAction(a llm.Action) string {
	switch a.Type {
	case llm.ActionNavigate:
		return "navigated to " + a.URL
	case llm.ActionClick:
		return fmt.Sprintf("clicked [%d]", a.TargetID)
	case llm.ActionTypeInput:
		if a.Submit {
			return fmt.Sprintf("typed %q into [%d] and pressed enter", a.Text, a.TargetID)
		}
		return fmt.Sprintf("typed %q into [%d]", a.Text, a.TargetID)
	case llm.ActionScroll:
		return "scrolled down"
	default:
		return string(a.Type)
	}
}

func normalizeURL(currentURL, target string) string {
	target = strings.TrimSpace(target)
	if target == "" {
		return currentURL
	}
	u, err := url.Parse(target)
	if err == nil && u.IsAbs() {
		return target
	}
	// Bare hosts like "example.com" are common in model output.
	if !strings.HasPrefix(target, "/") && strings.Contains(target, ".") && !strings.Contains(target, " ") {
		return "https://" + target
	}
	base, err := url.Parse(currentURL)
	if err != nil {
		return target
	}
	return base.ResolveReference(u).String()
}
