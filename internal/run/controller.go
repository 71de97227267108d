package run

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ondemand-ai/browser-agent/internal/browser"
	"github.com/ondemand-ai/browser-agent/internal/llm"
	"github.com/ondemand-ai/browser-agent/internal/video"
)

// maxConsecutiveFailures is how many step action failures in a row escalate
// the run to failed.
const maxConsecutiveFailures = 3

// Resolver maps a model identifier to a backend, rejecting unknown models
// and absent credentials before any browser resource is allocated.
type Resolver interface {
	Resolve(id string) (llm.Backend, error)
}

// Finalizer stitches a run's captured frames into a video artifact.
type Finalizer interface {
	Finalize(ctx context.Context, framesDir, runID string) (*video.Artifact, error)
}

// Settings are the controller's per-process limits.
type Settings struct {
	DefaultMaxSteps int
	MaxStepsLimit   int
	MaxRunDuration  time.Duration
	Engine          browser.Kind
	Headless        bool
	ProxyURL        string
	ProxyUser       string
	ProxyPass       string
	ScanDir         string
}

// Request describes one submitted task.
type Request struct {
	Prompt   string
	MaxSteps int
	Model    string
	Engine   string
}

// Controller owns the step loop of an agent run: it enforces the step budget
// and the wall-clock timeout, accumulates the transcript, and guarantees the
// browser session is released on every exit path.
type Controller struct {
	resolver    Resolver
	provisioner browser.Provisioner
	finalizer   Finalizer
	store       *Store
	settings    Settings
	log         *zap.Logger
}

func NewController(resolver Resolver, provisioner browser.Provisioner, finalizer Finalizer, store *Store, settings Settings, log *zap.Logger) *Controller {
	return &Controller{
		resolver:    resolver,
		provisioner: provisioner,
		finalizer:   finalizer,
		store:       store,
		settings:    settings,
		log:         log,
	}
}

// Execute drives a run to a terminal state. A non-nil error is returned only
// for pre-run rejection (unknown model, missing credential): those fail
// before a run object exists and cost no browser allocation. Every other
// failure is reported in the returned run's status.
func (c *Controller) Execute(ctx context.Context, req Request) (*Run, error) {
	backend, err := c.resolver.Resolve(req.Model)
	if err != nil {
		return nil, err
	}

	maxSteps := req.MaxSteps
	if maxSteps <= 0 {
		maxSteps = c.settings.DefaultMaxSteps
	}
	if maxSteps > c.settings.MaxStepsLimit {
		maxSteps = c.settings.MaxStepsLimit
	}
	engine := c.settings.Engine
	if req.Engine != "" {
		engine = browser.Kind(req.Engine)
	}

	r := &Run{
		ID:        uuid.NewString()[:8],
		Prompt:    req.Prompt,
		MaxSteps:  maxSteps,
		Model:     req.Model,
		Engine:    string(engine),
		StartedAt: time.Now(),
		Status:    StatusRunning,
	}
	c.store.Put(r)

	log := c.log.With(zap.String("run_id", r.ID), zap.String("engine", r.Engine))
	log.Info("run accepted",
		zap.String("prompt", req.Prompt),
		zap.Int("max_steps", maxSteps))

	framesDir := filepath.Join(c.settings.ScanDir,
		r.StartedAt.Format("20060102_150405")+"_"+r.ID)
	if err := os.MkdirAll(framesDir, 0o755); err != nil {
		c.finish(r, StatusFailed, fmt.Sprintf("create frames dir: %v", err), "", "")
		return c.snapshot(r.ID), nil
	}

	runCtx, cancel := context.WithTimeout(ctx, c.settings.MaxRunDuration)
	defer cancel()

	task := fixURLTypos(req.Prompt)
	status, errMsg, finishText := c.loop(runCtx, r, backend, engine, framesDir, task, log)

	videoURL := c.finalizeVideo(framesDir, r.ID, log)

	result := ""
	if status == StatusSucceeded {
		result = cleanResult(finishText)
	} else if len(c.stepsOf(r.ID)) > 0 {
		result = c.summarize(backend, r, status, log)
	}

	c.finish(r, status, errMsg, result, videoURL)
	log.Info("run finished",
		zap.String("status", string(status)),
		zap.Int("steps", len(c.stepsOf(r.ID))))
	return c.snapshot(r.ID), nil
}

// loop provisions the session and runs bounded steps. The session is closed
// before loop returns, whatever the outcome.
func (c *Controller) loop(ctx context.Context, r *Run, backend llm.Backend, engine browser.Kind, framesDir, task string, log *zap.Logger) (status Status, errMsg, finishText string) {
	type acquired struct {
		sess browser.Session
		err  error
	}
	acquireCh := make(chan acquired, 1)
	go func() {
		sess, err := c.provisioner.Acquire(ctx, browser.Options{
			Engine:    engine,
			FramesDir: framesDir,
			Headless:  c.settings.Headless,
			ProxyURL:  c.settings.ProxyURL,
			ProxyUser: c.settings.ProxyUser,
			ProxyPass: c.settings.ProxyPass,
		})
		acquireCh <- acquired{sess, err}
	}()

	var sess browser.Session
	select {
	case a := <-acquireCh:
		if a.err != nil {
			log.Error("provisioning failed", zap.Error(a.err))
			return StatusFailed, a.err.Error(), ""
		}
		sess = a.sess
	case <-ctx.Done():
		// The late session, if any, still gets released.
		go func() {
			if a := <-acquireCh; a.sess != nil {
				_ = a.sess.Close()
			}
		}()
		return c.statusFromCtx(ctx), "", ""
	}
	defer sess.Close()

	exec := newStepExecutor(sess, backend, task, log)

	type stepDone struct {
		step Step
		err  error
	}

	failStreak := 0
	for i := 0; i < r.MaxSteps; i++ {
		stepCh := make(chan stepDone, 1)
		go func(idx int) {
			st, err := exec.do(ctx, idx)
			stepCh <- stepDone{st, err}
		}(i)

		select {
		case d := <-stepCh:
			if d.err != nil {
				log.Error("unrecoverable step error", zap.Int("step", i), zap.Error(d.err))
				return StatusFailed, d.err.Error(), ""
			}
			c.store.AppendStep(r.ID, d.step)
			log.Info("step completed",
				zap.Int("step", i),
				zap.String("action", string(d.step.Action.Type)),
				zap.Bool("ok", d.step.Outcome.OK))

			if d.step.Outcome.Terminal {
				return StatusSucceeded, "", d.step.Outcome.Detail
			}
			if d.step.Outcome.OK {
				failStreak = 0
			} else {
				failStreak++
				if failStreak >= maxConsecutiveFailures {
					return StatusFailed,
						fmt.Sprintf("%d consecutive action failures", failStreak), ""
				}
			}
		case <-ctx.Done():
			// The in-flight step is abandoned, not retried; closing the
			// session below tears down whatever it was doing.
			return c.statusFromCtx(ctx), "", ""
		}
	}

	return StatusStepExhausted, "", ""
}

func (c *Controller) statusFromCtx(ctx context.Context) Status {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return StatusTimedOut
	}
	return StatusFailed
}

// finalizeVideo stitches captured frames after the session is closed.
// Encoding failure degrades the artifact but never changes the run status.
func (c *Controller) finalizeVideo(framesDir, runID string, log *zap.Logger) string {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	artifact, err := c.finalizer.Finalize(ctx, framesDir, runID)
	if removeErr := os.RemoveAll(framesDir); removeErr != nil {
		log.Warn("frames dir cleanup failed", zap.Error(removeErr))
	}
	if err != nil {
		log.Warn("video finalization failed", zap.Error(err))
		return ""
	}
	log.Info("video ready",
		zap.String("url", artifact.URL),
		zap.Int("frames", artifact.Frames))
	return artifact.URL
}

// summarize asks the backend for a closing report when the run ended without
// an explicit finish. Best effort: a failed summary leaves the result empty.
func (c *Controller) summarize(backend llm.Backend, r *Run, status Status, log *zap.Logger) string {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	steps := c.stepsOf(r.ID)
	lines := make([]string, 0, len(steps))
	finalURL := ""
	for _, s := range steps {
		lines = append(lines, fmt.Sprintf("STEP %d | URL=%s | ACTION=%s[%d] %q | OUTCOME=%s",
			s.Index, s.URL, s.Action.Type, s.Action.TargetID, s.Action.Text, s.Outcome.Detail))
		finalURL = s.URL
	}

	summary, err := backend.Summarize(ctx, llm.SummaryInput{
		Task:       r.Prompt,
		ExitReason: exitReason(status),
		FinalURL:   finalURL,
		Duration:   time.Since(r.StartedAt).Truncate(time.Millisecond).String(),
		Steps:      lines,
	})
	if err != nil {
		log.Warn("run summary failed", zap.Error(err))
		return ""
	}
	return summary
}

func exitReason(status Status) string {
	switch status {
	case StatusStepExhausted:
		return "max steps reached"
	case StatusTimedOut:
		return "run timed out"
	case StatusFailed:
		return "run failed"
	default:
		return "task finished"
	}
}

func (c *Controller) finish(r *Run, status Status, errMsg, result, videoURL string) {
	c.store.Finish(r.ID, func(stored *Run) {
		stored.Status = status
		stored.Error = errMsg
		stored.Result = result
		stored.VideoURL = videoURL
		stored.FinishedAt = time.Now()
	})
}

func (c *Controller) stepsOf(id string) []Step {
	r, ok := c.store.Get(id)
	if !ok {
		return nil
	}
	return r.Steps
}

func (c *Controller) snapshot(id string) *Run {
	r, _ := c.store.Get(id)
	return r
}
