package browser

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	"go.uber.org/zap"
)

const actionTimeout = 30 * time.Second

// chromedpSession drives a local Chrome over CDP. This is the standard
// engine: no fingerprint masking beyond disabling the automation banner.
type chromedpSession struct {
	ctx         context.Context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc
	log         *zap.Logger

	framesDir  string
	frameCount int

	closeOnce sync.Once
}

func newChromedpSession(ctx context.Context, opts Options, log *zap.Logger) (Session, error) {
	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", opts.Headless),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.WindowSize(1920, 1080),
	)
	if opts.ProxyURL != "" {
		allocOpts = append(allocOpts, chromedp.ProxyServer(opts.ProxyURL))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocOpts...)
	browserCtx, cancel := chromedp.NewContext(allocCtx)

	s := &chromedpSession{
		ctx:         browserCtx,
		cancel:      cancel,
		allocCancel: allocCancel,
		log:         log,
		framesDir:   opts.FramesDir,
	}

	// An empty Run starts the browser process; a missing binary or resource
	// exhaustion surfaces here, before the session is handed out.
	if err := s.run(ctx, actionTimeout); err != nil {
		s.Close()
		return nil, fmt.Errorf("%w: launch chrome: %v", ErrProvision, err)
	}

	// Arm the recording sink before any navigation happens.
	if err := s.CaptureFrame(ctx); err != nil {
		log.Warn("initial frame capture failed", zap.Error(err))
	}

	return s, nil
}

// run executes chromedp actions against the session's browser context with a
// per-action timeout, aborting early if the caller's ctx is cancelled.
func (s *chromedpSession) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	tctx, cancel := context.WithTimeout(s.ctx, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	return chromedp.Run(tctx, actions...)
}

func (s *chromedpSession) Navigate(ctx context.Context, url string) error {
	return s.run(ctx, 60*time.Second, chromedp.Navigate(url))
}

func (s *chromedpSession) Snapshot(ctx context.Context) (*Snapshot, error) {
	var tree, title, url string
	var shot []byte
	err := s.run(ctx, actionTimeout,
		chromedp.Evaluate(fmt.Sprintf("(%s)()", snapshotScript), &tree),
		chromedp.Title(&title),
		chromedp.Location(&url),
		chromedp.CaptureScreenshot(&shot),
	)
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	return &Snapshot{
		URL:              url,
		Title:            title,
		Tree:             tree,
		ScreenshotBase64: base64.StdEncoding.EncodeToString(shot),
	}, nil
}

func (s *chromedpSession) Click(ctx context.Context, targetID int) error {
	return s.run(ctx, actionTimeout, s.callOnTarget(targetID, clickHelperScript))
}

func (s *chromedpSession) Type(ctx context.Context, targetID int, text string, submit bool) error {
	encoded, err := json.Marshal(text)
	if err != nil {
		return err
	}
	script := fmt.Sprintf(`function() {
		if (this.scrollIntoViewIfNeeded) {
			this.scrollIntoViewIfNeeded();
		} else if (this.scrollIntoView) {
			this.scrollIntoView({ block: "center", inline: "center" });
		}
		this.value = "";
		this.value = %s;
		this.dispatchEvent(new Event('input', { bubbles: true }));
		this.dispatchEvent(new Event('change', { bubbles: true }));
	}`, string(encoded))

	actions := []chromedp.Action{s.callOnTarget(targetID, script)}
	if submit {
		actions = append(actions,
			s.focusTarget(targetID),
			chromedp.KeyEvent(kb.Enter),
		)
	}
	return s.run(ctx, actionTimeout, actions...)
}

func (s *chromedpSession) Scroll(ctx context.Context) error {
	return s.run(ctx, actionTimeout, chromedp.Evaluate(scrollScript, nil))
}

func (s *chromedpSession) CaptureFrame(ctx context.Context) error {
	var shot []byte
	if err := s.run(ctx, actionTimeout, chromedp.CaptureScreenshot(&shot)); err != nil {
		return fmt.Errorf("capture frame: %w", err)
	}
	s.frameCount++
	path := filepath.Join(s.framesDir, fmt.Sprintf("frame_%04d.png", s.frameCount))
	return os.WriteFile(path, shot, 0o644)
}

func (s *chromedpSession) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		s.allocCancel()
	})
	return nil
}

// callOnTarget resolves the element carrying the snapshot index and invokes
// the given function with "this" bound to it.
func (s *chromedpSession) callOnTarget(targetID int, fnDecl string) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		obj, err := s.resolveTarget(ctx, targetID)
		if err != nil {
			return err
		}
		_, exc, err := runtime.CallFunctionOn(fnDecl).
			WithObjectID(obj.ObjectID).
			Do(ctx)
		if err != nil {
			return err
		}
		if exc != nil {
			return fmt.Errorf("target %d: %s", targetID, exc.Text)
		}
		return nil
	})
}

func (s *chromedpSession) focusTarget(targetID int) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		root, err := dom.GetDocument().Do(ctx)
		if err != nil {
			return err
		}
		nodeID, err := dom.QuerySelector(root.NodeID, selectorFor(targetID)).Do(ctx)
		if err != nil {
			return err
		}
		return dom.Focus().WithNodeID(nodeID).Do(ctx)
	})
}

func (s *chromedpSession) resolveTarget(ctx context.Context, targetID int) (*runtime.RemoteObject, error) {
	root, err := dom.GetDocument().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}
	nodeID, err := dom.QuerySelector(root.NodeID, selectorFor(targetID)).Do(ctx)
	if err != nil || nodeID == 0 {
		return nil, fmt.Errorf("target %d not found in current page", targetID)
	}
	obj, err := dom.ResolveNode().WithNodeID(nodeID).Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve node: %w", err)
	}
	if obj == nil || obj.ObjectID == "" {
		return nil, fmt.Errorf("target %d detached", targetID)
	}
	return obj, nil
}
