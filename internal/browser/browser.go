package browser

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// ErrProvision marks a failure to launch the underlying browser engine.
// Fatal for the run, never retried.
var ErrProvision = errors.New("browser provisioning failed")

type Kind string

const (
	KindStandard Kind = "standard"
	KindStealth  Kind = "stealth"
)

// Options configures one session acquisition. FramesDir receives the
// recording frames; it must exist before Acquire is called so the sink is
// armed before the first navigation.
type Options struct {
	Engine    Kind
	FramesDir string
	Headless  bool
	ProxyURL  string
	ProxyUser string
	ProxyPass string
}

// Snapshot is the observable page state handed to the model: an indexed
// tree of interactive elements plus visual context.
type Snapshot struct {
	URL              string
	Title            string
	Tree             string
	ScreenshotBase64 string
}

// Session is one live automated browser bound to a single run. Element
// targets refer to the [n] indices of the most recent Snapshot. All methods
// honor ctx cancellation; Close is safe to call more than once and must be
// called on every exit path.
type Session interface {
	Navigate(ctx context.Context, url string) error
	Snapshot(ctx context.Context) (*Snapshot, error)
	Click(ctx context.Context, targetID int) error
	Type(ctx context.Context, targetID int, text string, submit bool) error
	Scroll(ctx context.Context) error
	CaptureFrame(ctx context.Context) error
	Close() error
}

// Provisioner acquires a ready, navigable session with its recording sink
// already armed.
type Provisioner interface {
	Acquire(ctx context.Context, opts Options) (Session, error)
}

// Launcher is the production provisioner, switching between the CDP-driven
// standard engine and the playwright stealth engine.
type Launcher struct {
	log *zap.Logger
}

func NewLauncher(log *zap.Logger) *Launcher {
	return &Launcher{log: log}
}

func (l *Launcher) Acquire(ctx context.Context, opts Options) (Session, error) {
	switch opts.Engine {
	case KindStandard:
		return newChromedpSession(ctx, opts, l.log)
	case KindStealth:
		return newPlaywrightSession(ctx, opts, l.log)
	default:
		return nil, fmt.Errorf("%w: unknown engine %q", ErrProvision, opts.Engine)
	}
}

func selectorFor(targetID int) string {
	return fmt.Sprintf("[data-ai-id='%d']", targetID)
}
