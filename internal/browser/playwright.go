package browser

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/playwright-community/playwright-go"
	"go.uber.org/zap"
)

// playwrightSession is the stealth engine: a persistent chromium context
// launched with anti-automation flags, a desktop user agent and a
// fingerprint-masking init script injected before every page load.
type playwrightSession struct {
	pw      *playwright.Playwright
	context playwright.BrowserContext
	page    playwright.Page
	log     *zap.Logger

	framesDir  string
	profileDir string
	frameCount int

	closeOnce sync.Once
}

func newPlaywrightSession(ctx context.Context, opts Options, log *zap.Logger) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := playwright.Install(); err != nil {
		return nil, fmt.Errorf("%w: install drivers: %v", ErrProvision, err)
	}

	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("%w: start playwright: %v", ErrProvision, err)
	}

	profileDir, err := os.MkdirTemp("", "agent-profile-*")
	if err != nil {
		_ = pw.Stop()
		return nil, fmt.Errorf("%w: profile dir: %v", ErrProvision, err)
	}

	launchOpts := playwright.BrowserTypeLaunchPersistentContextOptions{
		Headless:  playwright.Bool(opts.Headless),
		Viewport:  &playwright.Size{Width: 1920, Height: 1080},
		UserAgent: playwright.String(stealthUserAgent),
		Args:      stealthArgs,
	}
	if opts.ProxyURL != "" {
		proxy := &playwright.Proxy{Server: opts.ProxyURL}
		if opts.ProxyUser != "" {
			proxy.Username = playwright.String(opts.ProxyUser)
			proxy.Password = playwright.String(opts.ProxyPass)
		}
		launchOpts.Proxy = proxy
	}

	bctx, err := pw.Chromium.LaunchPersistentContext(profileDir, launchOpts)
	if err != nil {
		_ = pw.Stop()
		_ = os.RemoveAll(profileDir)
		return nil, fmt.Errorf("%w: launch chromium: %v", ErrProvision, err)
	}

	// The init script must be registered before the first navigation so the
	// very first document already carries the masked fingerprint.
	if err := bctx.AddInitScript(playwright.Script{Content: playwright.String(stealthScript)}); err != nil {
		_ = bctx.Close()
		_ = pw.Stop()
		_ = os.RemoveAll(profileDir)
		return nil, fmt.Errorf("%w: add init script: %v", ErrProvision, err)
	}

	var page playwright.Page
	if pages := bctx.Pages(); len(pages) > 0 {
		page = pages[0]
	} else {
		page, err = bctx.NewPage()
		if err != nil {
			_ = bctx.Close()
			_ = pw.Stop()
			_ = os.RemoveAll(profileDir)
			return nil, fmt.Errorf("%w: create page: %v", ErrProvision, err)
		}
	}
	page.SetDefaultTimeout(30000)
	page.SetDefaultNavigationTimeout(60000)

	s := &playwrightSession{
		pw:         pw,
		context:    bctx,
		page:       page,
		log:        log,
		framesDir:  opts.FramesDir,
		profileDir: profileDir,
	}

	if err := s.CaptureFrame(ctx); err != nil {
		log.Warn("initial frame capture failed", zap.Error(err))
	}

	return s, nil
}

func (s *playwrightSession) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := s.page.Goto(url); err != nil {
		return fmt.Errorf("goto %s: %w", url, err)
	}
	s.waitSettled()
	return nil
}

func (s *playwrightSession) Snapshot(ctx context.Context) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.waitSettled()

	result, err := s.page.Evaluate(snapshotScript)
	if err != nil {
		return nil, fmt.Errorf("snapshot evaluation: %w", err)
	}
	tree, ok := result.(string)
	if !ok {
		return nil, fmt.Errorf("snapshot: expected string, got %T", result)
	}

	title, _ := s.page.Title()

	// Viewport-only JPEG keeps vision token cost down.
	var screenshotB64 string
	if buf, err := s.page.Screenshot(playwright.PageScreenshotOptions{
		FullPage: playwright.Bool(false),
		Type:     playwright.ScreenshotTypeJpeg,
		Quality:  playwright.Int(70),
	}); err == nil {
		screenshotB64 = base64.StdEncoding.EncodeToString(buf)
	} else {
		s.log.Warn("screenshot failed", zap.Error(err))
	}

	return &Snapshot{
		URL:              s.page.URL(),
		Title:            title,
		Tree:             tree,
		ScreenshotBase64: screenshotB64,
	}, nil
}

func (s *playwrightSession) Click(ctx context.Context, targetID int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	selector := selectorFor(targetID)
	if err := s.page.Locator(selector).First().ScrollIntoViewIfNeeded(); err != nil {
		return fmt.Errorf("scroll to target %d: %w", targetID, err)
	}
	return s.page.Click(selector)
}

func (s *playwrightSession) Type(ctx context.Context, targetID int, text string, submit bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	selector := selectorFor(targetID)
	if err := s.page.Fill(selector, text); err != nil {
		return fmt.Errorf("fill target %d: %w", targetID, err)
	}
	if submit {
		return s.page.Press(selector, "Enter")
	}
	return nil
}

func (s *playwrightSession) Scroll(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := s.page.Evaluate(scrollScript)
	return err
}

func (s *playwrightSession) CaptureFrame(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	buf, err := s.page.Screenshot(playwright.PageScreenshotOptions{
		FullPage: playwright.Bool(false),
		Type:     playwright.ScreenshotTypePng,
	})
	if err != nil {
		return fmt.Errorf("capture frame: %w", err)
	}
	s.frameCount++
	path := filepath.Join(s.framesDir, fmt.Sprintf("frame_%04d.png", s.frameCount))
	return os.WriteFile(path, buf, 0o644)
}

func (s *playwrightSession) Close() error {
	s.closeOnce.Do(func() {
		if s.context != nil {
			_ = s.context.Close()
		}
		if s.pw != nil {
			_ = s.pw.Stop()
		}
		if s.profileDir != "" {
			_ = os.RemoveAll(s.profileDir)
		}
	})
	return nil
}

func (s *playwrightSession) waitSettled() {
	state := playwright.LoadStateNetworkidle
	_ = s.page.WaitForLoadState(playwright.PageWaitForLoadStateOptions{State: state})
}
