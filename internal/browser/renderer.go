// Package browser owns the rendering surface for a solving session: one
// detached Chrome instance with a single tracked page, driven through Rod.
package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"quiznerd/internal/config"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"
)

// Snapshot is a point-in-time view of the rendered page.
type Snapshot struct {
	URL        string
	Title      string
	HTML       string
	Screenshot []byte
	CapturedAt time.Time
}

// Renderer wraps a Rod browser with exactly one page. A session owns its
// renderer exclusively; Shutdown must run no matter how the session exits.
type Renderer struct {
	cfg config.BrowserConfig
	log *zap.Logger

	mu         sync.Mutex
	browser    *rod.Browser
	page       *rod.Page
	controlURL string
	currentURL string
}

func NewRenderer(cfg config.BrowserConfig, log *zap.Logger) *Renderer {
	return &Renderer{cfg: cfg, log: log}
}

// Start connects to an existing Chrome or launches a new one using Rod's launcher.
func (r *Renderer) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.browser != nil {
		if _, err := r.browser.Version(); err == nil {
			return nil
		}
		_ = r.browser.Close()
		r.browser = nil
		r.page = nil
	}

	controlURL := r.cfg.DebuggerURL
	if controlURL == "" {
		launch := launcher.New().Headless(r.cfg.IsHeadless())
		if len(r.cfg.Launch) > 0 {
			launch = launch.Bin(r.cfg.Launch[0])
			for _, rawFlag := range r.cfg.Launch[1:] {
				flagStr := strings.TrimLeft(rawFlag, "-")
				name, val, hasVal := strings.Cut(flagStr, "=")
				if hasVal {
					launch = launch.Set(flags.Flag(name), val)
				} else {
					launch = launch.Set(flags.Flag(name))
				}
			}
		}
		url, err := launch.Launch()
		if err != nil {
			return fmt.Errorf("launch chrome: %w", err)
		}
		controlURL = url
	}

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		return fmt.Errorf("connect to chrome: %w", err)
	}

	r.browser = browser
	r.controlURL = controlURL
	r.log.Info("browser connected", zap.String("control_url", controlURL))
	return nil
}

// OpenPage creates the session's page in an incognito context and loads url.
func (r *Renderer) OpenPage(ctx context.Context, url string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.browser == nil {
		return errors.New("browser not connected")
	}
	if r.page != nil {
		return errors.New("page already open")
	}

	incognito, err := r.browser.Incognito()
	if err != nil {
		return fmt.Errorf("incognito context: %w", err)
	}

	page, err := incognito.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return fmt.Errorf("create page: %w", err)
	}

	if err := (proto.EmulationSetDeviceMetricsOverride{
		Width:             r.cfg.GetViewportWidth(),
		Height:            r.cfg.GetViewportHeight(),
		DeviceScaleFactor: 1.0,
		Mobile:            false,
	}).Call(page); err != nil {
		r.log.Warn("failed to set viewport", zap.Error(err))
	}

	r.page = page
	return r.navigateLocked(ctx, url)
}

// Navigate loads url in the session page and waits for the load event.
func (r *Renderer) Navigate(ctx context.Context, url string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.navigateLocked(ctx, url)
}

func (r *Renderer) navigateLocked(ctx context.Context, url string) error {
	if r.page == nil {
		return errors.New("no page open")
	}

	page := r.page.Context(ctx).Timeout(r.cfg.NavigationTimeout())
	if err := page.Navigate(url); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	if err := page.WaitLoad(); err != nil {
		// The page may still be usable; record and continue.
		r.log.Warn("page load wait failed", zap.String("url", url), zap.Error(err))
	}
	r.currentURL = url
	return nil
}

// CurrentURL reports the page's last known location, preferring the live
// target info when available.
func (r *Renderer) CurrentURL() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.page != nil {
		if info, err := r.page.Info(); err == nil && info.URL != "" {
			r.currentURL = info.URL
		}
	}
	return r.currentURL
}

// Snapshot captures the page HTML, URL, and a screenshot in one pass.
// Screenshot failures are not fatal; the HTML view is the primary artifact.
func (r *Renderer) Snapshot(ctx context.Context) (*Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.page == nil {
		return nil, errors.New("no page open")
	}

	page := r.page.Context(ctx)
	html, err := page.HTML()
	if err != nil {
		return nil, fmt.Errorf("capture html: %w", err)
	}

	snap := &Snapshot{
		HTML:       html,
		URL:        r.currentURL,
		CapturedAt: time.Now(),
	}
	if info, err := page.Info(); err == nil {
		if info.URL != "" {
			snap.URL = info.URL
			r.currentURL = info.URL
		}
		snap.Title = info.Title
	}

	shot, err := page.Screenshot(true, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
	if err != nil {
		r.log.Warn("screenshot failed", zap.Error(err))
	} else {
		snap.Screenshot = shot
	}

	return snap, nil
}

// Shutdown closes the tracked page and the underlying browser.
func (r *Renderer) Shutdown() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.page != nil {
		_ = r.page.Close()
		r.page = nil
	}

	var err error
	if r.browser != nil {
		err = r.browser.Close()
		r.browser = nil
	}
	r.controlURL = ""
	r.log.Info("browser shutdown complete")
	return err
}
