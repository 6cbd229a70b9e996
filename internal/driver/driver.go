// Package driver is the Driver Factory (spec §4.1): it launches and
// probes real browser processes through playwright-go and hands back a
// session.DriverHandle the rest of the core depends on abstractly.
//
// Only the two kinds spec.md's closed enum names are launchable here —
// chromium-like and firefox-like. The teacher's pool also offered a
// webkit path; that kind is intentionally absent (see SPEC_FULL.md §4).
package driver

import (
	"context"
	"fmt"
	"time"

	"github.com/playwright-community/playwright-go"
	"go.uber.org/zap"

	"browsercontrol/internal/apxerrors"
	"browsercontrol/internal/breaker"
	"browsercontrol/internal/logging"
	"browsercontrol/internal/session"
)

const (
	KindChromiumLike = "chromium-like"
	KindFirefoxLike  = "firefox-like"
)

// Factory launches and tears down browser processes for the Session
// Pool. It owns the single playwright.Playwright driver-manager process
// the whole core shares.
type Factory struct {
	pw       *playwright.Playwright
	breakers *breaker.Registry
	headless bool

	chromium playwright.BrowserType
	firefox  playwright.BrowserType
}

// NewFactory starts the playwright driver-manager process. It must be
// called exactly once per process and Stop'd on shutdown.
func NewFactory(headless bool, breakers *breaker.Registry) (*Factory, error) {
	pw, err := playwright.Run()
	if err != nil {
		return nil, apxerrors.Wrap(apxerrors.CodeDriverCreateFailed, "starting playwright driver manager", err)
	}

	return &Factory{
		pw:       pw,
		breakers: breakers,
		headless: headless,
		chromium: pw.Chromium,
		firefox:  pw.Firefox,
	}, nil
}

// Stop shuts down the shared playwright driver-manager process. Call
// only after every handle it produced has been closed.
func (f *Factory) Stop() error {
	return f.pw.Stop()
}

func (f *Factory) browserTypeFor(kind string) (playwright.BrowserType, error) {
	switch kind {
	case KindChromiumLike:
		return f.chromium, nil
	case KindFirefoxLike:
		return f.firefox, nil
	default:
		return nil, apxerrors.New(apxerrors.CodeValidation, "unsupported driver kind "+kind).WithField("kind", kind)
	}
}

// Create launches a fresh, isolated browser context of the given kind,
// guarded by that kind's circuit breaker (spec §4.1: "transient launch
// failures must not cascade into pool exhaustion for healthy kinds").
func (f *Factory) Create(ctx context.Context, kind string) (session.DriverHandle, error) {
	bt, err := f.browserTypeFor(kind)
	if err != nil {
		return nil, err
	}

	result, err := f.breakers.Execute(kind, func() (interface{}, error) {
		return f.launch(bt, kind)
	})
	if err != nil {
		return nil, apxerrors.Wrap(apxerrors.CodeDriverCreateFailed, "launching "+kind+" driver", err)
	}
	return result.(*Handle), nil
}

func (f *Factory) launch(bt playwright.BrowserType, kind string) (*Handle, error) {
	launchOpts := playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(f.headless),
		Args: []string{
			"--disable-blink-features=AutomationControlled",
			"--disable-dev-shm-usage",
			"--no-sandbox",
		},
	}

	browser, err := bt.Launch(launchOpts)
	if err != nil {
		return nil, fmt.Errorf("launch %s: %w", kind, err)
	}

	bctx, err := browser.NewContext(playwright.BrowserNewContextOptions{
		Viewport: &playwright.Size{Width: 1920, Height: 1080},
		Locale:   playwright.String("en-US"),
	})
	if err != nil {
		browser.Close()
		return nil, fmt.Errorf("new context: %w", err)
	}

	page, err := bctx.NewPage()
	if err != nil {
		bctx.Close()
		browser.Close()
		return nil, fmt.Errorf("new page: %w", err)
	}
	page.SetDefaultTimeout(30000)
	page.SetDefaultNavigationTimeout(30000)

	id := fmt.Sprintf("%s-%d", kind, time.Now().UnixNano())
	logging.Info("driver created", zap.String("id", id), zap.String("kind", kind))

	return &Handle{
		id:      id,
		kind:    kind,
		browser: browser,
		bctx:    bctx,
		page:    page,
	}, nil
}

// Handle is the playwright-backed implementation of session.DriverHandle.
type Handle struct {
	id      string
	kind    string
	browser playwright.Browser
	bctx    playwright.BrowserContext
	page    playwright.Page
}

func (h *Handle) ID() string   { return h.id }
func (h *Handle) Kind() string { return h.kind }

// Page exposes the underlying page for tool handlers in internal/tool.
func (h *Handle) Page() playwright.Page { return h.page }

// Context exposes the underlying browser context (storage/cookie tools).
func (h *Handle) Context() playwright.BrowserContext { return h.bctx }

func (h *Handle) Validate(ctx context.Context) bool {
	return h.browser.IsConnected()
}

func (h *Handle) Probe(ctx context.Context) session.ProbeResult {
	start := time.Now()
	if !h.browser.IsConnected() {
		return session.ProbeResult{Healthy: false}
	}

	_, evalErr := h.page.Evaluate("1 + 1")
	canNavigate := true
	if _, err := h.page.Title(); err != nil {
		canNavigate = false
	}

	return session.ProbeResult{
		Healthy:          true,
		CanNavigate:      canNavigate,
		CanExecuteScript: evalErr == nil,
		ResponseTimeMs:   time.Since(start).Milliseconds(),
	}
}

func (h *Handle) Close(ctx context.Context) error {
	var firstErr error
	if err := h.bctx.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := h.browser.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
