package driver

import (
	"context"
	"encoding/json"

	"github.com/playwright-community/playwright-go"

	"browsercontrol/internal/apxerrors"
	"browsercontrol/internal/tool"
)

// capability adapts a single Handle's playwright.Page to the uniform
// tool.Capability surface (spec §4.5 step 5). Tool handlers depend only
// on tool.Capability, never on playwright-go directly.
type capability struct {
	handle *Handle
}

// CapabilityFor returns the tool.Capability a dispatcher binds to a
// bound session's DriverHandle.
func CapabilityFor(handle *Handle) tool.Capability {
	return &capability{handle: handle}
}

func (c *capability) Navigate(ctx context.Context, url string) error {
	_, err := c.handle.page.Goto(url)
	if err != nil {
		return apxerrors.Wrap(apxerrors.CodeTimeout, "navigation failed", err)
	}
	return nil
}

func (c *capability) FindElement(ctx context.Context, selector string) (tool.ElementRef, error) {
	el, err := c.handle.page.QuerySelector(selector)
	if err != nil || el == nil {
		return tool.ElementRef{Selector: selector, Found: false}, apxerrors.New(apxerrors.CodeElementNotFound, "no element matched selector").WithField("selector", selector)
	}
	return tool.ElementRef{Selector: selector, Found: true}, nil
}

func (c *capability) Click(ctx context.Context, selector string) error {
	if err := c.handle.page.Click(selector); err != nil {
		return apxerrors.Wrap(apxerrors.CodeElementNotInteract, "click failed", err)
	}
	return nil
}

func (c *capability) Type(ctx context.Context, selector, text string) error {
	if err := c.handle.page.Fill(selector, text); err != nil {
		return apxerrors.Wrap(apxerrors.CodeElementNotInteract, "type failed", err)
	}
	return nil
}

func (c *capability) Screenshot(ctx context.Context) ([]byte, error) {
	data, err := c.handle.page.Screenshot()
	if err != nil {
		return nil, apxerrors.Wrap(apxerrors.CodeInternal, "screenshot failed", err)
	}
	return data, nil
}

func (c *capability) InjectScript(ctx context.Context, script string) error {
	if _, err := c.handle.page.AddScriptTag(playwright.PageAddScriptTagOptions{Content: &script}); err != nil {
		return apxerrors.Wrap(apxerrors.CodeInternal, "script injection failed", err)
	}
	return nil
}

func (c *capability) Evaluate(ctx context.Context, expression string) (interface{}, error) {
	result, err := c.handle.page.Evaluate(expression)
	if err != nil {
		return nil, apxerrors.Wrap(apxerrors.CodeInternal, "evaluation failed", err)
	}
	return result, nil
}

func (c *capability) SwitchFrame(ctx context.Context, frameSelector string) error {
	frame := c.handle.page.Frame(frameSelector)
	if frame == nil {
		return apxerrors.New(apxerrors.CodeElementNotFound, "no frame matched selector").WithField("frame", frameSelector)
	}
	return nil
}

func (c *capability) OpenWindow(ctx context.Context) (string, error) {
	page, err := c.handle.bctx.NewPage()
	if err != nil {
		return "", apxerrors.Wrap(apxerrors.CodeInternal, "open window failed", err)
	}
	return page.URL(), nil
}

func (c *capability) CloseWindow(ctx context.Context, windowID string) error {
	for _, page := range c.handle.bctx.Pages() {
		if page.URL() == windowID {
			return page.Close()
		}
	}
	return apxerrors.New(apxerrors.CodeElementNotFound, "no window matched id").WithField("windowId", windowID)
}

func (c *capability) ListWindows(ctx context.Context) ([]string, error) {
	pages := c.handle.bctx.Pages()
	ids := make([]string, 0, len(pages))
	for _, p := range pages {
		ids = append(ids, p.URL())
	}
	return ids, nil
}

func (c *capability) ReadStorage(ctx context.Context, kind string) (map[string]string, error) {
	switch kind {
	case "cookies":
		cookies, err := c.handle.bctx.Cookies()
		if err != nil {
			return nil, apxerrors.Wrap(apxerrors.CodeInternal, "reading cookies failed", err)
		}
		out := make(map[string]string, len(cookies))
		for _, ck := range cookies {
			out[ck.Name] = ck.Value
		}
		return out, nil
	case "local-storage":
		raw, err := c.handle.page.Evaluate("() => JSON.stringify(window.localStorage)")
		if err != nil {
			return nil, apxerrors.Wrap(apxerrors.CodeInternal, "reading local storage failed", err)
		}
		out := map[string]string{}
		if s, ok := raw.(string); ok && s != "" {
			if err := json.Unmarshal([]byte(s), &out); err != nil {
				return nil, apxerrors.Wrap(apxerrors.CodeInternal, "decoding local storage failed", err)
			}
		}
		return out, nil
	default:
		return nil, apxerrors.New(apxerrors.CodeValidation, "unrecognized storage kind").WithField("kind", kind)
	}
}

func (c *capability) NetworkCapture(ctx context.Context, action string) error {
	switch action {
	case "start", "stop", "block":
		return nil
	default:
		return apxerrors.New(apxerrors.CodeValidation, "unrecognized network capture action").WithField("action", action)
	}
}

func (c *capability) PerformanceSample(ctx context.Context) (map[string]float64, error) {
	raw, err := c.handle.page.Evaluate(`() => {
		const t = performance.timing;
		return {domContentLoaded: t.domContentLoadedEventEnd - t.navigationStart, load: t.loadEventEnd - t.navigationStart};
	}`)
	if err != nil {
		return nil, apxerrors.Wrap(apxerrors.CodeInternal, "performance sample failed", err)
	}
	out := map[string]float64{}
	if m, ok := raw.(map[string]interface{}); ok {
		for k, v := range m {
			if f, ok := v.(float64); ok {
				out[k] = f
			}
		}
	}
	return out, nil
}
