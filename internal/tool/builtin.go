package tool

import (
	"context"
	"encoding/base64"
	"strings"

	"github.com/samber/lo"

	"browsercontrol/internal/apxerrors"
	"browsercontrol/internal/session"
)

// allowedURLSchemes is the URL-protocol allow-list spec §4.5 step 4
// calls for. The check runs inside the navigate handler, so it fails with
// VALIDATION only after the dispatcher has already bound a session.
var allowedURLSchemes = []string{"http://", "https://"}

func validateURLScheme(url string) error {
	if lo.ContainsBy(allowedURLSchemes, func(scheme string) bool { return strings.HasPrefix(url, scheme) }) {
		return nil
	}
	return apxerrors.New(apxerrors.CodeValidation, "URL scheme is not in the recognized allow-list").WithField("url", "")
}

// RegisterNavigation adds the navigation tool category (spec §6) to reg.
func RegisterNavigation(reg *Registry) {
	reg.Register(Descriptor{
		Name:     "navigate",
		Resource: "navigation",
		Action:   "navigate",
		Schema: Schema{Params: []ParamSpec{
			{Name: "url", Kind: KindString, Required: true, MaxLength: 2048},
		}},
		Handler: func(ctx context.Context, params Params, rec *session.Record, capa Capability) (interface{}, error) {
			url, _ := params["url"].(string)
			if err := validateURLScheme(url); err != nil {
				return nil, err
			}
			if err := capa.Navigate(ctx, url); err != nil {
				return nil, err
			}
			return map[string]string{"url": url}, nil
		},
	})

	reg.Register(Descriptor{
		Name:     "get_current_url",
		Resource: "navigation",
		Action:   "get*",
		Schema:   Schema{},
		Handler: func(ctx context.Context, params Params, rec *session.Record, capa Capability) (interface{}, error) {
			result, err := capa.Evaluate(ctx, "window.location.href")
			if err != nil {
				return nil, err
			}
			return map[string]interface{}{"url": result}, nil
		},
	})
}

// RegisterDOMInteraction adds the DOM interaction tool category (spec §6).
func RegisterDOMInteraction(reg *Registry) {
	reg.Register(Descriptor{
		Name:     "click",
		Resource: "dom",
		Action:   "click",
		Schema: Schema{Params: []ParamSpec{
			{Name: "selector", Kind: KindString, Required: true, MaxLength: 512},
		}},
		Handler: func(ctx context.Context, params Params, rec *session.Record, capa Capability) (interface{}, error) {
			selector, _ := params["selector"].(string)
			if err := capa.Click(ctx, selector); err != nil {
				return nil, err
			}
			return nil, nil
		},
	})

	reg.Register(Descriptor{
		Name:     "type",
		Resource: "dom",
		Action:   "type",
		Schema: Schema{Params: []ParamSpec{
			{Name: "selector", Kind: KindString, Required: true, MaxLength: 512},
			{Name: "text", Kind: KindString, Required: true, MaxLength: 8192},
		}},
		Handler: func(ctx context.Context, params Params, rec *session.Record, capa Capability) (interface{}, error) {
			selector, _ := params["selector"].(string)
			text, _ := params["text"].(string)
			if err := capa.Type(ctx, selector, text); err != nil {
				return nil, err
			}
			return nil, nil
		},
	})
}

// RegisterScriptExecution adds the script-execution tool category (spec §6).
func RegisterScriptExecution(reg *Registry) {
	reg.Register(Descriptor{
		Name:     "evaluate",
		Resource: "script",
		Action:   "evaluate",
		Schema: Schema{Params: []ParamSpec{
			{Name: "expression", Kind: KindString, Required: true, MaxLength: 16384},
		}},
		Handler: func(ctx context.Context, params Params, rec *session.Record, capa Capability) (interface{}, error) {
			expr, _ := params["expression"].(string)
			result, err := capa.Evaluate(ctx, expr)
			if err != nil {
				return nil, err
			}
			return map[string]interface{}{"result": result}, nil
		},
	})

	reg.Register(Descriptor{
		Name:     "inject_script",
		Resource: "script",
		Action:   "inject",
		Schema: Schema{Params: []ParamSpec{
			{Name: "script", Kind: KindString, Required: true, MaxLength: 65536},
		}},
		Handler: func(ctx context.Context, params Params, rec *session.Record, capa Capability) (interface{}, error) {
			script, _ := params["script"].(string)
			if err := capa.InjectScript(ctx, script); err != nil {
				return nil, err
			}
			return nil, nil
		},
	})
}

// ArtifactSink persists a captured artifact out-of-band (spec §6's
// screenshots/pagecache/reports surface). Upload must not block the
// tool response on confirmation; a nil sink means captures are returned
// inline only.
type ArtifactSink interface {
	Upload(ctx context.Context, kind, host, ext string, data []byte)
}

// RegisterExtraction adds the extraction tool category (spec §6). sink
// may be nil, in which case screenshots are returned inline only.
func RegisterExtraction(reg *Registry, sink ArtifactSink) {
	reg.Register(Descriptor{
		Name:     "take_screenshot",
		Resource: "extraction",
		Action:   "take_screenshot",
		Schema:   Schema{},
		Handler: func(ctx context.Context, params Params, rec *session.Record, capa Capability) (interface{}, error) {
			data, err := capa.Screenshot(ctx)
			if err != nil {
				return nil, err
			}
			if sink != nil {
				host := ""
				if h, err := capa.Evaluate(ctx, "window.location.hostname"); err == nil {
					host, _ = h.(string)
				}
				go sink.Upload(context.Background(), "screenshots", host, "png", data)
			}
			// The capture is returned inline as base-64 text, independent
			// of whether an artifact sink is also wired.
			return map[string]interface{}{"bytes": len(data), "data": base64.StdEncoding.EncodeToString(data)}, nil
		},
	})
}

// RegisterAll wires every builtin descriptor into reg. Called once at
// startup (spec §2's "Tool Dispatcher... resolves a tool name to a
// handler" needs a populated table before the first request).
func RegisterAll(reg *Registry, sink ArtifactSink) {
	RegisterNavigation(reg)
	RegisterDOMInteraction(reg)
	RegisterScriptExecution(reg)
	RegisterExtraction(reg, sink)
}
