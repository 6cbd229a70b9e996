// Package tool defines the descriptor shape the dispatcher resolves
// tool names through (spec §9: "a registration table of tool
// descriptors... schemas are explicit values, not reflection over a
// class") and the uniform capability set a handler uses to interact
// with a bound session (spec §4.5 step 5).
package tool

import (
	"context"

	"browsercontrol/internal/apxerrors"
	"browsercontrol/internal/session"
)

// ParamKind enumerates the shapes a declared parameter may take.
type ParamKind string

const (
	KindString ParamKind = "string"
	KindInt    ParamKind = "int"
	KindBool   ParamKind = "bool"
	KindObject ParamKind = "object"
)

// ParamSpec is one declared parameter in a tool's schema (spec §4.5
// step 4: "shape, types, enum memberships, numeric ranges, string
// length caps...").
type ParamSpec struct {
	Name       string
	Kind       ParamKind
	Required   bool
	EnumValues []string
	MinLength  int
	MaxLength  int
	Min        int
	Max        int
	Secret     bool // never echoed back in a validation error's Value
}

// Schema is a tool's full declared parameter set.
type Schema struct {
	Params []ParamSpec
}

// Params is the opaque, already-validated argument map a Handler
// receives.
type Params map[string]interface{}

// Capability is the small uniform set a tool handler may invoke against
// a bound session's DriverHandle (spec §4.5 step 5). Concrete drivers
// (internal/driver) implement it; handlers never reach past it into
// playwright-go directly, which keeps tool surfaces swappable.
type Capability interface {
	Navigate(ctx context.Context, url string) error
	FindElement(ctx context.Context, selector string) (ElementRef, error)
	Click(ctx context.Context, selector string) error
	Type(ctx context.Context, selector, text string) error
	Screenshot(ctx context.Context) ([]byte, error)
	InjectScript(ctx context.Context, script string) error
	Evaluate(ctx context.Context, expression string) (interface{}, error)
	SwitchFrame(ctx context.Context, frameSelector string) error
	OpenWindow(ctx context.Context) (string, error)
	CloseWindow(ctx context.Context, windowID string) error
	ListWindows(ctx context.Context) ([]string, error)
	ReadStorage(ctx context.Context, kind string) (map[string]string, error)
	NetworkCapture(ctx context.Context, action string) error
	PerformanceSample(ctx context.Context) (map[string]float64, error)
}

// ElementRef is an opaque handle to a DOM element located by a prior
// find-element call.
type ElementRef struct {
	Selector string
	Found    bool
}

// Handler executes one tool call against a bound session and its
// capability surface, returning whatever data the response envelope's
// `data` field should carry.
type Handler func(ctx context.Context, params Params, rec *session.Record, cap Capability) (interface{}, error)

// Descriptor is a single registered tool (spec §3's ToolInvocation
// target, spec §9's descriptor-as-data re-architecture).
type Descriptor struct {
	Name     string
	Resource string
	Action   string
	Schema   Schema
	Handler  Handler
}

// Registry is the dispatcher's name→Descriptor table.
type Registry struct {
	byName map[string]Descriptor
}

func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]Descriptor)}
}

func (r *Registry) Register(d Descriptor) {
	r.byName[d.Name] = d
}

func (r *Registry) Lookup(name string) (Descriptor, error) {
	d, ok := r.byName[name]
	if !ok {
		return Descriptor{}, apxerrors.New(apxerrors.CodeUnknownTool, "no tool registered with this name").WithField("tool", name)
	}
	return d, nil
}

// Validate checks params against schema per spec §4.5 step 4. Secret
// fields never appear in the returned error's Value.
func Validate(schema Schema, params Params) error {
	ve := apxerrors.ValidationErrs()

	for _, spec := range schema.Params {
		raw, present := params[spec.Name]
		if !present {
			if spec.Required {
				ve.Add(spec.Name, "required parameter missing")
			}
			continue
		}

		switch spec.Kind {
		case KindString:
			s, ok := raw.(string)
			if !ok {
				ve.Add(spec.Name, "must be a string")
				continue
			}
			if spec.MaxLength > 0 && len(s) > spec.MaxLength {
				ve.Add(spec.Name, "exceeds maximum length")
			}
			if spec.MinLength > 0 && len(s) < spec.MinLength {
				ve.Add(spec.Name, "below minimum length")
			}
			if len(spec.EnumValues) > 0 && !contains(spec.EnumValues, s) {
				ve.Add(spec.Name, "not one of the recognized values")
			}
		case KindInt:
			n, ok := raw.(int)
			if !ok {
				ve.Add(spec.Name, "must be an integer")
				continue
			}
			if spec.Min != 0 && n < spec.Min {
				ve.Add(spec.Name, "below minimum")
			}
			if spec.Max != 0 && n > spec.Max {
				ve.Add(spec.Name, "above maximum")
			}
		case KindBool:
			if _, ok := raw.(bool); !ok {
				ve.Add(spec.Name, "must be a boolean")
			}
		case KindObject:
			if _, ok := raw.(map[string]interface{}); !ok {
				ve.Add(spec.Name, "must be an object")
			}
		}
	}

	// Closed recognized option set: unknown keys fail validation (spec §6).
	known := make(map[string]bool, len(schema.Params))
	for _, spec := range schema.Params {
		known[spec.Name] = true
	}
	for key := range params {
		if !known[key] {
			ve.Add(key, "unrecognized parameter")
		}
	}

	return ve.Err()
}

func contains(values []string, target string) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}
