package responder

import (
	"fmt"

	"mailpilot/internal/model"
)

// Registry holds tools in registration order. It is built once and passed
// explicitly to each Generate call.
type Registry struct {
	tools []Tool
	names map[string]struct{}
}

func NewRegistry(tools ...Tool) (*Registry, error) {
	r := &Registry{names: make(map[string]struct{}, len(tools))}
	for _, t := range tools {
		if err := r.Register(t); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register appends t. Tool names must be unique.
func (r *Registry) Register(t Tool) error {
	if t == nil || t.Name() == "" {
		return fmt.Errorf("responder: tool must have a name")
	}
	if _, dup := r.names[t.Name()]; dup {
		return fmt.Errorf("responder: duplicate tool %q", t.Name())
	}
	if r.names == nil {
		r.names = make(map[string]struct{})
	}
	r.names[t.Name()] = struct{}{}
	r.tools = append(r.tools, t)
	return nil
}

func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.tools)
}

// Applicable returns, in registration order, the tools whose affinity
// includes c.
func (r *Registry) Applicable(c model.Category) []Tool {
	if r == nil {
		return nil
	}
	var out []Tool
	for _, t := range r.tools {
		cats := t.Categories()
		if len(cats) == 0 {
			out = append(out, t)
			continue
		}
		for _, tc := range cats {
			if tc == c {
				out = append(out, t)
				break
			}
		}
	}
	return out
}
