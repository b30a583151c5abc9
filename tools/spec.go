package tools

import "encoding/json"

type (
	// Spec is the registry-resident descriptor for a tool. The Tool Executor
	// (4.F) resolves a Spec by Ident before validating arguments and invoking
	// the tool server.
	Spec struct {
		// Name is the globally unique tool identifier.
		Name Ident
		// ServerID identifies the tool server that owns this tool.
		ServerID string
		// PermissionScope labels what the tool is allowed to do, e.g. "github.read".
		PermissionScope string
		// InputSchema is the JSON Schema (draft 2020-12) describing valid
		// arguments. Validated by toolexec before invocation.
		InputSchema json.RawMessage
		// ReadOnly marks tools eligible for the content-addressed result cache
		// (4.F step 6).
		ReadOnly bool
		// Nested flags a tool as one that starts a nested agent run (see
		// SPEC_FULL.md "Supplemented features"). toolexec does not read it:
		// a Nested tool is invoked through its ServerID like any other.
		Nested bool
		// Timeout bounds a single invocation of this tool. Zero uses the
		// executor default.
		Timeout int64 // nanoseconds; kept as int64 so specs stay JSON-friendly
		// Tags carries free-form metadata (idempotency scope, UI hints, etc.).
		Tags []string
	}

	// Registry resolves tool descriptors by identifier. Implementations are
	// typically a static map built at startup from configuration.
	Registry interface {
		Spec(name Ident) (*Spec, bool)
		All() []*Spec
	}

	staticRegistry struct {
		specs map[Ident]*Spec
	}
)

// NewRegistry builds a Registry from a fixed set of specs. Duplicate names
// overwrite earlier entries, mirroring the teacher's last-registration-wins
// convention for descriptor tables.
func NewRegistry(specs ...*Spec) Registry {
	r := &staticRegistry{specs: make(map[Ident]*Spec, len(specs))}
	for _, s := range specs {
		if s == nil || s.Name == "" {
			continue
		}
		r.specs[s.Name] = s
	}
	return r
}

func (r *staticRegistry) Spec(name Ident) (*Spec, bool) {
	s, ok := r.specs[name]
	return s, ok
}

func (r *staticRegistry) All() []*Spec {
	out := make([]*Spec, 0, len(r.specs))
	for _, s := range r.specs {
		out = append(out, s)
	}
	return out
}
