package capabilities

import (
	"sort"
	"strings"

	json "github.com/goccy/go-json"
)

// SourceCapabilities is the immutable capability set of one physical
// source. It is safe for concurrent use.
type SourceCapabilities struct {
	flags             [numCapabilities]bool
	functions         map[string]struct{}
	maxInCriteriaSize int
	maxFromGroups     int
	connectorID       string
	xa                bool
}

// Supports reports whether the source evaluates c natively
func (s *SourceCapabilities) Supports(c Capability) bool {
	if s == nil || !c.Valid() {
		return false
	}
	return s.flags[c]
}

// SupportsFunction reports whether the source evaluates the scalar function
// name. The lookup ignores case.
func (s *SourceCapabilities) SupportsFunction(name string) bool {
	if s == nil {
		return false
	}
	_, ok := s.functions[strings.ToLower(name)]
	return ok
}

// Functions returns the supported function names, lower-cased and sorted
func (s *SourceCapabilities) Functions() []string {
	if s == nil {
		return nil
	}
	out := make([]string, 0, len(s.functions))
	for name := range s.functions {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Supported returns the supported capabilities in declaration order
func (s *SourceCapabilities) Supported() []Capability {
	if s == nil {
		return nil
	}
	var out []Capability
	for c := Capability(1); c < numCapabilities; c++ {
		if s.flags[c] {
			out = append(out, c)
		}
	}
	return out
}

// MaxInCriteriaSize returns the largest IN value list the source accepts;
// zero or less means unlimited
func (s *SourceCapabilities) MaxInCriteriaSize() int {
	if s == nil {
		return 0
	}
	return s.maxInCriteriaSize
}

// MaxFromGroups returns the largest number of groups in a from clause;
// zero or less means unlimited
func (s *SourceCapabilities) MaxFromGroups() int {
	if s == nil {
		return 0
	}
	return s.maxFromGroups
}

// ConnectorID identifies the connector the capabilities were read from
func (s *SourceCapabilities) ConnectorID() string {
	if s == nil {
		return ""
	}
	return s.connectorID
}

// SupportsXA reports whether the source can enlist in global transactions
func (s *SourceCapabilities) SupportsXA() bool {
	return s != nil && s.xa
}

type sourceCapabilitiesJSON struct {
	ConnectorID       string   `json:"connector_id"`
	XA                bool     `json:"xa"`
	MaxInCriteriaSize int      `json:"max_in_criteria_size"`
	MaxFromGroups     int      `json:"max_from_groups"`
	Capabilities      []string `json:"capabilities"`
	Functions         []string `json:"functions"`
}

// MarshalJSON renders the capability set for display
func (s *SourceCapabilities) MarshalJSON() ([]byte, error) {
	supported := s.Supported()
	names := make([]string, len(supported))
	for i, c := range supported {
		names[i] = c.String()
	}
	return json.Marshal(sourceCapabilitiesJSON{
		ConnectorID:       s.ConnectorID(),
		XA:                s.SupportsXA(),
		MaxInCriteriaSize: s.MaxInCriteriaSize(),
		MaxFromGroups:     s.MaxFromGroups(),
		Capabilities:      names,
		Functions:         s.Functions(),
	})
}

// Builder assembles a SourceCapabilities. A Builder is not safe for
// concurrent use; the built value is.
type Builder struct {
	caps *SourceCapabilities
}

// NewBuilder returns a builder with every capability unsupported
func NewBuilder() *Builder {
	return &Builder{caps: &SourceCapabilities{functions: make(map[string]struct{})}}
}

// Set marks c as supported or not
func (b *Builder) Set(c Capability, supported bool) *Builder {
	if c.Valid() {
		b.caps.flags[c] = supported
	}
	return b
}

// Enable marks every capability in cs as supported
func (b *Builder) Enable(cs ...Capability) *Builder {
	for _, c := range cs {
		b.Set(c, true)
	}
	return b
}

// AddFunctions registers function names, lower-cased
func (b *Builder) AddFunctions(names ...string) *Builder {
	for _, name := range names {
		if name == "" {
			continue
		}
		b.caps.functions[strings.ToLower(name)] = struct{}{}
	}
	return b
}

// MaxInCriteriaSize sets the IN value list bound
func (b *Builder) MaxInCriteriaSize(n int) *Builder {
	b.caps.maxInCriteriaSize = n
	return b
}

// MaxFromGroups sets the from clause group bound
func (b *Builder) MaxFromGroups(n int) *Builder {
	b.caps.maxFromGroups = n
	return b
}

// ConnectorID sets the connector identifier
func (b *Builder) ConnectorID(id string) *Builder {
	b.caps.connectorID = id
	return b
}

// XA sets the global transaction flag
func (b *Builder) XA(xa bool) *Builder {
	b.caps.xa = xa
	return b
}

// Build returns the capability set. The builder must not be used afterwards.
func (b *Builder) Build() *SourceCapabilities {
	caps := b.caps
	b.caps = nil
	return caps
}
