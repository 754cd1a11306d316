package content

// Kind identifies one content family and how it is keyed.
type Kind struct {
	// Prefix is the primary-key prefix, e.g. "BLOG".
	Prefix string

	// Type is the lowercase content type used in analytics keys,
	// e.g. "blog".
	Type string
}

// The content families served by the system.
var (
	Blog          = Kind{Prefix: "BLOG", Type: "blog"}
	Project       = Kind{Prefix: "PROJECT", Type: "project"}
	Certification = Kind{Prefix: "CERT", Type: "certification"}
)

// Registry resolves content kinds by prefix or type. The stream handler
// uses it to map removed items back to their analytics counters.
type Registry struct {
	kinds    []Kind
	byPrefix map[string]Kind
	byType   map[string]Kind
}

// NewRegistry creates a registry holding the given kinds.
func NewRegistry(kinds ...Kind) *Registry {
	r := &Registry{
		byPrefix: make(map[string]Kind, len(kinds)),
		byType:   make(map[string]Kind, len(kinds)),
	}
	for _, k := range kinds {
		r.kinds = append(r.kinds, k)
		r.byPrefix[k.Prefix] = k
		r.byType[k.Type] = k
	}
	return r
}

// DefaultRegistry returns a registry of all built-in content kinds.
func DefaultRegistry() *Registry {
	return NewRegistry(Blog, Project, Certification)
}

// ByPrefix resolves a kind from its primary-key prefix.
func (r *Registry) ByPrefix(prefix string) (Kind, bool) {
	k, ok := r.byPrefix[prefix]
	return k, ok
}

// ByType resolves a kind from its analytics content type.
func (r *Registry) ByType(contentType string) (Kind, bool) {
	k, ok := r.byType[contentType]
	return k, ok
}

// Kinds returns all registered kinds.
func (r *Registry) Kinds() []Kind {
	return r.kinds
}
