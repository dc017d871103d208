package core

// Store supplies flag definitions by key. Implementations must be safe for
// concurrent use.
type Store interface {
	// Find returns the definition for key, if any.
	Find(key string) (Definition, bool)
	// FindAll returns every known definition keyed by flag key. The caller
	// owns the returned map.
	FindAll() map[string]Definition
}
