// Package fuzzy registers similarity hash implementations. The detector
// hashes each content sample and compares it against the last observed
// state of the same path; a large distance on a small edit is one more
// sign of in-place encryption.
package fuzzy

import "strings"

// Hasher is one similarity hash implementation.
type Hasher interface {
	Name() string
	HashBytes(data []byte) (string, error)
	// Distance compares two previously produced hashes. Larger values
	// mean less similar content.
	Distance(a, b string) (int, error)
}

var registry = map[string]Hasher{}

// Register adds a hasher to the registry.
func Register(hasher Hasher) {
	if hasher == nil {
		return
	}
	registry[strings.ToLower(hasher.Name())] = hasher
}

// Lookup returns a registered hasher by name.
func Lookup(name string) (Hasher, bool) {
	hasher, ok := registry[strings.ToLower(name)]
	return hasher, ok
}

// Available returns the names of registered hashers.
func Available() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	return names
}
