package parser

import (
	"fmt"
	"sort"
	"sync"

	"tabload/internal/config"
)

// Factory builds a Format from the source options of a pipeline.
type Factory func(opt config.Options) (Format, error)

var (
	mu        sync.RWMutex
	factories = map[string]Factory{}
)

// Register makes a format available under kind (e.g. "csv", "xlsx").
//
// Call Register from an init() function in the format package. Registering an
// empty kind, a nil factory or the same kind twice panics.
func Register(kind string, f Factory) {
	mu.Lock()
	defer mu.Unlock()

	if kind == "" {
		panic("parser: Register called with empty kind")
	}
	if f == nil {
		panic("parser: Register called with nil factory")
	}
	if _, exists := factories[kind]; exists {
		panic(fmt.Sprintf("parser: factory already registered for kind=%q", kind))
	}
	factories[kind] = f
}

// New builds the format registered under kind.
func New(kind string, opt config.Options) (Format, error) {
	if kind == "" {
		return nil, fmt.Errorf("parser: missing source.kind")
	}
	mu.RLock()
	f := factories[kind]
	mu.RUnlock()

	if f == nil {
		return nil, fmt.Errorf("unsupported source.kind=%s (registered: %v)", kind, Kinds())
	}
	return f(opt)
}

// Kinds lists registered kinds in sorted order.
func Kinds() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
