// Package consumer provides a registry of named replication.Consumer
// implementations, mirroring the Connector registry pattern the rest of
// this codebase's ancestor used for its ETL sinks.
package consumer

import (
	"fmt"
	"sync"

	"github.com/nodalflow/pgcdc/pkg/replication"
)

var (
	mu       sync.RWMutex
	registry = map[string]replication.Consumer{}
)

// Register installs a Consumer under name. The debug sink calls this from
// its init(), so importing that package is enough to make it available by
// name; the other sinks need live configuration and are only registered
// when a caller passes a built Consumer to their Register function.
func Register(name string, c replication.Consumer) {
	mu.Lock()
	defer mu.Unlock()
	registry[name] = c
}

// Get returns the Consumer registered under name.
func Get(name string) (replication.Consumer, error) {
	mu.RLock()
	defer mu.RUnlock()
	c, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("consumer: no sink registered under %q", name)
	}
	return c, nil
}

// Names returns every registered sink name.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	return names
}
