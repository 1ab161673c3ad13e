package forecast

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/gridboost/gridboost/pkg/types"
	"github.com/levenlabs/go-lflag"
)

// Configured registers the provider flags and returns a Map holding every
// provider that ended up configured.
func Configured() *Map {
	cacheTTL := lflag.Duration("forecast-cache-ttl", 30*time.Minute, "How long forecast responses are reused")

	m := NewMap()
	sc := configuredSolcast(cacheTTL)
	fs := configuredForecastSolar(cacheTTL)

	lflag.Do(func() {
		if sc.Configured() {
			m.SetProvider(sc)
		}
		if fs.Configured() {
			m.SetProvider(fs)
		}
	})
	return m
}

// Map holds the available providers by name.
type Map struct {
	mu        sync.Mutex
	providers map[string]Provider
}

// NewMap creates an empty Map.
func NewMap() *Map {
	return &Map{
		providers: make(map[string]Provider),
	}
}

// Provider returns the named provider. An empty name picks the only
// configured provider when there is exactly one. It fails with
// types.ErrNoForecastSource when nothing matches.
func (m *Map) Provider(name string) (Provider, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if name == "" {
		if len(m.providers) == 1 {
			for _, p := range m.providers {
				return p, nil
			}
		}
		return nil, fmt.Errorf("%w: no forecaster selected", types.ErrNoForecastSource)
	}
	p, ok := m.providers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s is not configured", types.ErrNoForecastSource, name)
	}
	return p, nil
}

// Names lists the configured providers.
func (m *Map) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.providers))
	for n := range m.providers {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// SetProvider registers p under its name. This is primarily used for testing.
func (m *Map) SetProvider(p Provider) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.providers[p.Name()] = p
}
