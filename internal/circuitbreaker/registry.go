package circuitbreaker

import (
	"strings"
	"sync"
	"time"

	"github.com/angeloszaimis/appwrite-keepalive/config"
)

// Key identifies one project on one Appwrite server. The same project id on
// two servers gets two breakers.
type Key struct {
	Endpoint  string
	ProjectID string
}

// KeyFor builds the key of a configured project. Trailing slashes on the
// endpoint are ignored so "https://host/v1/" and "https://host/v1" share a
// breaker.
func KeyFor(project config.ProjectConfig) Key {
	return Key{
		Endpoint:  strings.TrimSuffix(strings.TrimSpace(project.Endpoint), "/"),
		ProjectID: project.ProjectID,
	}
}

func (k Key) String() string {
	return k.Endpoint + "|" + k.ProjectID
}

// Registry hands out one Breaker per project key.
type Registry struct {
	mutex     sync.RWMutex
	breakers  map[Key]*Breaker
	threshold int
	timeout   time.Duration
	now       func() time.Time
}

func NewRegistry(threshold int, timeout time.Duration) *Registry {
	return NewRegistryWithClock(threshold, timeout, time.Now)
}

func NewRegistryWithClock(threshold int, timeout time.Duration, now func() time.Time) *Registry {
	return &Registry{
		breakers:  make(map[Key]*Breaker),
		threshold: threshold,
		timeout:   timeout,
		now:       now,
	}
}

func (r *Registry) For(key Key) *Breaker {
	r.mutex.RLock()
	b, exists := r.breakers[key]
	r.mutex.RUnlock()

	if exists {
		return b
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	if b, exists = r.breakers[key]; exists {
		return b
	}

	b = NewBreaker(r.threshold, r.timeout, r.now)
	r.breakers[key] = b
	return b
}

// Stats returns every breaker's state keyed by Key.String.
func (r *Registry) Stats() map[string]State {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	stats := make(map[string]State, len(r.breakers))
	for key, b := range r.breakers {
		stats[key.String()] = b.State()
	}
	return stats
}

// Open lists the projects currently being skipped.
func (r *Registry) Open() []Key {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	var open []Key
	for key, b := range r.breakers {
		if b.State() == StateOpen {
			open = append(open, key)
		}
	}
	return open
}
