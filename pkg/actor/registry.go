package actor

import (
	"sync"

	"github.com/kubeminder/kubeminder/pkg/models"
)

// registry tracks which approvals this process has already executed, keyed
// by the plan's dedup key. Each entry holds the computed resolution until
// it has been published, so a delivery that executed but failed to publish
// can emit its resolution on redelivery without running tools twice.
//
// Process-scoped: multi-replica deployments need this behind a shared set.
type registry struct {
	mu   sync.Mutex
	seen map[string]*execution
}

func newRegistry() *registry {
	return &registry{seen: make(map[string]*execution)}
}

// Claim registers the key and returns its outcome slot. The second return
// is true on the first claim; false marks a duplicate delivery.
func (r *registry) Claim(key string) (*execution, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.seen[key]; ok {
		return e, false
	}
	e := &execution{}
	r.seen[key] = e
	return e, true
}

// execution is the per-key outcome slot.
type execution struct {
	mu        sync.Mutex
	res       *models.Resolution
	published bool
}

func (e *execution) record(res *models.Resolution) {
	e.mu.Lock()
	e.res = res
	e.mu.Unlock()
}

func (e *execution) markPublished() {
	e.mu.Lock()
	e.published = true
	e.mu.Unlock()
}

// pending returns the recorded resolution while it has not been published.
func (e *execution) pending() *models.Resolution {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.published {
		return nil
	}
	return e.res
}
