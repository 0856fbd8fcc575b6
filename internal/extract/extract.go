// Package extract copies job requests out of the simulation side once per
// frame. After extraction the frame loop works only on snapshots; nothing
// flows back into the simulation.
package extract

import (
	"fmt"

	"github.com/gogpu/gigs/internal/logging"
	"github.com/gogpu/gigs/internal/registry"
	"github.com/gogpu/gigs/internal/sched"
	"github.com/gogpu/gigs/job"
)

// Source is the simulation-side store of requests.
type Source interface {
	// EachRequest calls fn for every entity carrying a request, in
	// ascending entity order.
	EachRequest(fn func(id job.EntityID, req job.Request))

	// TakeRemoved returns entities whose requests were removed since the
	// previous call, and clears the list.
	TakeRemoved() []job.EntityID
}

// Result summarizes one extraction.
type Result struct {
	Extracted int
	Removed   int
	Errors    []error
}

// Stage runs extraction against a registry and scheduler.
type Stage struct {
	registry *registry.Registry
	sched    *sched.Scheduler
}

// New returns an extraction stage.
func New(reg *registry.Registry, s *sched.Scheduler) *Stage {
	return &Stage{registry: reg, sched: s}
}

// Run snapshots every request in src and starts disposal of removed
// entities. Requests naming an unknown type or carrying parameters of the
// wrong type are reported and skipped.
func (st *Stage) Run(src Source) Result {
	var res Result
	for _, id := range src.TakeRemoved() {
		if err := st.sched.Remove(id); err != nil {
			res.Errors = append(res.Errors, err)
		}
		res.Removed++
	}

	src.EachRequest(func(id job.EntityID, req job.Request) {
		entry, ok := st.registry.Lookup(req.Type)
		if !ok {
			res.Errors = append(res.Errors, &job.DispatchError{
				Entity: id, Type: req.Type, Err: job.ErrUnknownType,
			})
			return
		}
		snap, err := entry.Extract(req)
		if err != nil {
			res.Errors = append(res.Errors, &job.DispatchError{
				Entity: id, Type: req.Type, Err: fmt.Errorf("extract: %w", err),
			})
			return
		}
		st.sched.Observe(id, snap)
		res.Extracted++
	})

	if len(res.Errors) > 0 {
		logging.L().Debug("extract: skipped requests", "errors", len(res.Errors))
	}
	return res
}
