package job

import (
	"fmt"
	"math"
)

// Priority orders pending dispatches when the per-frame budget is smaller
// than the number of candidates. Critical work always runs and is exempt
// from the budget. Non-critical work is ordered by weight, higher first.
//
// The zero value is NonCritical(1).
type Priority struct {
	critical bool
	weight   uint32
}

// Critical returns the priority that bypasses the dispatch budget.
func Critical() Priority { return Priority{critical: true} }

// NonCritical returns a budgeted priority. A weight of zero is raised to one.
func NonCritical(weight uint32) Priority {
	if weight == 0 {
		weight = 1
	}
	return Priority{weight: weight}
}

// IsCritical reports whether p bypasses the budget.
func (p Priority) IsCritical() bool { return p.critical }

// Weight returns the non-critical weight. Critical priorities report
// math.MaxUint32.
func (p Priority) Weight() uint32 {
	if p.critical {
		return math.MaxUint32
	}
	if p.weight == 0 {
		return 1
	}
	return p.weight
}

// Add combines two priorities. Critical absorbs; weights add and saturate.
func (p Priority) Add(q Priority) Priority {
	if p.critical || q.critical {
		return Critical()
	}
	sum := uint64(p.Weight()) + uint64(q.Weight())
	if sum > math.MaxUint32 {
		sum = math.MaxUint32
	}
	return Priority{weight: uint32(sum)}
}

// Compare returns -1, 0 or +1 as p is lower than, equal to, or higher than q.
func (p Priority) Compare(q Priority) int {
	switch {
	case p.critical && q.critical:
		return 0
	case p.critical:
		return 1
	case q.critical:
		return -1
	}
	pw, qw := p.Weight(), q.Weight()
	switch {
	case pw < qw:
		return -1
	case pw > qw:
		return 1
	}
	return 0
}

func (p Priority) String() string {
	if p.critical {
		return "Critical"
	}
	return fmt.Sprintf("NonCritical(%d)", p.Weight())
}
