// Package plan carries the coordinator-side description of a scan stage, the
// per-worker cloning collaborator, and the feasibility gate that decides
// whether and how wide a stage may run in parallel.
package plan

// Filter is a pushed-down row predicate. Fn must be safe to call from
// multiple worker goroutines at once. Volatile marks predicates whose result
// is not a pure function of the row (user variables, nondeterministic
// functions); such plans are not eligible for parallel execution.
type Filter struct {
	Name     string
	Fn       func(row []byte) bool
	Volatile bool
}

// ScanPlan describes one scan stage.
type ScanPlan struct {
	Table         string
	Filter        *Filter
	Sort          *SortSpec // non-nil when the output order must be preserved
	Limit         int64     // <= 0 means no limit
	RequestedDop  int
	EstimatedRows int64
}

// Clone produces n independent copies safe for concurrent execution. Owned
// state (the sort spec) is deep-copied; the filter function is shared and
// required to be thread-safe by the Filter contract.
func (p *ScanPlan) Clone(n int) []*ScanPlan {
	clones := make([]*ScanPlan, n)
	for i := range clones {
		c := *p
		if p.Sort != nil {
			s := *p.Sort
			c.Sort = &s
		}
		if p.Filter != nil {
			f := *p.Filter
			c.Filter = &f
		}
		clones[i] = &c
	}
	return clones
}
