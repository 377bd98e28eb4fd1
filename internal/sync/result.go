package sync

// Result accumulates the outcome of one engine run. The orchestrator merges
// the per-phase results additively into the figure it reports.
type Result struct {
	// Pushed and Pulled count commits whose data crossed the wire.
	Pushed int
	Pulled int

	// Deleted counts local commits removed because the remote soft-deleted them.
	Deleted int

	// Conflicts counts commits newly marked conflicted this run.
	Conflicts int

	// Resolved counts conflicts settled by auto-resolution.
	Resolved int

	// Filtered counts commits excluded by curation rules (warm-up, zero
	// turns, excluded projects).
	Filtered int

	// Deferred counts pushable commits held back by the usage quota.
	Deferred int

	// QuotaExhausted is set when the quota left no room to push anything.
	QuotaExhausted bool

	// Errors collects per-record failure descriptions. A non-empty list does
	// not mean the run failed; the affected records are marked for retry.
	Errors []string
}

func (r *Result) merge(o *Result) {
	if o == nil {
		return
	}
	r.Pushed += o.Pushed
	r.Pulled += o.Pulled
	r.Deleted += o.Deleted
	r.Conflicts += o.Conflicts
	r.Resolved += o.Resolved
	r.Filtered += o.Filtered
	r.Deferred += o.Deferred
	r.QuotaExhausted = r.QuotaExhausted || o.QuotaExhausted
	r.Errors = append(r.Errors, o.Errors...)
}
