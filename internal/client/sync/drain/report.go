package drain

import "time"

type outcome int

const (
	outcomeSucceeded outcome = iota + 1
	// outcomeDeferred: the remote accepted the write but a local edit raced
	// it, so the record stays pending for the next cycle.
	outcomeDeferred
	outcomeConflict
	outcomeTransient
	outcomeOffline
	outcomeFailed
	outcomeLocalError
	outcomeAborted
	outcomeSkipped
)

// Report summarizes one drain cycle.
type Report struct {
	Trigger   Trigger
	Attempted int
	Succeeded int
	Deferred  int
	// Conflicts counts resolved conflicts, whatever the verdict.
	Conflicts   int
	Transient   int
	Failed      int
	LocalErrors int
	// Aborted is set when the cycle stopped before the queue was exhausted.
	Aborted  bool
	Offline  bool
	Duration time.Duration
}

// add counts one processed operation. An operation that hit a conflict
// counts as a conflict however its re-send ended.
func (r *Report) add(o outcome, conflicted bool) {
	switch o {
	case outcomeSkipped, outcomeAborted:
		return
	}
	r.Attempted++
	if conflicted {
		r.Conflicts++
		return
	}
	switch o {
	case outcomeSucceeded:
		r.Succeeded++
	case outcomeDeferred:
		r.Deferred++
	case outcomeConflict:
		r.Conflicts++
	case outcomeTransient, outcomeOffline:
		r.Transient++
	case outcomeFailed:
		r.Failed++
	case outcomeLocalError:
		r.LocalErrors++
	}
}

// LogArgs renders the report as logger key/value pairs.
func (r Report) LogArgs() []any {
	return []any{
		"trigger", r.Trigger,
		"attempted", r.Attempted,
		"succeeded", r.Succeeded,
		"deferred", r.Deferred,
		"conflicts", r.Conflicts,
		"transient", r.Transient,
		"failed", r.Failed,
		"local_errors", r.LocalErrors,
		"aborted", r.Aborted,
		"offline", r.Offline,
		"duration", r.Duration,
	}
}
