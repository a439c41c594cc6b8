package workqueue

import "slices"

// Status is the derived state of a work item.
type Status string

const (
	StatusNew       Status = "NEW"
	StatusAllocated Status = "ALLOCATED"
	StatusSuccess   Status = "SUCCESS"
	StatusFailed    Status = "FAILED"
	StatusDeleted   Status = "DELETED"
)

// Statuses lists every status in lifecycle order.
var Statuses = []Status{StatusNew, StatusAllocated, StatusSuccess, StatusFailed, StatusDeleted}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return slices.Contains(Statuses, s)
}

// Flag names one of the four fields status is derived from.
type Flag string

const (
	// FlagStarted is set when started has a value.
	FlagStarted Flag = "started"
	// FlagFinished is set when finished has a value.
	FlagFinished Flag = "finished"
	// FlagSucceeded is set when success is true. Unset success counts as not succeeded.
	FlagSucceeded Flag = "success"
	// FlagDeleted is set when deleted has a value.
	FlagDeleted Flag = "deleted"
)

// Condition requires a flag to be set or unset.
type Condition struct {
	Flag Flag
	Set  bool
}

// StatusRule maps a conjunction of conditions to a status.
type StatusRule struct {
	Status     Status
	Conditions []Condition
}

// statusRules is the one place status derivation is defined. Stores translate
// these rules into their query language for filtering and reporting.
var statusRules = []StatusRule{
	{Status: StatusDeleted, Conditions: []Condition{
		{FlagDeleted, true},
	}},
	{Status: StatusNew, Conditions: []Condition{
		{FlagStarted, false}, {FlagFinished, false}, {FlagDeleted, false},
	}},
	{Status: StatusAllocated, Conditions: []Condition{
		{FlagStarted, true}, {FlagFinished, false}, {FlagDeleted, false},
	}},
	{Status: StatusSuccess, Conditions: []Condition{
		{FlagFinished, true}, {FlagSucceeded, true}, {FlagDeleted, false},
	}},
	{Status: StatusFailed, Conditions: []Condition{
		{FlagFinished, true}, {FlagSucceeded, false}, {FlagDeleted, false},
	}},
}

// StatusRules returns a copy of the status derivation rules.
func StatusRules() []StatusRule {
	out := make([]StatusRule, len(statusRules))
	for i, r := range statusRules {
		out[i] = StatusRule{Status: r.Status, Conditions: slices.Clone(r.Conditions)}
	}
	return out
}

// RuleFor returns the rule deriving s.
func RuleFor(s Status) (StatusRule, bool) {
	for _, r := range statusRules {
		if r.Status == s {
			return StatusRule{Status: r.Status, Conditions: slices.Clone(r.Conditions)}, true
		}
	}
	return StatusRule{}, false
}

// Flags is the set of flag values of one item.
type Flags map[Flag]bool

// Matches reports whether every condition of the rule holds.
func (r StatusRule) Matches(f Flags) bool {
	for _, c := range r.Conditions {
		if f[c.Flag] != c.Set {
			return false
		}
	}
	return true
}

func (w *Work) flags() Flags {
	return Flags{
		FlagStarted:   w.Started != nil,
		FlagFinished:  w.Finished != nil,
		FlagSucceeded: w.Success != nil && *w.Success,
		FlagDeleted:   w.Deleted != nil,
	}
}

// StatusOf derives the status for a raw flag combination.
func StatusOf(f Flags) Status {
	return statusOf(f)
}

func statusOf(f Flags) Status {
	for _, r := range statusRules {
		if r.Matches(f) {
			return r.Status
		}
	}
	// unreachable: the rules cover every combination
	return StatusFailed
}
