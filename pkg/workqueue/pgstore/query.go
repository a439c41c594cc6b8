package pgstore

import (
	"fmt"
	"strings"

	"github.com/dmitrymomot/workqueue/pkg/workqueue"
)

// columns is the select list every query scans with scanWork.
const columns = `id, type, input, priority, created, scheduled, started, finished, success,
	error, result, worker, workers, retries, timeout_ms, original_work_id, autoscheduled,
	schedule_id, coalesce_key, deleted`

var flagColumns = map[workqueue.Flag]string{
	workqueue.FlagStarted:   "started",
	workqueue.FlagFinished:  "finished",
	workqueue.FlagSucceeded: "success",
	workqueue.FlagDeleted:   "deleted",
}

var sortColumns = map[string]string{
	workqueue.FieldStarted:        "started",
	workqueue.FieldPriority:       "priority",
	workqueue.FieldOriginalWorkID: "original_work_id",
	workqueue.FieldCreated:        "created",
	workqueue.FieldScheduled:      "scheduled",
	workqueue.FieldFinished:       "finished",
	workqueue.FieldType:           "type",
}

// query accumulates positional arguments while a statement is built.
type query struct {
	args []any
}

func (q *query) arg(v any) string {
	q.args = append(q.args, v)
	return fmt.Sprintf("$%d", len(q.args))
}

func conditionSQL(c workqueue.Condition) string {
	col := flagColumns[c.Flag]
	if c.Flag == workqueue.FlagSucceeded {
		if c.Set {
			return col + " IS TRUE"
		}
		return col + " IS NOT TRUE"
	}
	if c.Set {
		return col + " IS NOT NULL"
	}
	return col + " IS NULL"
}

func ruleSQL(rule workqueue.StatusRule) string {
	parts := make([]string, len(rule.Conditions))
	for i, c := range rule.Conditions {
		parts[i] = conditionSQL(c)
	}
	return strings.Join(parts, " AND ")
}

// statusSQL matches rows in any of statuses.
func statusSQL(statuses []workqueue.Status) string {
	var branches []string
	for _, s := range statuses {
		if rule, ok := workqueue.RuleFor(s); ok {
			branches = append(branches, "("+ruleSQL(rule)+")")
		}
	}
	if len(branches) == 0 {
		return "FALSE"
	}
	return "(" + strings.Join(branches, " OR ") + ")"
}

// statusCaseSQL derives the status of a row.
func statusCaseSQL() string {
	var b strings.Builder
	b.WriteString("CASE")
	for _, rule := range workqueue.StatusRules() {
		fmt.Fprintf(&b, " WHEN %s THEN '%s'", ruleSQL(rule), rule.Status)
	}
	fmt.Fprintf(&b, " ELSE '%s' END", workqueue.StatusFailed)
	return b.String()
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// where translates a filter. It returns "TRUE" for an empty filter.
func (q *query) where(f workqueue.Filter) string {
	var conds []string
	add := func(format string, a ...any) { conds = append(conds, fmt.Sprintf(format, a...)) }

	if f.ID != "" {
		add("id = %s", q.arg(f.ID))
	}
	if len(f.ExcludeIDs) > 0 {
		add("NOT (id = ANY(%s))", q.arg(f.ExcludeIDs))
	}
	if len(f.Types) > 0 {
		add("type = ANY(%s)", q.arg(f.Types))
	}
	if len(f.Statuses) > 0 {
		add("%s", statusSQL(f.Statuses))
	}
	q.timeRange(&conds, "created", f.Created)
	q.timeRange(&conds, "scheduled", f.Scheduled)
	q.timeRange(&conds, "started", f.Started)
	if f.Search != "" {
		add(`search_text LIKE '%%' || %s || '%%' ESCAPE '\'`, q.arg(likeEscaper.Replace(strings.ToLower(f.Search))))
	}
	if f.ScheduleID != "" {
		add("schedule_id = %s", q.arg(f.ScheduleID))
	}
	if f.OriginalWorkID != "" {
		add("original_work_id = %s", q.arg(f.OriginalWorkID))
	}
	if f.AutoscheduledOnly {
		add("autoscheduled")
	}
	if f.Priority != nil {
		add("priority = %s", q.arg(*f.Priority))
	}
	if len(f.Workers) > 0 {
		var named []string
		unset := false
		for _, w := range f.Workers {
			if w == "" {
				unset = true
				continue
			}
			named = append(named, w)
		}
		var or []string
		if len(named) > 0 {
			or = append(or, fmt.Sprintf("worker = ANY(%s)", q.arg(named)))
		}
		if unset {
			or = append(or, "worker IS NULL")
		}
		add("(%s)", strings.Join(or, " OR "))
	}
	if f.AllocatableBy != "" {
		id := q.arg(f.AllocatableBy)
		add("(worker IS NULL OR worker = %s)", id)
		add("(cardinality(workers) = 0 OR %s = ANY(workers))", id)
	}
	if f.CoalesceKey != "" {
		add("coalesce_key = %s", q.arg(f.CoalesceKey))
	}

	if len(conds) == 0 {
		return "TRUE"
	}
	return strings.Join(conds, " AND ")
}

func (q *query) timeRange(conds *[]string, col string, r workqueue.TimeRange) {
	if !r.From.IsZero() {
		*conds = append(*conds, fmt.Sprintf("%s >= %s", col, q.arg(r.From)))
	}
	if !r.To.IsZero() {
		*conds = append(*conds, fmt.Sprintf("%s <= %s", col, q.arg(r.To)))
	}
}

// orderBy renders sort fields with unset values lowest. The id breaks ties.
func orderBy(sort []workqueue.SortField) string {
	parts := make([]string, 0, len(sort)+1)
	for _, s := range sort {
		col, ok := sortColumns[s.Field]
		if !ok {
			continue
		}
		if s.Desc {
			parts = append(parts, col+" DESC NULLS LAST")
		} else {
			parts = append(parts, col+" ASC NULLS FIRST")
		}
	}
	parts = append(parts, "id ASC")
	return strings.Join(parts, ", ")
}
