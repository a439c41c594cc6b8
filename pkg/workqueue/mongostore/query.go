package mongostore

import (
	"regexp"
	"strings"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/dmitrymomot/workqueue/pkg/workqueue"
)

// flagFields maps status flags to document fields.
var flagFields = map[workqueue.Flag]string{
	workqueue.FlagStarted:   "started",
	workqueue.FlagFinished:  "finished",
	workqueue.FlagSucceeded: "success",
	workqueue.FlagDeleted:   "deleted",
}

// sortFields maps sort fields to document fields.
var sortFields = map[string]string{
	workqueue.FieldStarted:        "started",
	workqueue.FieldPriority:       "priority",
	workqueue.FieldOriginalWorkID: "original_work_id",
	workqueue.FieldCreated:        "created",
	workqueue.FieldScheduled:      "scheduled",
	workqueue.FieldFinished:       "finished",
	workqueue.FieldType:           "type",
}

// conditionQuery is the query form of one status condition.
func conditionQuery(c workqueue.Condition) bson.E {
	field := flagFields[c.Flag]
	if c.Flag == workqueue.FlagSucceeded {
		if c.Set {
			return bson.E{Key: field, Value: true}
		}
		return bson.E{Key: field, Value: bson.D{{Key: "$ne", Value: true}}}
	}
	if c.Set {
		return bson.E{Key: field, Value: bson.D{{Key: "$ne", Value: nil}}}
	}
	return bson.E{Key: field, Value: nil}
}

// statusQuery matches items in any of statuses.
func statusQuery(statuses []workqueue.Status) bson.D {
	branches := bson.A{}
	for _, s := range statuses {
		rule, ok := workqueue.RuleFor(s)
		if !ok {
			continue
		}
		branch := bson.D{}
		for _, c := range rule.Conditions {
			branch = append(branch, conditionQuery(c))
		}
		branches = append(branches, branch)
	}
	if len(branches) == 1 {
		return branches[0].(bson.D)
	}
	return bson.D{{Key: "$or", Value: branches}}
}

// conditionExpr is the aggregation form of one status condition.
func conditionExpr(c workqueue.Condition) bson.D {
	field := "$" + flagFields[c.Flag]
	if c.Flag == workqueue.FlagSucceeded {
		op := "$eq"
		if !c.Set {
			op = "$ne"
		}
		return bson.D{{Key: op, Value: bson.A{field, true}}}
	}
	op := "$ne"
	if !c.Set {
		op = "$eq"
	}
	return bson.D{{Key: op, Value: bson.A{bson.D{{Key: "$ifNull", Value: bson.A{field, nil}}}, nil}}}
}

// statusExpr derives the status in an aggregation pipeline.
func statusExpr() bson.D {
	branches := bson.A{}
	for _, rule := range workqueue.StatusRules() {
		and := bson.A{}
		for _, c := range rule.Conditions {
			and = append(and, conditionExpr(c))
		}
		branches = append(branches, bson.D{
			{Key: "case", Value: bson.D{{Key: "$and", Value: and}}},
			{Key: "then", Value: string(rule.Status)},
		})
	}
	return bson.D{{Key: "$switch", Value: bson.D{
		{Key: "branches", Value: branches},
		{Key: "default", Value: string(workqueue.StatusFailed)},
	}}}
}

func rangeQuery(field string, r workqueue.TimeRange) (bson.D, bool) {
	if r.IsZero() {
		return nil, false
	}
	cond := bson.D{}
	if !r.From.IsZero() {
		cond = append(cond, bson.E{Key: "$gte", Value: r.From})
	}
	if !r.To.IsZero() {
		cond = append(cond, bson.E{Key: "$lte", Value: r.To})
	}
	return bson.D{{Key: field, Value: cond}}, true
}

// filterQuery translates a filter into a query document.
func filterQuery(f workqueue.Filter) bson.D {
	clauses := bson.A{}
	add := func(d bson.D) { clauses = append(clauses, d) }

	if f.ID != "" {
		add(bson.D{{Key: "_id", Value: f.ID}})
	}
	if len(f.ExcludeIDs) > 0 {
		add(bson.D{{Key: "_id", Value: bson.D{{Key: "$nin", Value: f.ExcludeIDs}}}})
	}
	if len(f.Types) > 0 {
		add(bson.D{{Key: "type", Value: bson.D{{Key: "$in", Value: f.Types}}}})
	}
	if len(f.Statuses) > 0 {
		add(statusQuery(f.Statuses))
	}
	if q, ok := rangeQuery("created", f.Created); ok {
		add(q)
	}
	if q, ok := rangeQuery("scheduled", f.Scheduled); ok {
		add(q)
	}
	if q, ok := rangeQuery("started", f.Started); ok {
		add(q)
	}
	if f.Search != "" {
		add(bson.D{{Key: "search_text", Value: bson.Regex{Pattern: regexp.QuoteMeta(strings.ToLower(f.Search))}}})
	}
	if f.ScheduleID != "" {
		add(bson.D{{Key: "schedule_id", Value: f.ScheduleID}})
	}
	if f.OriginalWorkID != "" {
		add(bson.D{{Key: "original_work_id", Value: f.OriginalWorkID}})
	}
	if f.AutoscheduledOnly {
		add(bson.D{{Key: "autoscheduled", Value: true}})
	}
	if f.Priority != nil {
		add(bson.D{{Key: "priority", Value: *f.Priority}})
	}
	if len(f.Workers) > 0 {
		add(bson.D{{Key: "worker", Value: bson.D{{Key: "$in", Value: workerValues(f.Workers)}}}})
	}
	if f.AllocatableBy != "" {
		add(bson.D{{Key: "worker", Value: bson.D{{Key: "$in", Value: bson.A{nil, "", f.AllocatableBy}}}}})
		add(bson.D{{Key: "$or", Value: bson.A{
			bson.D{{Key: "workers", Value: bson.D{{Key: "$exists", Value: false}}}},
			bson.D{{Key: "workers", Value: bson.D{{Key: "$size", Value: 0}}}},
			bson.D{{Key: "workers", Value: f.AllocatableBy}},
		}}})
	}
	if f.CoalesceKey != "" {
		add(bson.D{{Key: "coalesce_key", Value: f.CoalesceKey}})
	}

	switch len(clauses) {
	case 0:
		return bson.D{}
	case 1:
		return clauses[0].(bson.D)
	}
	return bson.D{{Key: "$and", Value: clauses}}
}

// workerValues maps "" to an unset worker as well.
func workerValues(workers []string) bson.A {
	out := bson.A{}
	for _, w := range workers {
		out = append(out, w)
		if w == "" {
			out = append(out, nil)
		}
	}
	return out
}

// sortDocument translates sort fields. Missing fields sort lowest in MongoDB,
// which matches the in-memory ordering. The id breaks ties.
func sortDocument(sort []workqueue.SortField) bson.D {
	out := bson.D{}
	for _, s := range sort {
		field, ok := sortFields[s.Field]
		if !ok {
			continue
		}
		dir := 1
		if s.Desc {
			dir = -1
		}
		out = append(out, bson.E{Key: field, Value: dir})
	}
	return append(out, bson.E{Key: "_id", Value: 1})
}
