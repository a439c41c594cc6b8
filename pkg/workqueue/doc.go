// Package workqueue is a durable work queue and scheduler over a pluggable store.
//
// Producers hand off deferred work with Queue.AddWork, keep recurring jobs
// materialised with Queue.EnsureOneWork and Queue.EnsureNoWork (driven by a
// Scheduler), or collapse bursts of domain events into one batch with a
// Coalescer. Workers run an Executor, which repeatedly calls
// Queue.ProcessNextWork: one item is claimed atomically, its Adapter runs and
// the outcome is written back with Queue.FinishWork.
//
// # Status
//
// A Work item has no stored status. It is derived from four fields:
//
//	DELETED   deleted is set
//	NEW       not started, not finished, not deleted
//	ALLOCATED started, not finished, not deleted
//	SUCCESS   finished, success is true, not deleted
//	FAILED    finished, success is not true, not deleted
//
// The rules live in one table (StatusRules). Work.Status, Filter.Match and
// the query translations of the MongoDB and Postgres stores are all built from
// it.
//
// # Guarantees
//
// Allocation is exactly-once: concurrent callers never claim the same item.
// Execution is not: an item allocated by a process that crashes is failed by
// the next Queue.MarkOldWorkAsFailed sweep with a WorkInterruptedError and may
// be re-added by the caller. Retries and timeouts are stored but never enforced.
//
// # Usage
//
//	registry := workqueue.NewRegistry()
//	registry.MustRegister(workqueue.NewAdapter("SEND_EMAIL", sendEmail),
//	    workqueue.WithMaxParallelAllocations(5))
//
//	q, err := workqueue.NewQueue(workqueue.NewMemoryStorage(), registry)
//	if err != nil {
//	    return err
//	}
//	if _, err := q.MarkOldWorkAsFailed(ctx, workqueue.RecoveryParams{}); err != nil {
//	    return err
//	}
//
//	exec, _ := workqueue.NewExecutor(q, workqueue.WithMaxConcurrent(4))
//	g.Go(exec.Run(ctx))
package workqueue
