// Package pgstore implements workqueue.Repository on PostgreSQL.
//
// Allocation is a single UPDATE whose target row is picked by a
// SELECT ... FOR UPDATE SKIP LOCKED ordered by workqueue.DefaultSort, so
// concurrent workers never block on or claim the same item. Scheduled ticks
// use INSERT ... ON CONFLICT DO UPDATE guarded by started/finished being null,
// and coalescing locks the pending batch row while merging the reference.
// A partial unique index keeps at most one pending batch per coalesce key.
//
// The schema ships as goose migrations:
//
//	if err := pg.Migrate(ctx, pool, cfg, pgstore.Migrations(), logger); err != nil {
//	    return err
//	}
//	store, err := pgstore.New(pool)
package pgstore
