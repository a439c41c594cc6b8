// Package mongostore implements workqueue.Repository on a MongoDB collection.
//
// Allocation is one FindOneAndUpdate over the eligibility filter sorted by
// workqueue.DefaultSort, so concurrent workers never claim the same item.
// Scheduled ticks use a conditional upsert keyed by the deterministic tick id,
// and coalescing appends references with $addToSet to the NEW item holding the
// batch key. A partial unique index on coalesce_key keeps at most one pending
// batch per key.
//
// Call EnsureIndexes once at start-up.
//
//	db, err := mongo.NewWithDatabase(ctx, cfg)
//	if err != nil {
//	    return err
//	}
//	store, err := mongostore.New(db)
//	if err != nil {
//	    return err
//	}
//	if err := store.EnsureIndexes(ctx); err != nil {
//	    return err
//	}
//	q, err := workqueue.NewQueue(store, registry)
package mongostore
