// Package mongo connects the MongoDB work store.
//
// Configuration comes from the environment (see Config). New retries the
// initial connection so a worker started alongside its database does not
// crash-loop, and Healthcheck plugs into the ops server's readiness probe.
//
//	var cfg mongo.Config
//	config.MustLoad(&cfg)
//
//	db, err := mongo.NewWithDatabase(ctx, cfg)
//	if err != nil {
//	    return err
//	}
//	store, err := mongostore.New(db, mongostore.WithCollection(cfg.Collection))
package mongo
