// Package redis connects the Redis server that relays queue events between
// processes.
//
//	var cfg redis.Config
//	config.MustLoad(&cfg)
//
//	client, err := redis.Connect(ctx, cfg)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	relay := redisrelay.New(client)
//	g.Go(relay.Run(ctx, q))
//
// Connection failures are joined with the sentinel errors of this package, so
// callers can match them with errors.Is.
package redis
