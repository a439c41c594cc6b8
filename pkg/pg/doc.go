// Package pg connects the PostgreSQL work store and applies its schema.
//
// Connect opens a pgx pool from Config, retrying until the database answers.
// Migrate runs goose migrations from an fs.FS through the same pool, so the
// store package can embed its own schema. Healthcheck is a readiness probe
// for the ops server, and the Is*Error helpers classify *pgconn.PgError
// values.
//
//	var cfg pg.Config
//	config.MustLoad(&cfg)
//
//	pool, err := pg.Connect(ctx, cfg)
//	if err != nil {
//	    return err
//	}
//	defer pool.Close()
//
//	if err := pg.Migrate(ctx, pool, cfg, pgstore.Migrations(), slog.Default()); err != nil {
//	    return err
//	}
package pg
