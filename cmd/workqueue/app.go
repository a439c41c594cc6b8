package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"

	"github.com/dmitrymomot/workqueue/pkg/adapters/export"
	"github.com/dmitrymomot/workqueue/pkg/adapters/reindex"
	"github.com/dmitrymomot/workqueue/pkg/adapters/sendemail"
	"github.com/dmitrymomot/workqueue/pkg/config"
	"github.com/dmitrymomot/workqueue/pkg/email"
	"github.com/dmitrymomot/workqueue/pkg/httpserver"
	"github.com/dmitrymomot/workqueue/pkg/logger"
	"github.com/dmitrymomot/workqueue/pkg/mongo"
	"github.com/dmitrymomot/workqueue/pkg/opensearch"
	"github.com/dmitrymomot/workqueue/pkg/pg"
	"github.com/dmitrymomot/workqueue/pkg/redis"
	"github.com/dmitrymomot/workqueue/pkg/workqueue"
	"github.com/dmitrymomot/workqueue/pkg/workqueue/mongostore"
	"github.com/dmitrymomot/workqueue/pkg/workqueue/pgstore"
)

// app is the wired queue with everything its commands need.
type app struct {
	settings settings
	log      *slog.Logger
	queue    *workqueue.Queue
	reindex  *workqueue.Coalescer
	redis    *goredis.Client
	checks   []httpserver.Check
	closers  []func(context.Context) error
}

// appOpener builds the app for one command run.
type appOpener func(ctx context.Context, s settings, log *slog.Logger) (*app, error)

// backend is an opened store plus what the adapters and probes derive from it.
type backend struct {
	repo   workqueue.Repository
	loader reindex.Loader
	check  httpserver.Check
	close  func(context.Context) error
}

func openApp(ctx context.Context, s settings, log *slog.Logger) (_ *app, err error) {
	a := &app{settings: s, log: log}
	defer func() {
		if err != nil {
			_ = a.Close(context.WithoutCancel(ctx))
		}
	}()

	be, err := openBackend(ctx, s.App.Backend, log)
	if err != nil {
		return nil, err
	}
	a.addCloser(be.close)
	if be.check.Fn != nil {
		a.checks = append(a.checks, be.check)
	}

	registry := workqueue.NewRegistry()
	opts := append(s.Queue.QueueOptions(), workqueue.WithLogger(log))
	q, err := workqueue.NewQueue(be.repo, registry, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create queue: %w", err)
	}
	a.queue = q
	a.addCloser(func(context.Context) error { return q.Close() })

	// adapters that enqueue or list through the queue register after it exists;
	// the registry only freezes on the first poll
	if err := a.registerAdapters(ctx, registry, be); err != nil {
		return nil, err
	}

	if s.App.RedisRelay {
		var cfg redis.Config
		if err := config.Load(&cfg); err != nil {
			return nil, err
		}
		client, err := redis.Connect(ctx, cfg)
		if err != nil {
			return nil, err
		}
		a.redis = client
		a.checks = append(a.checks, httpserver.Check{Name: "redis", Fn: redis.Healthcheck(client)})
		a.addCloser(func(context.Context) error { return client.Close() })
	}
	return a, nil
}

func (a *app) registerAdapters(ctx context.Context, registry *workqueue.Registry, be backend) error {
	s := a.settings
	if s.App.EmailEnabled {
		sender, err := email.NewSender(s.Email, a.log)
		if err != nil {
			return err
		}
		if err := registry.Register(sendemail.New(sender, sendemail.WithLogger(a.log))); err != nil {
			return err
		}
	}

	if s.App.ExportEnabled {
		storage, err := export.NewStorage(ctx, s.Export)
		if err != nil {
			return err
		}
		adapter := export.New(a.queue, storage, export.WithPageSize(s.Export.PageSize), export.WithRetention(s.Export.Retention), export.WithLogger(a.log))
		if err := registry.Register(adapter, workqueue.WithMaxParallelAllocations(1)); err != nil {
			return err
		}
	}

	if s.App.SearchReindex {
		var cfg opensearch.Config
		if err := config.Load(&cfg); err != nil {
			return err
		}
		client, err := opensearch.New(ctx, cfg)
		if err != nil {
			return err
		}
		a.checks = append(a.checks, httpserver.Check{Name: "opensearch", Fn: opensearch.Healthcheck(client)})

		adapter := reindex.New(opensearch.NewIndexer(client), be.loader,
			reindex.WithIndexPrefix(cfg.IndexPrefix),
			reindex.WithLogger(a.log))
		if err := registry.Register(adapter, workqueue.WithMaxParallelAllocations(1)); err != nil {
			return err
		}
		coalescer, err := reindex.NewCoalescer(a.queue, s.Queue.CoalesceWindow, workqueue.WithCoalesceLogger(a.log))
		if err != nil {
			return err
		}
		a.reindex = coalescer
	}
	return nil
}

func openBackend(ctx context.Context, name string, log *slog.Logger) (backend, error) {
	switch name {
	case backendMongo:
		var cfg mongo.Config
		if err := config.Load(&cfg); err != nil {
			return backend{}, err
		}
		client, err := mongo.New(ctx, cfg)
		if err != nil {
			return backend{}, err
		}
		db := client.Database(cfg.Database)
		store, err := mongostore.New(db, mongostore.WithCollection(cfg.Collection))
		if err != nil {
			return backend{}, errors.Join(err, client.Disconnect(ctx))
		}
		if err := store.EnsureIndexes(ctx); err != nil {
			return backend{}, errors.Join(err, client.Disconnect(ctx))
		}
		return backend{
			repo:   store,
			loader: reindex.MongoLoader(db),
			check:  httpserver.Check{Name: "mongo", Fn: mongo.Healthcheck(client)},
			close:  client.Disconnect,
		}, nil

	case backendPostgres:
		var cfg pg.Config
		if err := config.Load(&cfg); err != nil {
			return backend{}, err
		}
		pool, err := pg.Connect(ctx, cfg)
		if err != nil {
			return backend{}, err
		}
		if err := pg.Migrate(ctx, pool, cfg, pgstore.Migrations(), log); err != nil {
			pool.Close()
			return backend{}, err
		}
		store, err := pgstore.New(pool)
		if err != nil {
			pool.Close()
			return backend{}, err
		}
		return backend{
			repo:   store,
			loader: reindex.PostgresLoader(pool),
			check:  httpserver.Check{Name: "postgres", Fn: pg.Healthcheck(pool)},
			close: func(context.Context) error {
				pool.Close()
				return nil
			},
		}, nil

	default:
		return backend{
			repo:  workqueue.NewMemoryStorage(),
			close: func(context.Context) error { return nil },
		}, nil
	}
}

func (a *app) addCloser(fn func(context.Context) error) {
	a.closers = append(a.closers, fn)
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if err := errors.Join(errs...); err != nil {
		a.log.ErrorContext(ctx, "failed to close resources", logger.Error(err))
		return err
	}
	return nil
}
