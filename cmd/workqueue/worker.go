package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/dmitrymomot/workqueue/pkg/httpserver"
	"github.com/dmitrymomot/workqueue/pkg/logger"
	"github.com/dmitrymomot/workqueue/pkg/workqueue"
	"github.com/dmitrymomot/workqueue/pkg/workqueue/metrics"
	"github.com/dmitrymomot/workqueue/pkg/workqueue/opsapi"
	"github.com/dmitrymomot/workqueue/pkg/workqueue/redisrelay"
)

func workerCmd(r *runtime) *cobra.Command {
	var (
		schedulesPath string
		noRecover     bool
	)
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run the executor, scheduler and ops endpoint until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := r.open(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = a.Close(context.WithoutCancel(cmd.Context())) }()

			if schedulesPath == "" {
				schedulesPath = a.settings.App.SchedulesFile
			}
			schedules, err := loadSchedules(schedulesPath)
			if err != nil {
				return err
			}
			return runWorker(cmd.Context(), a, schedules, !noRecover && a.settings.Queue.RecoverOnStart)
		},
	}
	cmd.Flags().StringVar(&schedulesPath, "schedules", "", "YAML file with recurring jobs (overrides WORKQUEUE_SCHEDULES_FILE)")
	cmd.Flags().BoolVar(&noRecover, "no-recover", false, "skip failing work orphaned by a previous run of this worker")
	return cmd
}

// runWorker recovers orphaned work, then runs every long-lived component in
// one errgroup until ctx is done or a component fails.
func runWorker(ctx context.Context, a *app, schedules []workqueue.Recurring, recoverFirst bool) error {
	s := a.settings
	log := a.log.With(logger.Component("worker"))

	executor, err := workqueue.NewExecutor(a.queue, append(s.Queue.ExecutorOptions(), workqueue.WithExecutorLogger(a.log))...)
	if err != nil {
		return err
	}
	if recoverFirst {
		n, err := a.queue.MarkOldWorkAsFailed(ctx, workqueue.RecoveryParams{WorkerID: executor.WorkerID()})
		if err != nil {
			return err
		}
		log.InfoContext(ctx, "recovery sweep finished", logger.Count(n))
	}

	scheduler, err := workqueue.NewScheduler(a.queue, append(s.Queue.SchedulerOptions(), workqueue.WithSchedulerLogger(a.log))...)
	if err != nil {
		return err
	}
	for _, rec := range schedules {
		if err := scheduler.Add(ctx, rec); err != nil {
			return err
		}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)
	reg.MustRegister(metrics.NewReportCollector(a.queue,
		metrics.WithWindow(s.App.MetricsWindow),
		metrics.WithLogger(a.log)))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(executor.Run(gctx))
	g.Go(scheduler.Run(gctx))
	g.Go(m.Run(gctx, a.queue))

	if a.redis != nil {
		relay, err := redisrelay.New(a.redis, redisrelay.WithChannel(s.App.RedisChannel), redisrelay.WithLogger(a.log))
		if err != nil {
			return err
		}
		g.Go(relay.Run(gctx, a.queue))
	}

	if s.HTTP.Enabled {
		srv := httpserver.NewFromConfig(s.HTTP, httpserver.WithLogger(a.log))
		router := opsapi.Router(opsapi.RouterOptions{
			Queue:    a.queue,
			Reindex:  a.reindex,
			Gatherer: reg,
			Checks:   a.checks,
			Logger:   a.log,
		})
		g.Go(srv.RunFunc(gctx, router))
	}

	log.InfoContext(ctx, "worker started",
		logger.WorkerID(executor.WorkerID()),
		slog.Any("types", a.queue.Registry().PollableTypes()),
		slog.Int("schedules", len(schedules)))
	start := time.Now()

	err = g.Wait()
	log.InfoContext(ctx, "worker stopped", logger.Duration(time.Since(start)))
	return err
}
