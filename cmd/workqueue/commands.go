package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/dmitrymomot/workqueue/pkg/workqueue"
	"github.com/dmitrymomot/workqueue/pkg/workqueue/redisrelay"
)

func recoverCmd(r *runtime) *cobra.Command {
	var (
		workerID string
		types    []string
		before   time.Duration
	)
	cmd := &cobra.Command{
		Use:   "recover",
		Short: "Fail work left allocated by a crashed worker",
		Long: "Marks ALLOCATED work of the given worker (and work allocated without a worker) as FAILED.\n" +
			"Run it for a worker identity that is known to be down.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := r.open(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = a.Close(context.WithoutCancel(cmd.Context())) }()

			p := workqueue.RecoveryParams{Types: types, WorkerID: workerID}
			if before > 0 {
				p.ReferenceDate = a.queue.Now().Add(-before)
			}
			n, err := a.queue.MarkOldWorkAsFailed(cmd.Context(), p)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "recovered %d work item(s)\n", n)
			return nil
		},
	}
	cmd.Flags().StringVar(&workerID, "worker-id", "", "worker identity to recover (default: this host's identity)")
	cmd.Flags().StringSliceVar(&types, "type", nil, "limit recovery to these work types")
	cmd.Flags().DurationVar(&before, "older-than", 0, "only recover work started at least this long ago")
	return cmd
}

func reportCmd(r *runtime) *cobra.Command {
	var (
		types  []string
		since  time.Duration
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Print per-type funnel counts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := r.open(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = a.Close(context.WithoutCancel(cmd.Context())) }()

			filter := workqueue.ReportFilter{Types: types}
			if since > 0 {
				filter.Created.From = a.queue.Now().Add(-since)
			}
			report, err := a.queue.GetReport(cmd.Context(), filter)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), report)
			}
			return writeReport(cmd.OutOrStdout(), report)
		},
	}
	cmd.Flags().StringSliceVar(&types, "type", nil, "limit the report to these work types")
	cmd.Flags().DurationVar(&since, "since", 0, "only count work created within this window")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func addCmd(r *runtime) *cobra.Command {
	var (
		priority int
		delay    time.Duration
		at       string
		retries  int
		timeout  time.Duration
		workers  []string
	)
	cmd := &cobra.Command{
		Use:   "add TYPE [INPUT_JSON]",
		Short: "Enqueue a work item",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var input workqueue.Input
			if len(args) == 2 {
				if err := json.Unmarshal([]byte(args[1]), &input); err != nil {
					return fmt.Errorf("input must be a JSON object: %w", err)
				}
			}

			opts := []workqueue.AddOption{workqueue.WithPriority(priority)}
			switch {
			case at != "" && delay > 0:
				return errors.New("--at and --delay are mutually exclusive")
			case at != "":
				t, err := time.Parse(time.RFC3339, at)
				if err != nil {
					return fmt.Errorf("--at must be RFC3339: %w", err)
				}
				opts = append(opts, workqueue.WithScheduled(t))
			case delay > 0:
				opts = append(opts, workqueue.WithDelay(delay))
			}
			if retries > 0 {
				opts = append(opts, workqueue.WithRetries(retries))
			}
			if timeout > 0 {
				opts = append(opts, workqueue.WithTimeout(timeout))
			}
			if len(workers) > 0 {
				opts = append(opts, workqueue.WithWorkers(workers...))
			}

			a, err := r.open(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = a.Close(context.WithoutCancel(cmd.Context())) }()

			w, err := a.queue.AddWork(cmd.Context(), args[0], input, opts...)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), w.ID)
			return nil
		},
	}
	cmd.Flags().IntVar(&priority, "priority", 0, "higher runs first")
	cmd.Flags().DurationVar(&delay, "delay", 0, "run no earlier than now + delay")
	cmd.Flags().StringVar(&at, "at", "", "run no earlier than this RFC3339 time")
	cmd.Flags().IntVar(&retries, "retries", 0, "retry budget handed to the adapter")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "advisory execution timeout")
	cmd.Flags().StringSliceVar(&workers, "worker", nil, "only these worker identities may run it")
	return cmd
}

func listCmd(r *runtime) *cobra.Command {
	var (
		types    []string
		statuses []string
		search   string
		limit    int
		skip     int
		asJSON   bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List work items in queue order",
		RunE: func(cmd *cobra.Command, _ []string) error {
			filter := workqueue.Filter{Types: types, Search: search}
			for _, s := range statuses {
				st := workqueue.Status(strings.ToUpper(s))
				if !st.Valid() {
					return fmt.Errorf("unknown status %q", s)
				}
				filter.Statuses = append(filter.Statuses, st)
			}

			a, err := r.open(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = a.Close(context.WithoutCancel(cmd.Context())) }()

			works, err := a.queue.FindWorkQueue(cmd.Context(), filter, workqueue.FindOptions{Limit: limit, Skip: skip})
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), works)
			}
			return writeWorks(cmd.OutOrStdout(), works)
		},
	}
	cmd.Flags().StringSliceVar(&types, "type", nil, "filter by work type")
	cmd.Flags().StringSliceVar(&statuses, "status", nil, "filter by status (new, allocated, success, failed, deleted)")
	cmd.Flags().StringVar(&search, "search", "", "case-insensitive match over the input")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum items to print")
	cmd.Flags().IntVar(&skip, "skip", 0, "items to skip")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func eventsCmd(r *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "events",
		Short: "Stream queue events relayed through Redis as JSON lines",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := r.open(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = a.Close(context.WithoutCancel(cmd.Context())) }()

			if a.redis == nil {
				return errors.New("events need WORKQUEUE_REDIS_RELAY=true")
			}
			channel := a.settings.App.RedisChannel
			if channel == "" {
				channel = redisrelay.DefaultChannel
			}
			events, err := redisrelay.Subscribe(cmd.Context(), a.redis, channel, a.log)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			for ev := range events {
				if err := enc.Encode(ev); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeReport(w io.Writer, report []workqueue.TypeReport) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TYPE\tNEW\tSTARTED\tSUCCESS\tERROR\tDELETED")
	for _, r := range report {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%d\n", r.Type, r.NewCount, r.StartCount, r.SuccessCount, r.ErrorCount, r.DeleteCount)
	}
	return tw.Flush()
}

func writeWorks(w io.Writer, works []*workqueue.Work) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTYPE\tSTATUS\tPRIORITY\tSCHEDULED\tWORKER")
	for _, wk := range works {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n",
			wk.ID, wk.Type, wk.Status(), wk.Priority, wk.Scheduled.UTC().Format(time.RFC3339), orDash(wk.Worker))
	}
	return tw.Flush()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
