package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dbos-inc/dbos-transact-golang/dbos"
	"github.com/spf13/cobra"

	"github.com/flowmind/flowmind/internal/events"
	"github.com/flowmind/flowmind/internal/pipeline"
	"github.com/flowmind/flowmind/internal/webhooks"
)

func jobsCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "jobs",
		Short: "Run the background job pipeline",
	}

	root.AddCommand(jobsListCmd(), jobsRunCmd())
	return root
}

func jobsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List jobs and their schedules",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp()
			if err != nil {
				return err
			}
			defer a.Close()

			for _, job := range pipeline.DefaultJobs(cfg, a.store, a.service, a.bus) {
				fmt.Printf("%-24s %s\n", job.Name(), job.Schedule())
			}
			return nil
		},
	}
}

func jobsRunCmd() *cobra.Command {
	var durable bool

	cmd := &cobra.Command{
		Use:   "run [job-name]",
		Short: "Run jobs on their schedules, or one job immediately",
		Long: `Run the background job pipeline.

Without arguments, starts the cron scheduler and runs until interrupted.
With a job name, runs that job once and exits.

Durable mode (--durable) executes the run as a DBOS workflow backed by
PostgreSQL, so a crashed run resumes from its last completed user
instead of starting over. Requires FLOWMIND_DBOS_DATABASE_URL or
DBOS_SYSTEM_DATABASE_URL.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp()
			if err != nil {
				return err
			}
			defer a.Close()

			jobs := pipeline.DefaultJobs(cfg, a.store, a.service, a.bus)

			if len(args) == 1 {
				if durable {
					return runJobDurable(a, jobs, args[0])
				}
				return runJobOnce(a, jobs, args[0])
			}

			if durable {
				return fmt.Errorf("--durable requires a job name")
			}
			return runScheduler(a, jobs)
		},
	}

	cmd.Flags().BoolVar(&durable, "durable", false, "Execute as a durable DBOS workflow")
	return cmd
}

func runJobOnce(a *app, jobs []pipeline.Job, name string) error {
	job := findJob(jobs, name)
	if job == nil {
		return fmt.Errorf("unknown job %q (see 'flowmind jobs list')", name)
	}

	runner := pipeline.NewRunner(cfg.Pipeline.Workers, a.logger)
	runner.Bus = a.bus
	report, err := runner.Run(signalContext(), job)
	if err != nil {
		return err
	}

	printReport(report)
	return nil
}

func runJobDurable(a *app, jobs []pipeline.Job, name string) error {
	dbosURL := cfg.DBOSDatabaseURL
	if dbosURL == "" {
		dbosURL = os.Getenv("DBOS_SYSTEM_DATABASE_URL")
	}
	if dbosURL == "" {
		return fmt.Errorf("durable mode needs FLOWMIND_DBOS_DATABASE_URL or DBOS_SYSTEM_DATABASE_URL")
	}

	dbosCtx, err := dbos.NewDBOSContext(context.Background(), dbos.Config{
		AppName:     cfg.DBOSAppName,
		DatabaseURL: dbosURL,
	})
	if err != nil {
		return fmt.Errorf("initializing DBOS: %w", err)
	}

	// Queue and workflow registration must precede Launch
	durable := pipeline.NewDurablePipeline(dbosCtx, jobs, a.logger)

	if err := dbos.Launch(dbosCtx); err != nil {
		return fmt.Errorf("launching DBOS: %w", err)
	}
	defer dbos.Shutdown(dbosCtx, 5*time.Second)

	report, err := durable.Enqueue(name)
	if err != nil {
		return err
	}

	printReport(report)
	return nil
}

func runScheduler(a *app, jobs []pipeline.Job) error {
	ctx := signalContext()

	if cfg.WebhookURL != "" {
		notifier := webhooks.NewNotifier(a.bus, a.logger)
		if err := notifier.Register(&webhooks.Endpoint{
			URL:    cfg.WebhookURL,
			Secret: cfg.WebhookSecret,
		}); err != nil {
			return err
		}
		notifier.Start(ctx, 2)
		defer notifier.Stop()
	}

	runner := pipeline.NewRunner(cfg.Pipeline.Workers, a.logger)
	runner.Bus = a.bus
	sched := pipeline.NewScheduler(runner, a.logger)
	for _, job := range jobs {
		if err := sched.Register(ctx, job); err != nil {
			return err
		}
	}

	if cfg.Verbose {
		streamer := events.NewStreamer(a.bus, events.EventFilter{})
		eventCh, err := streamer.Start(ctx)
		if err != nil {
			return err
		}
		go func() {
			for event := range eventCh {
				fmt.Println(events.FormatEventCompact(event))
			}
		}()
	}

	sched.Start()
	fmt.Printf("⏱️  Scheduler running with %d jobs (ctrl-c to stop)\n", len(jobs))

	<-ctx.Done()
	fmt.Println("\n🛑 Stopping, waiting for running jobs...")

	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return sched.Stop(stopCtx)
}

// signalContext returns a context cancelled on the first interrupt
func signalContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
		signal.Stop(sigCh)
	}()
	return ctx
}

func findJob(jobs []pipeline.Job, name string) pipeline.Job {
	for _, job := range jobs {
		if job.Name() == name {
			return job
		}
	}
	return nil
}

func printReport(report pipeline.JobReport) {
	fmt.Printf("✅ %s: %d/%d users processed", report.Job, report.Processed, report.Total)
	if report.Failed > 0 {
		fmt.Printf(", %d failed", report.Failed)
	}
	fmt.Printf(" in %s\n", report.Duration.Round(time.Millisecond))
}
