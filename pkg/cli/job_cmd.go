package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"dpm/internal/domain"
	"dpm/internal/job"
)

// loadJobs reads a single job file when file is set, otherwise the jobs
// directory.
func loadJobs(a *app, file string) ([]*job.Job, error) {
	if file != "" {
		return job.Load(file)
	}
	return job.LoadDir(a.jobsDir)
}

func newRunCmd(a *app) *cobra.Command {
	var (
		file   string
		all    bool
		dryRun bool
	)

	cmd := &cobra.Command{
		Use:   "run [job...]",
		Short: "Run jobs defined in YAML files",
		Long: "Run named jobs from the jobs directory (DPM_JOBS_DIR, jobs-dir in the profile, " +
			"default ./jobs) or from a single --file, where no names means every job in the file. " +
			"Jobs run in order; a failure does not stop the remaining jobs but makes the command fail.",
		RunE: func(cmd *cobra.Command, args []string) error {
			jobs, err := loadJobs(a, file)
			if err != nil {
				return err
			}
			selected := jobs
			if !all {
				if len(args) == 0 {
					if file == "" {
						return domain.ErrValidation("name the jobs to run or pass --all")
					}
				} else {
					selected = make([]*job.Job, 0, len(args))
					for _, name := range args {
						j, err := job.Find(jobs, name)
						if err != nil {
							return err
						}
						selected = append(selected, j)
					}
				}
			}

			if dryRun {
				rows := make([][]string, len(selected))
				for i, j := range selected {
					rows[i] = []string{j.Name, string(j.Kind), j.Schedule, j.Path}
				}
				if getOutputFormat(cmd) == "json" {
					return PrintJSON(os.Stdout, selected)
				}
				PrintTable(os.Stdout, []string{"name", "kind", "schedule", "file"}, rows)
				return nil
			}

			runner := a.jobRunner()
			var (
				results []*job.Result
				failed  int
			)
			for _, j := range selected {
				res, err := runner.Run(cmd.Context(), j)
				if res != nil {
					results = append(results, res)
				}
				if err != nil {
					failed++
					_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				}
			}

			if getOutputFormat(cmd) == "json" {
				if err := PrintJSON(os.Stdout, results); err != nil {
					return err
				}
			} else {
				rows := make([][]string, len(results))
				for i, r := range results {
					rows[i] = []string{r.Job, string(r.Kind), r.RunID, fmt.Sprint(r.Rows), r.Duration.Round(time.Millisecond).String()}
				}
				PrintTable(os.Stdout, []string{"job", "kind", "run_id", "rows", "duration"}, rows)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d jobs failed", failed, len(selected))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Job file to read instead of the jobs directory")
	cmd.Flags().BoolVar(&all, "all", false, "Run every job")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Validate and list the selected jobs without running them")

	return cmd
}

func newScheduleCmd(a *app) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run jobs on their cron schedules until interrupted",
		Long: "Start a scheduler for every job with a schedule. SIGHUP reloads the job files; " +
			"SIGINT or SIGTERM waits for running jobs and exits.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			sched := job.NewScheduler(a.jobRunner(), func() ([]*job.Job, error) {
				return loadJobs(a, file)
			}, a.logger)
			if err := sched.Start(ctx); err != nil {
				return err
			}
			defer sched.Stop()
			a.logger.Info("scheduler started", "jobs", sched.Scheduled())

			hup := make(chan os.Signal, 1)
			signal.Notify(hup, syscall.SIGHUP)
			defer signal.Stop(hup)

			return waitAndReload(ctx, sched, hup, a)
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Job file to read instead of the jobs directory")

	return cmd
}

func waitAndReload(ctx context.Context, sched *job.Scheduler, hup <-chan os.Signal, a *app) error {
	for {
		select {
		case <-ctx.Done():
			a.logger.Info("scheduler stopping")
			return nil
		case <-hup:
			if err := sched.Reload(ctx); err != nil {
				a.logger.Error("reload jobs", "error", err)
				continue
			}
			a.logger.Info("jobs reloaded", "jobs", sched.Scheduled())
		}
	}
}
