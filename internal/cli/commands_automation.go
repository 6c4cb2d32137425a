package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"ledgerflow/internal/automation"
	"ledgerflow/internal/backup"
	"ledgerflow/internal/ops"
	"ledgerflow/internal/storage"
)

func newAutomationCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "automation",
		Short: "Durable task queue and scheduler",
	}
	cmd.AddCommand(
		newAutomationTasksCmd(),
		newAutomationStatsCmd(),
		newAutomationDeadLettersCmd(),
		newAutomationEnqueueCmd(),
		newAutomationRunNextCmd(),
		newAutomationRunDueCmd(),
		newAutomationDispatchCmd(),
		newAutomationJobsListCmd(),
		newAutomationJobsSetCmd(),
		newAutomationWorkerCmd(),
	)
	return cmd
}

func newAutomationTasksCmd() *cobra.Command {
	var limit int
	var status string
	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "List queue tasks, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp()
			if err != nil {
				return err
			}
			defer app.Close()

			tasks, err := app.Queue.List(status, limit)
			if err != nil {
				return err
			}
			printJSON(map[string]any{"items": tasks, "count": len(tasks)})
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 100, "maximum tasks to list")
	cmd.Flags().StringVar(&status, "status", "", "filter by status (queued, running, done, failed)")
	return cmd
}

func newAutomationStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show task counts per status",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp()
			if err != nil {
				return err
			}
			defer app.Close()

			stats, err := app.Queue.Stats()
			if err != nil {
				return err
			}
			printJSON(stats)
			return nil
		},
	}
}

func newAutomationDeadLettersCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "dead-letters",
		Short: "List exhausted tasks from the dead-letter log",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp()
			if err != nil {
				return err
			}
			defer app.Close()

			items, err := app.Queue.DeadLetters(limit)
			if err != nil {
				return err
			}
			printJSON(map[string]any{"items": items, "count": len(items)})
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum entries")
	return cmd
}

func newAutomationEnqueueCmd() *cobra.Command {
	var taskType, payloadJSON, runAt string
	var maxRetries int
	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Enqueue one task",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp()
			if err != nil {
				return err
			}
			defer app.Close()

			payload := storage.Doc{}
			if payloadJSON != "" {
				if err := json.Unmarshal([]byte(payloadJSON), &payload); err != nil {
					return fmt.Errorf("parse payload: %w", err)
				}
			}
			if maxRetries < 0 {
				maxRetries = 0
			}
			task, err := app.Queue.EnqueueAt(taskType, payload, "cli", runAt, maxRetries)
			if err != nil {
				return err
			}
			printJSON(task)
			return nil
		},
	}
	cmd.Flags().StringVar(&taskType, "task-type", "", "registered task type")
	cmd.Flags().StringVar(&payloadJSON, "payload-json", "", "JSON object passed to the handler")
	cmd.Flags().StringVar(&runAt, "run-at", "", "ISO timestamp; the task stays invisible until then")
	cmd.Flags().IntVar(&maxRetries, "max-retries", 2, "retries after the first attempt")
	cmd.MarkFlagRequired("task-type")
	return cmd
}

func newAutomationRunNextCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run-next",
		Short: "Claim and execute at most one due task",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp()
			if err != nil {
				return err
			}
			defer app.Close()

			task, ran, err := app.Worker.RunNext(cmd.Context())
			if err != nil {
				return err
			}
			if !ran {
				printJSON(map[string]any{"ran": false})
				return nil
			}
			printJSON(map[string]any{"ran": true, "task": task})
			return nil
		},
	}
}

func newAutomationRunDueCmd() *cobra.Command {
	var at string
	cmd := &cobra.Command{
		Use:   "run-due",
		Short: "Tick the scheduler and enqueue due jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp()
			if err != nil {
				return err
			}
			defer app.Close()

			now := time.Now().UTC()
			if at != "" {
				parsed, err := storage.ParseISO(at)
				if err != nil {
					return err
				}
				now = parsed
			}
			enqueued, err := app.Scheduler.Tick(now)
			if err != nil {
				return err
			}
			printJSON(map[string]any{"enqueued": enqueued, "count": len(enqueued)})
			return nil
		},
	}
	cmd.Flags().StringVar(&at, "at", "", "ISO timestamp override for the tick clock")
	return cmd
}

func newAutomationDispatchCmd() *cobra.Command {
	var skipDue bool
	var at string
	cmd := &cobra.Command{
		Use:   "dispatch",
		Short: "Run one dispatch pass: tick the scheduler, then drain due tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp()
			if err != nil {
				return err
			}
			defer app.Close()

			now := time.Now().UTC()
			if at != "" {
				parsed, err := storage.ParseISO(at)
				if err != nil {
					return err
				}
				now = parsed
			}
			worked := 0
			if skipDue {
				for {
					_, ran, err := app.Worker.RunNext(cmd.Context())
					if err != nil {
						return err
					}
					if !ran {
						break
					}
					worked++
				}
			} else {
				worked, err = app.Worker.DispatchDueAndWork(cmd.Context(), now)
				if err != nil {
					return err
				}
			}
			printJSON(map[string]any{"runDue": !skipDue, "worked": worked})
			return nil
		},
	}
	cmd.Flags().BoolVar(&skipDue, "skip-due", false, "drain the queue without ticking the scheduler")
	cmd.Flags().StringVar(&at, "at", "", "ISO timestamp override for the scheduler clock")
	return cmd
}

func newAutomationJobsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "jobs-list",
		Short: "Show configured recurring jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp()
			if err != nil {
				return err
			}
			defer app.Close()

			jobs, err := app.Scheduler.Jobs()
			if err != nil {
				return err
			}
			printJSON(map[string]any{"version": 1, "jobs": jobs})
			return nil
		},
	}
}

func newAutomationJobsSetCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "jobs-set",
		Short: "Replace the recurring job list from a JSON file",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp()
			if err != nil {
				return err
			}
			defer app.Close()

			data, err := os.ReadFile(file)
			if err != nil {
				return err
			}
			var jobs []automation.Job
			if err := json.Unmarshal(data, &jobs); err != nil {
				// Also accept the on-disk wrapper shape.
				var wrapper struct {
					Jobs []automation.Job `json:"jobs"`
				}
				if err2 := json.Unmarshal(data, &wrapper); err2 != nil {
					return fmt.Errorf("parse jobs file: %w", err)
				}
				jobs = wrapper.Jobs
			}
			if err := app.Scheduler.SaveJobs(jobs); err != nil {
				return err
			}
			printJSON(map[string]any{"version": 1, "jobs": jobs, "count": len(jobs)})
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "path to JSON job list")
	cmd.MarkFlagRequired("file")
	return cmd
}

func newAutomationWorkerCmd() *cobra.Command {
	var maxTasks int
	var pollSeconds float64
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run the worker loop until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp()
			if err != nil {
				return err
			}
			defer app.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if pollSeconds > 0 {
				app.Worker.Poll = time.Duration(pollSeconds * float64(time.Second))
			}
			if maxTasks > 0 {
				worked := 0
				for worked < maxTasks {
					n, err := app.Worker.DispatchDueAndWork(ctx, time.Now().UTC())
					if err != nil && ctx.Err() == nil {
						return err
					}
					worked += n
					if ctx.Err() != nil {
						break
					}
					if n == 0 {
						select {
						case <-ctx.Done():
						case <-time.After(app.Worker.Poll):
						}
						if ctx.Err() != nil {
							break
						}
					}
				}
				printJSON(map[string]any{"worked": worked})
				return nil
			}
			if err := app.Worker.Run(ctx); err != nil && ctx.Err() == nil {
				return err
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&maxTasks, "max-tasks", 0, "stop after this many executed tasks (0 = run forever)")
	cmd.Flags().Float64Var(&pollSeconds, "poll-seconds", 0, "queue poll interval in seconds")
	return cmd
}

func newBackupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Archive and restore the data directory",
	}

	var out string
	var noInbox bool
	create := &cobra.Command{
		Use:   "create",
		Short: "Write a tar.gz snapshot of the data directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp()
			if err != nil {
				return err
			}
			defer app.Close()

			res, err := backup.Create(app.Layout, backup.CreateOptions{
				OutPath:      out,
				IncludeInbox: !noInbox,
			})
			if err != nil {
				return err
			}
			printJSON(res)
			return nil
		},
	}
	create.Flags().StringVar(&out, "out", "", "archive path (default: backups/ under the data dir)")
	create.Flags().BoolVar(&noInbox, "no-inbox", false, "exclude the inbox from the archive")

	var archive, targetDir string
	var force bool
	restore := &cobra.Command{
		Use:   "restore",
		Short: "Unpack an archive into a target data directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := backup.Restore(archive, targetDir, force)
			if err != nil {
				return err
			}
			printJSON(res)
			return nil
		},
	}
	restore.Flags().StringVar(&archive, "archive", "", "archive path")
	restore.Flags().StringVar(&targetDir, "target-dir", "", "destination data directory")
	restore.Flags().BoolVar(&force, "force", false, "overwrite a non-empty target directory")
	restore.MarkFlagRequired("archive")
	restore.MarkFlagRequired("target-dir")

	cmd.AddCommand(create, restore)
	return cmd
}

func newOpsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ops",
		Short: "Operational visibility",
	}

	metrics := &cobra.Command{
		Use:   "metrics",
		Short: "Collect queue, index, and storage metrics",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp()
			if err != nil {
				return err
			}
			defer app.Close()

			printJSON(ops.Collect(app.Layout, app.Index, app.Queue))
			return nil
		},
	}

	cmd.AddCommand(metrics)
	return cmd
}
