package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/seqmarket/genomeledger/service/temporal"
	"github.com/urfave/cli/v2"
	"go.temporal.io/sdk/client"
)

func describeScheduleCommand() *cli.Command {
	return &cli.Command{
		Name:    "describe-schedule",
		Usage:   "Describe the expiry sweep schedule",
		Aliases: []string{"describe"},
		Action: func(c *cli.Context) error {
			temporalClient, err := getTemporalClient(c)
			if err != nil {
				return err
			}
			defer temporalClient.Close()

			ctx := context.Background()
			handle := temporalClient.ScheduleClient().GetHandle(ctx, temporal.ExpiryScheduleID)
			desc, err := handle.Describe(ctx)
			if err != nil {
				return fmt.Errorf("failed to describe schedule: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(desc)
			}

			// Pretty output
			fmt.Printf("Schedule ID:    %s\n", temporal.ExpiryScheduleID)
			fmt.Printf("Paused:         %v\n", desc.Schedule.State.Paused)
			fmt.Printf("State Note:     %s\n", desc.Schedule.State.Note)
			if len(desc.Schedule.Spec.Intervals) > 0 {
				fmt.Printf("Interval:       %s\n", desc.Schedule.Spec.Intervals[0].Every)
			}
			fmt.Printf("Running Now:    %d\n", len(desc.Info.RunningWorkflows))
			fmt.Printf("Total Actions:  %d\n", desc.Info.NumActions)
			if len(desc.Info.RecentActions) > 0 {
				last := desc.Info.RecentActions[len(desc.Info.RecentActions)-1]
				fmt.Printf("Last Run:       %s\n", last.ActualTime.Format(time.RFC3339))
			}
			if len(desc.Info.NextActionTimes) > 0 {
				fmt.Printf("Next Run:       %s\n", desc.Info.NextActionTimes[0].Format(time.RFC3339))
			}

			return nil
		},
	}
}

func ensureScheduleCommand() *cli.Command {
	return &cli.Command{
		Name:  "ensure-schedule",
		Usage: "Create or update the expiry sweep schedule",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:    "interval",
				Aliases: []string{"i"},
				Usage:   "Sweep interval",
				Value:   time.Minute,
			},
			&cli.StringFlag{
				Name:    "task-queue",
				Usage:   "Task queue the sweep worker listens on",
				EnvVars: []string{"TEMPORAL_TASK_QUEUE"},
				Value:   "genomeledger-expiry",
			},
		},
		Action: func(c *cli.Context) error {
			scheduler, err := temporal.NewClient(
				c.String("temporal-host"),
				c.String("temporal-namespace"),
				c.String("task-queue"),
				nil,
			)
			if err != nil {
				return err
			}
			defer scheduler.Close()

			interval := c.Duration("interval")
			if err := scheduler.EnsureExpirySchedule(context.Background(), interval); err != nil {
				return fmt.Errorf("failed to ensure schedule: %w", err)
			}

			fmt.Printf("Schedule %s ensured with interval %s\n", temporal.ExpiryScheduleID, interval)
			return nil
		},
	}
}

func pauseScheduleCommand() *cli.Command {
	return &cli.Command{
		Name:  "pause-schedule",
		Usage: "Pause the expiry sweep schedule",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "note",
				Usage: "Note explaining why the schedule is paused",
			},
		},
		Action: func(c *cli.Context) error {
			temporalClient, err := getTemporalClient(c)
			if err != nil {
				return err
			}
			defer temporalClient.Close()

			ctx := context.Background()
			handle := temporalClient.ScheduleClient().GetHandle(ctx, temporal.ExpiryScheduleID)
			err = handle.Pause(ctx, client.SchedulePauseOptions{
				Note: c.String("note"),
			})
			if err != nil {
				return fmt.Errorf("failed to pause schedule: %w", err)
			}

			fmt.Printf("Schedule paused: %s\n", temporal.ExpiryScheduleID)
			return nil
		},
	}
}

func resumeScheduleCommand() *cli.Command {
	return &cli.Command{
		Name:  "resume-schedule",
		Usage: "Resume the expiry sweep schedule",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "note",
				Usage: "Note explaining why the schedule is resumed",
			},
		},
		Action: func(c *cli.Context) error {
			temporalClient, err := getTemporalClient(c)
			if err != nil {
				return err
			}
			defer temporalClient.Close()

			ctx := context.Background()
			handle := temporalClient.ScheduleClient().GetHandle(ctx, temporal.ExpiryScheduleID)
			err = handle.Unpause(ctx, client.ScheduleUnpauseOptions{
				Note: c.String("note"),
			})
			if err != nil {
				return fmt.Errorf("failed to resume schedule: %w", err)
			}

			fmt.Printf("Schedule resumed: %s\n", temporal.ExpiryScheduleID)
			return nil
		},
	}
}

func triggerScheduleCommand() *cli.Command {
	return &cli.Command{
		Name:  "trigger-sweep",
		Usage: "Trigger an immediate expiry sweep",
		Action: func(c *cli.Context) error {
			temporalClient, err := getTemporalClient(c)
			if err != nil {
				return err
			}
			defer temporalClient.Close()

			ctx := context.Background()
			handle := temporalClient.ScheduleClient().GetHandle(ctx, temporal.ExpiryScheduleID)
			err = handle.Trigger(ctx, client.ScheduleTriggerOptions{})
			if err != nil {
				return fmt.Errorf("failed to trigger sweep: %w", err)
			}

			fmt.Printf("Sweep triggered via schedule %s\n", temporal.ExpiryScheduleID)
			return nil
		},
	}
}

func deleteScheduleCommand() *cli.Command {
	return &cli.Command{
		Name:  "delete-schedule",
		Usage: "Delete the expiry sweep schedule",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "force",
				Aliases: []string{"f"},
				Usage:   "Skip the confirmation prompt",
			},
		},
		Action: func(c *cli.Context) error {
			if !c.Bool("force") {
				fmt.Printf("Delete schedule %s? Offers with a validity window will stop expiring. [y/N] ", temporal.ExpiryScheduleID)
				var answer string
				fmt.Scanln(&answer)
				if answer != "y" && answer != "Y" {
					fmt.Println("Aborted")
					return nil
				}
			}

			temporalClient, err := getTemporalClient(c)
			if err != nil {
				return err
			}
			defer temporalClient.Close()

			ctx := context.Background()
			handle := temporalClient.ScheduleClient().GetHandle(ctx, temporal.ExpiryScheduleID)
			if err := handle.Delete(ctx); err != nil {
				return fmt.Errorf("failed to delete schedule: %w", err)
			}

			fmt.Printf("Schedule deleted: %s\n", temporal.ExpiryScheduleID)
			return nil
		},
	}
}

// Helper function to connect to Temporal
func getTemporalClient(c *cli.Context) (client.Client, error) {
	// Try to get from parent context first (for global flags)
	host := c.String("temporal-host")
	if host == "" && c.App != nil {
		// Try environment variable directly if flag not found
		host = os.Getenv("TEMPORAL_HOST")
	}
	if host == "" {
		host = "localhost:7233" // Default value
	}

	namespace := c.String("temporal-namespace")
	if namespace == "" && c.App != nil {
		namespace = os.Getenv("TEMPORAL_NAMESPACE")
	}
	if namespace == "" {
		namespace = "default" // Default value
	}

	temporalClient, err := client.Dial(client.Options{
		HostPort:  host,
		Namespace: namespace,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Temporal: %w", err)
	}

	return temporalClient, nil
}
