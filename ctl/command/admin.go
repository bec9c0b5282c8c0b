package command

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/tnqbao/gau-music-dispatch/dispatch"
	"github.com/tnqbao/gau-music-dispatch/entity"
	"github.com/tnqbao/gau-music-dispatch/utils"
)

func NewOverviewCmd(env *Env) *cobra.Command {
	return &cobra.Command{
		Use:   "overview",
		Short: "Show queue and worker pool summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			o, err := env.Client().Overview(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Queue:   %d/%d\n", o.QueueDepth, o.QueueCapacity)
			fmt.Fprintf(out, "Workers: %d observed (%d alive, %d suspect), %d desired\n",
				o.ObservedWorkers, o.AliveWorkers, o.SuspectWorkers, o.DesiredWorkers)
			fmt.Fprintf(out, "Slots:   %d busy, %d free of %d\n", o.BusySlots, o.FreeSlots, o.TotalSlots)
			fmt.Fprintln(out, "Jobs:")
			statuses := make([]string, 0, len(o.Jobs))
			for status := range o.Jobs {
				statuses = append(statuses, string(status))
			}
			sort.Strings(statuses)
			for _, status := range statuses {
				fmt.Fprintf(out, "  %-10s %d\n", status, o.Jobs[entity.JobStatus(status)])
			}
			return nil
		},
	}
}

func NewJobsCmd(env *Env) *cobra.Command {
	var status, kind string
	var limit, offset int

	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			jobs, err := env.Client().ListJobs(cmd.Context(), dispatch.JobFilter{
				Status: entity.JobStatus(status),
				Kind:   entity.JobKind(kind),
				Limit:  limit,
				Offset: offset,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(jobs) == 0 {
				fmt.Fprintln(out, "No jobs found.")
				return nil
			}
			for _, j := range jobs {
				fmt.Fprintf(out, "%s | %-10s | %-10s | attempt=%d retries=%d %s\n",
					j.ID, j.Status, j.Kind, j.Attempt, j.Retries, j.ErrorReason)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "Filter by status (pending,processing,success,failed)")
	cmd.Flags().StringVar(&kind, "kind", "", "Filter by kind (generate,train_lora)")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum number of jobs")
	cmd.Flags().IntVar(&offset, "offset", 0, "Number of jobs to skip")
	return cmd
}

func NewWorkersCmd(env *Env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workers",
		Short: "Inspect and scale the worker pool",
		RunE: func(cmd *cobra.Command, args []string) error {
			list, err := env.Client().ListWorkers(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%d workers (desired %d)\n", len(list.Workers), list.Desired)
			for _, w := range list.Workers {
				fmt.Fprintf(out, "%s | %-7s | %d/%d slots busy\n",
					w.ID, w.Liveness, len(w.Assignments), w.Capability)
			}
			return nil
		},
	}
	cmd.AddCommand(NewWorkersScaleCmd(env))
	return cmd
}

func NewWorkersScaleCmd(env *Env) *cobra.Command {
	return &cobra.Command{
		Use:   "scale <n>",
		Short: "Set the desired worker count",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := strconv.Atoi(args[0])
			if err != nil || n < 0 {
				return fmt.Errorf("worker count must be a non-negative integer")
			}
			if err := env.Client().SetDesiredWorkers(cmd.Context(), n); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Desired workers set to", n)
			return nil
		},
	}
}

func NewTokenCmd(env *Env) *cobra.Command {
	var subject string

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an admin token signed with JWT_SECRET_KEY",
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := utils.IssueAdminToken(subject, env.Config)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "operator", "Token subject")
	return cmd
}
