// Package cli implements the operator commands of ojs-jobstore-admin. The
// commands work on the job store directly, not through the HTTP API.
package cli

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/openjobspec/ojs-jobstore-nats/internal/api"
	"github.com/openjobspec/ojs-jobstore-nats/internal/core"
)

// OpenFunc opens the job store for one command. The returned func
// releases it.
type OpenFunc func(ctx context.Context) (api.Store, func(), error)

// NewRootCmd builds the command tree.
func NewRootCmd(open OpenFunc, outputFn func(cmd *cobra.Command, jsonMode bool) *Output) *cobra.Command {
	var jsonOutput bool

	root := &cobra.Command{
		Use:           "ojs-jobstore-admin",
		Short:         "Inspect and repair an OJS job store",
		Version:       core.OJSVersion,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")

	env := &env{open: open, output: func(cmd *cobra.Command) *Output { return outputFn(cmd, jsonOutput) }}
	root.AddCommand(
		env.countsCmd(),
		env.clearCmd(),
		env.triggersCmd(),
		env.keyCmd("unlock", "Force-release the lease on a trigger or job",
			func(s api.Store) keyAction { return s.UnlockTrigger },
			func(s api.Store) keyAction { return s.UnlockJob }),
		env.keyCmd("pause", "Pause a trigger or every trigger of a job",
			func(s api.Store) keyAction { return s.PauseTrigger },
			func(s api.Store) keyAction { return s.PauseJob }),
		env.keyCmd("resume", "Resume a trigger or every trigger of a job",
			func(s api.Store) keyAction { return s.ResumeTrigger },
			func(s api.Store) keyAction { return s.ResumeJob }),
	)
	return root
}

type keyAction func(ctx context.Context, key core.Key) (bool, error)

type env struct {
	open   OpenFunc
	output func(cmd *cobra.Command) *Output
}

func (e *env) withStore(cmd *cobra.Command, fn func(ctx context.Context, s api.Store) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	s, closeFn, err := e.open(ctx)
	if err != nil {
		return fmt.Errorf("open job store: %w", err)
	}
	defer closeFn()
	return fn(ctx, s)
}

func (e *env) countsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "counts",
		Short: "Show the number of jobs, triggers and calendars",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return e.withStore(cmd, func(ctx context.Context, s api.Store) error {
				c, err := s.Counts(ctx)
				if err != nil {
					return err
				}
				e.output(cmd).Print(
					[]string{"JOBS", "TRIGGERS", "CALENDARS"},
					[][]string{{strconv.Itoa(c.Jobs), strconv.Itoa(c.Triggers), strconv.Itoa(c.Calendars)}},
					c,
				)
				return nil
			})
		},
	}
}

func (e *env) clearCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every job, trigger and calendar",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !yes {
				return fmt.Errorf("refusing to clear all scheduling data without --yes")
			}
			return e.withStore(cmd, func(ctx context.Context, s api.Store) error {
				if err := s.ClearAllSchedulingData(ctx); err != nil {
					return err
				}
				e.output(cmd).Success("cleared all scheduling data")
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "Confirm deletion")
	return cmd
}

func (e *env) triggersCmd() *cobra.Command {
	var group string
	cmd := &cobra.Command{
		Use:   "triggers",
		Short: "List triggers with their state and next fire time",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m := core.AnyGroup()
			if group != "" {
				m = core.GroupEquals(group)
			}
			return e.withStore(cmd, func(ctx context.Context, s api.Store) error {
				keys, err := s.TriggerKeys(ctx, m)
				if err != nil {
					return err
				}
				var rows [][]string
				var triggers []*core.Trigger
				for _, k := range keys {
					t, err := s.RetrieveTrigger(ctx, k)
					if err != nil {
						return err
					}
					if t == nil {
						continue
					}
					triggers = append(triggers, t)
					rows = append(rows, []string{
						t.Key.String(), t.JobKey.String(), string(t.State),
						formatTime(t.NextFireTime), t.Lock.LockedBy,
					})
				}
				e.output(cmd).Print([]string{"TRIGGER", "JOB", "STATE", "NEXT_FIRE", "LOCKED_BY"}, rows, triggers)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&group, "group", "", "Only list triggers in this group")
	return cmd
}

// keyCmd builds "<verb> trigger KEY" and "<verb> job KEY".
func (e *env) keyCmd(verb, short string, onTrigger, onJob func(api.Store) keyAction) *cobra.Command {
	cmd := &cobra.Command{
		Use:   verb,
		Short: short,
	}
	sub := func(kind string, action func(api.Store) keyAction) *cobra.Command {
		return &cobra.Command{
			Use:   kind + " GROUP:NAME",
			Short: verb + " a " + kind,
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				key, err := core.ParseKey(args[0])
				if err != nil {
					return err
				}
				return e.withStore(cmd, func(ctx context.Context, s api.Store) error {
					changed, err := action(s)(ctx, key)
					if err != nil {
						return err
					}
					result := map[string]any{"key": key.String(), "changed": changed}
					e.output(cmd).Print([]string{"KEY", "CHANGED"}, [][]string{{key.String(), strconv.FormatBool(changed)}}, result)
					return nil
				})
			},
		}
	}
	cmd.AddCommand(sub("trigger", onTrigger), sub("job", onJob))
	return cmd
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}
