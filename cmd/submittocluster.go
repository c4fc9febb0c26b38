// Copyright (C) 2024 The Dagu Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/uap-go/uap/internal/backoff"
	"github.com/uap-go/uap/internal/engine"
	"github.com/uap-go/uap/internal/engine/cluster"
	"github.com/uap-go/uap/internal/engine/scheduler"
)

// defaultPollInterval is used when a cluster config sets poll_command
// without poll_interval.
const defaultPollInterval = 15 * time.Second

func submitToClusterCmd() *cobra.Command {
	var clusterName string
	var legacy, force, ignore bool
	c := &cobra.Command{
		Use:   "submit-to-cluster [run ...]",
		Short: "Emit submit scripts and hand runs to the configured batch cluster.",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, ctx, err := newSetup()
			if err != nil {
				return err
			}

			cc, ok := s.Doc.Clusters[resolveClusterName(clusterName, s)]
			if !ok {
				return fmt.Errorf("no cluster named %q configured", clusterName)
			}
			var extra []string
			if force {
				extra = append(extra, "--force")
			}
			if flags.noToolChecks {
				extra = append(extra, "--no-tool-checks")
			}
			extra = append(extra, "--config", flags.configPath)
			adapter := cluster.New(cluster.SubmitOptions{
				Name: clusterName, SubmitCommand: cc.SubmitCommand, SubmitArgs: cc.SubmitArgs,
				ExtraRunArgs: extra,
			}, binaryPath())

			byName := make(map[string]*engine.Instance)
			for _, inst := range s.Pipeline.Instances() {
				byName[inst.Name] = inst
			}

			dispatch := func(ctx context.Context, run *engine.Run, kindName string) error {
				inst, ok := byName[run.StepName]
				if !ok {
					return fmt.Errorf("no step instance named %q", run.StepName)
				}
				jobID, err := adapter.Submit(ctx, run, inst)
				if err != nil {
					printOutcome(run.TaskID(), "cluster:"+clusterName, 0, false, err)
					return err
				}
				fmt.Printf("[OK] %s submitted to %s as job %s\n", run.TaskID(), clusterName, jobID)

				if cc.PollCommand != "" {
					interval := cc.PollInterval
					if interval <= 0 {
						interval = defaultPollInterval
					}
					isPending := cluster.IsPendingViaCommand(cc.PollCommand, cc.PollArgs)
					policy := backoff.NewConstantBackoffPolicy(interval)
					if err := cluster.PollJobID(ctx, jobID, isPending, policy); err != nil {
						printOutcome(run.TaskID(), "cluster:"+clusterName, 0, false, err)
						return err
					}
					fmt.Printf("[OK] %s left %s's pending queue\n", run.TaskID(), clusterName)
				}
				return nil
			}
			_ = legacy // --legacy has no effect: there is a single submit-script dialect

			outcomes, err := scheduler.Execute(ctx, s.Pipeline, clusterJobQuota(s.Doc), dispatch)
			if err != nil {
				exitNonZero(err)
				return nil
			}
			failed := false
			for _, o := range outcomes {
				if o.Err != nil || o.Blocked {
					failed = true
				}
			}
			if failed && !ignore {
				exitNonZero(errRunsFailed)
			}
			return nil
		},
	}
	c.Flags().StringVar(&clusterName, "cluster", "auto", "cluster name, or \"auto\" to use the configuration's only cluster")
	c.Flags().BoolVar(&legacy, "legacy", false, "accepted for compatibility; has no effect (a single submit-script dialect is written)")
	c.Flags().BoolVar(&force, "force", false, "rerun even if a prior finished run's outputs no longer match")
	c.Flags().BoolVar(&ignore, "ignore", false, "exit 0 even if some runs ended BAD")
	return c
}

func resolveClusterName(name string, s *setup) string {
	if name != "auto" {
		return name
	}
	for only := range s.Doc.Clusters {
		return only
	}
	return ""
}
