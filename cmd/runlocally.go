// Copyright (C) 2024 The Dagu Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/uap-go/uap/internal/engine/scheduler"
)

func runLocallyCmd() *cobra.Command {
	var force, ignore bool
	var step, runID string
	c := &cobra.Command{
		Use:   "run-locally [run ...]",
		Short: "Execute the pipeline's runs on the local host.",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, ctx, err := newSetup()
			if err != nil {
				return err
			}

			// --step/--run is how a cluster submit script re-enters
			// run-locally for exactly one task (internal/engine/cluster).
			if step != "" {
				if runID == "" {
					return fmt.Errorf("--run is required alongside --step")
				}
				order, err := scheduler.DeclareAll(ctx, s.Pipeline)
				if err != nil {
					exitNonZero(err)
					return nil
				}
				for _, inst := range order {
					if inst.Name != step {
						continue
					}
					runs, _ := inst.Runs(ctx)
					for _, r := range runs {
						if r.ID != runID {
							continue
						}
						if derr := s.localDispatch(force)(ctx, r, inst.Kind.Name()); derr != nil {
							exitNonZero(errRunsFailed)
						}
						return nil
					}
					return fmt.Errorf("run %q not found in step %q", runID, step)
				}
				return fmt.Errorf("unknown step %q", step)
			}

			outcomes, err := scheduler.Execute(ctx, s.Pipeline, clusterJobQuota(s.Doc), s.localDispatch(force))
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
	c.Flags().BoolVar(&force, "force", false, "rerun even if a prior finished run's outputs no longer match")
	c.Flags().BoolVar(&ignore, "ignore", false, "exit 0 even if some runs ended BAD")
	c.Flags().StringVar(&step, "step", "", "run only this step (used by submit-to-cluster's re-entry)")
	c.Flags().StringVar(&runID, "run", "", "run only this run id, alongside --step")
	return c
}

var errRunsFailed = &runsFailedError{}

type runsFailedError struct{}

func (*runsFailedError) Error() string { return "one or more runs did not finish successfully" }
