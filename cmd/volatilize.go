// Copyright (C) 2024 The Dagu Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/uap-go/uap/internal/engine"
	"github.com/uap-go/uap/internal/engine/scheduler"
	"github.com/uap-go/uap/internal/engine/volatile"
)

func volatilizeCmd() *cobra.Command {
	var details, srsly bool
	c := &cobra.Command{
		Use:   "volatilize [run ...]",
		Short: "Replace _volatile step outputs with placeholders, preserving lineage and hash.",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, ctx, err := newSetup()
			if err != nil {
				return err
			}
			order, err := scheduler.DeclareAll(ctx, s.Pipeline)
			if err != nil {
				exitNonZero(err)
				return nil
			}

			count := 0
			for _, inst := range order {
				if !inst.Volatile {
					continue
				}
				runs, _ := inst.Runs(ctx)
				for _, r := range runs {
					for path, info := range r.KnownPaths {
						if info.Designation != engine.DesignationOutput || info.SHA256 == "" {
							continue
						}
						if volatile.IsVolatilized(path) {
							continue
						}
						count++
						if details {
							fmt.Printf("[volatilize] %s: %s\n", r.TaskID(), path)
						}
						if !srsly {
							continue
						}
						downstream := downstreamTasksFor(s, path)
						if err := volatile.Volatilize(path, info, []string{r.TaskID()}, downstream); err != nil {
							fmt.Printf("  failed: %v\n", err)
						}
					}
				}
			}

			if count == 0 {
				fmt.Println("[OK] nothing to volatilize")
			} else if !srsly {
				fmt.Printf("[OK] %d output(s) eligible; rerun with --srsly to replace them\n", count)
			} else {
				fmt.Printf("[OK] volatilized %d output(s)\n", count)
			}
			return nil
		},
	}
	c.Flags().BoolVar(&details, "details", false, "list every eligible output")
	c.Flags().BoolVar(&srsly, "srsly", false, "actually replace outputs with placeholders")
	return c
}

// downstreamTasksFor finds every declared run whose resolved inputs
// reference path, for recording in the placeholder.
func downstreamTasksFor(s *setup, path string) []string {
	var out []string
	for _, inst := range s.Pipeline.Instances() {
		for runID, byName := range inst.ResolvedInputs {
			for _, paths := range byName {
				for _, p := range paths {
					if p == path {
						out = append(out, inst.Name+"/"+runID)
					}
				}
			}
		}
	}
	return out
}
