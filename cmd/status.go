// Copyright (C) 2024 The Dagu Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package cmd

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/uap-go/uap/internal/engine"
	"github.com/uap-go/uap/internal/engine/heartbeat"
	"github.com/uap-go/uap/internal/engine/scheduler"
	"github.com/uap-go/uap/internal/engine/taskstate"
	"github.com/uap-go/uap/internal/render"
)

func statusCmd() *cobra.Command {
	var showCluster, details, jobIDs, summarize, graph, hash, sources bool
	c := &cobra.Command{
		Use:   "status [run ...]",
		Short: "Report the observable state of every declared run.",
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

			t := table.NewWriter()
			header := table.Row{"Step", "Run", "State"}
			if jobIDs || showCluster {
				header = append(header, "Cluster Job")
			}
			if hash {
				header = append(header, "Hash")
			}
			t.AppendHeader(header)

			counts := make(map[taskstate.State]int)
			for _, inst := range order {
				if inst.Kind.IsSource() && !sources {
					continue
				}
				runs, err := inst.Runs(ctx)
				if err != nil {
					exitNonZero(err)
					return nil
				}
				for _, r := range runs {
					state := taskstate.Observe(r, s.Cache)
					counts[state]++
					row := table.Row{inst.Name, r.ID, string(state)}
					if jobIDs || showCluster {
						jobID := ""
						if ping, ok, _ := heartbeat.ReadQueuedPing(r.QueuedPingPath()); ok {
							jobID = ping.ClusterJobID
						}
						row = append(row, jobID)
					}
					if hash {
						sum := ""
						for _, info := range r.KnownPaths {
							if info.Designation == engine.DesignationOutput && info.SHA256 != "" {
								sum = info.SHA256
								break
							}
						}
						row = append(row, sum)
					}
					t.AppendRow(row)
				}
			}
			fmt.Println(t.Render())

			if summarize {
				for state, n := range counts {
					fmt.Printf("%s: %d\n", state, n)
				}
			}
			if graph {
				fmt.Println(render.Steps(s.Pipeline, render.Options{}))
			}
			if details {
				fmt.Println("use `render --files` for the full run-level dependency detail")
			}
			return nil
		},
	}
	c.Flags().BoolVar(&showCluster, "cluster", false, "show the cluster job id column")
	c.Flags().BoolVar(&details, "details", false, "print a pointer to `render --files` for run-level dependency detail")
	c.Flags().BoolVar(&jobIDs, "job-ids", false, "show the cluster job id column")
	c.Flags().BoolVar(&summarize, "summarize", false, "print per-state counts")
	c.Flags().BoolVar(&graph, "graph", false, "render the dependency graph alongside status")
	c.Flags().BoolVar(&hash, "hash", false, "show each run's first recorded output hash")
	c.Flags().BoolVar(&sources, "sources", false, "include source-step runs")
	return c
}
