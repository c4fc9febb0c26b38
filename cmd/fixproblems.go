// Copyright (C) 2024 The Dagu Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/uap-go/uap/internal/engine/heartbeat"
	"github.com/uap-go/uap/internal/engine/scheduler"
	"github.com/uap-go/uap/internal/engine/taskstate"
)

func fixProblemsCmd() *cobra.Command {
	var cluster, firstError, fileModDate, details, srsly bool
	c := &cobra.Command{
		Use:   "fix-problems",
		Short: "Report (and, with --srsly, repair) stale pings and other recoverable on-disk inconsistencies.",
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

			found := 0
			for _, inst := range order {
				runs, _ := inst.Runs(ctx)
				for _, r := range runs {
					state := taskstate.Observe(r, s.Cache)
					if state != taskstate.BadStale {
						continue
					}
					found++
					fmt.Printf("[problem] %s: stale executing ping (>%s un-renewed)\n", r.TaskID(), heartbeat.PingTimeout)
					if details {
						if info, err := os.Stat(r.ExecutingPingPath()); err == nil {
							fmt.Printf("  last touched %s\n", info.ModTime())
						}
					}
					if srsly {
						if err := heartbeat.MarkBad(r.QueuedPingPath(), fileModDate); err != nil && !os.IsNotExist(err) {
							fmt.Printf("  failed to mark queued ping bad: %v\n", err)
						}
						if err := os.Remove(r.ExecutingPingPath()); err != nil && !os.IsNotExist(err) {
							fmt.Printf("  failed to remove stale ping: %v\n", err)
							continue
						}
						fmt.Printf("  removed stale executing ping; rerun with run-locally --force\n")
					}
					if firstError {
						break
					}
				}
				if firstError && found > 0 {
					break
				}
			}

			_ = cluster // --cluster has no effect: only local ping files are scanned
			if found == 0 {
				fmt.Println("[OK] no problems found")
			}
			return nil
		},
	}
	c.Flags().BoolVar(&cluster, "cluster", false, "accepted for compatibility; has no effect (only local ping files are scanned)")
	c.Flags().BoolVar(&firstError, "first-error", false, "stop at the first problem found")
	c.Flags().BoolVar(&fileModDate, "file-modification-date", false, "keep a timestamped debug copy of each bad ping")
	c.Flags().BoolVar(&details, "details", false, "print extra detail per problem")
	c.Flags().BoolVar(&srsly, "srsly", false, "actually repair problems instead of only reporting them")
	return c
}
