// Copyright (C) 2024 The Dagu Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/uap-go/uap/internal/engine"
	"github.com/uap-go/uap/internal/engine/scheduler"
)

func runInfoCmd() *cobra.Command {
	var sources bool
	c := &cobra.Command{
		Use:   "run-info [run ...]",
		Short: "Emit a shell-executable dump of the commands each run would execute.",
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

			fmt.Println("#!/bin/sh")
			fmt.Println("# run-info dump; not intended to be executed directly")
			for _, inst := range order {
				if inst.Kind.IsSource() && !sources {
					continue
				}
				runs, _ := inst.Runs(ctx)
				for _, r := range runs {
					fmt.Printf("\n# %s\n", r.TaskID())
					for _, g := range r.ExecGroups {
						for _, m := range g.Members() {
							fmt.Println(renderMember(m))
						}
					}
				}
			}
			return nil
		},
	}
	c.Flags().BoolVar(&sources, "sources", false, "include source-step runs")
	return c
}

func renderMember(m engine.ExecMember) string {
	if m.Pipeline != nil {
		parts := make([]string, 0, len(m.Pipeline.Stages))
		for _, stage := range m.Pipeline.Stages {
			parts = append(parts, quoteArgv(stage.Argv))
		}
		return strings.Join(parts, " | ")
	}
	line := quoteArgv(m.Command.Argv)
	if m.Command.StdinPath != "" {
		line += " < " + m.Command.StdinPath
	}
	if m.Command.StdoutPath != "" {
		op := ">"
		if m.Command.AppendOut {
			op = ">>"
		}
		line += " " + op + " " + m.Command.StdoutPath
	}
	if m.Command.StderrPath != "" {
		op := "2>"
		if m.Command.AppendErr {
			op = "2>>"
		}
		line += " " + op + " " + m.Command.StderrPath
	}
	return line
}

func quoteArgv(argv []string) string {
	quoted := make([]string, len(argv))
	for i, a := range argv {
		quoted[i] = "'" + strings.ReplaceAll(a, "'", `'\''`) + "'"
	}
	return strings.Join(quoted, " ")
}
