// Copyright (C) 2024 The Dagu Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package cmd

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/uap-go/uap/internal/engine"
)

func stepsCmd() *cobra.Command {
	var details bool
	var show string
	c := &cobra.Command{
		Use:   "steps",
		Short: "List the compiled-in step kind registry.",
		RunE: func(cmd *cobra.Command, args []string) error {
			names := engine.KindNames()
			if show != "" {
				kind, ok := engine.Lookup(show)
				if !ok {
					return fmt.Errorf("unknown step kind %q", show)
				}
				describeKind(kind, true)
				return nil
			}

			t := table.NewWriter()
			t.AppendHeader(table.Row{"Kind", "Source?", "Tools", "Connections"})
			for _, name := range names {
				kind, _ := engine.Lookup(name)
				conns := kind.DeclareConnections()
				n := len(conns.Inputs()) + len(conns.Outputs())
				t.AppendRow(table.Row{name, kind.IsSource(), len(kind.RequiredTools()), n})
			}
			fmt.Println(t.Render())

			if details {
				for _, name := range names {
					kind, _ := engine.Lookup(name)
					describeKind(kind, false)
				}
			}
			return nil
		},
	}
	c.Flags().BoolVar(&details, "details", false, "print option/connection detail for every kind")
	c.Flags().StringVar(&show, "show", "", "print detail for a single kind")
	return c
}

func describeKind(kind engine.Kind, header bool) {
	if header {
		fmt.Printf("## %s (source=%v)\n", kind.Name(), kind.IsSource())
	} else {
		fmt.Printf("\n## %s\n", kind.Name())
	}
	for _, spec := range kind.DeclareOptions() {
		fmt.Printf("  option %-20s optional=%v default=%v\n", spec.Name, spec.Optional, spec.Default)
	}
	conns := kind.DeclareConnections()
	for _, c := range conns.Inputs() {
		fmt.Printf("  in  %-20s optional=%v format=%s\n", c.Name, c.Optional, c.Format)
	}
	for _, c := range conns.Outputs() {
		fmt.Printf("  out %-20s format=%s\n", c.Name, c.Format)
	}
	if tools := kind.RequiredTools(); len(tools) > 0 {
		fmt.Printf("  tools: %v\n", tools)
	}
}
