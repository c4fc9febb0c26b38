// Copyright (C) 2024 The Dagu Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/uap-go/uap/internal/engine/scheduler"
	"github.com/uap-go/uap/internal/render"
)

func renderCmd() *cobra.Command {
	var files, steps, simple bool
	var orientation string
	c := &cobra.Command{
		Use:   "render [run ...]",
		Short: "Draw the pipeline as a Graphviz DOT graph.",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, ctx, err := newSetup()
			if err != nil {
				return err
			}
			opts := render.Options{Simple: simple, Orientation: orientationFlag(orientation)}

			if files {
				if _, err := scheduler.DeclareAll(ctx, s.Pipeline); err != nil {
					exitNonZero(err)
					return nil
				}
				out, err := render.Files(ctx, s.Pipeline, opts)
				if err != nil {
					exitNonZero(err)
					return nil
				}
				fmt.Print(out)
				return nil
			}

			_ = steps // --steps is the default mode; the flag exists for explicitness
			fmt.Print(render.Steps(s.Pipeline, opts))
			return nil
		},
	}
	c.Flags().BoolVar(&files, "files", false, "render at run/file granularity instead of step granularity")
	c.Flags().BoolVar(&steps, "steps", true, "render at step granularity (default)")
	c.Flags().BoolVar(&simple, "simple", false, "omit option/tool detail from node labels")
	c.Flags().StringVar(&orientation, "orientation", "top-to-bottom", "top-to-bottom|left-to-right|right-to-left")
	return c
}

func orientationFlag(s string) render.Orientation {
	switch s {
	case "left-to-right":
		return render.LeftToRight
	case "right-to-left":
		return render.RightToLeft
	default:
		return render.TopToBottom
	}
}
