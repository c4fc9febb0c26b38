/*
Copyright © 2022 NAME HERE <EMAIL ADDRESS>

*/
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/uap-go/uap/internal/build"
)

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: fmt.Sprintf("%s version", build.AppName),
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println(build.Version)
			return nil
		},
	}
}
