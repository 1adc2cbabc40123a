//go:build !linux || tinygo

package main

import (
	"errors"

	"github.com/spf13/cobra"
)

func newRunCmd(opts *globalOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Drive a real keypad, LCD and LED from this host's GPIO (Linux only)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return errors.New("run needs Linux GPIO; try sim")
		},
	}
}
