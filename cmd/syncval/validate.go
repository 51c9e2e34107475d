package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kolkov/syncval/syncval"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate FILE...",
		Short: "Check scenario files without replaying them",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			failed := 0
			for _, path := range args {
				s, err := syncval.LoadScenario(path)
				if err != nil {
					failed++
					fmt.Fprintf(out, "FAIL %s\n    %v\n", path, err)
					continue
				}
				fmt.Fprintf(out, "ok   %s (%s, %d steps)\n", path, s.Format, len(s.Steps))
			}
			if failed > 0 {
				return errFailed
			}
			return nil
		},
	}
}
