package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

var logsCmd = &cobra.Command{
	Use:   "logs <session-id>",
	Short: "Print the research log of a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		sink, err := cfg.ResearchLog()
		if err != nil {
			return err
		}
		if sink == nil {
			return errors.New("research log is disabled (storage.log_dir is empty)")
		}
		entries, err := sink.ReadAll(args[0])
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if jsonOutput {
			enc := json.NewEncoder(out)
			for _, e := range entries {
				if err := enc.Encode(e); err != nil {
					return err
				}
			}
			return nil
		}
		for _, e := range entries {
			fmt.Fprintf(out, "%s  step %-3d %-12s %-14s %s\n",
				e.Time.Local().Format("15:04:05"), e.Step, e.Phase, e.Kind, e.Message)
		}
		return nil
	},
}
