package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var showCmd = &cobra.Command{
	Use:   "show <message-id>",
	Short: "Print a stored research session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, closer, err := cfg.Store()
		if err != nil {
			return err
		}
		defer closer.Close()

		state, err := store.Load(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printResult(cmd.OutOrStdout(), state)
	},
}

var listLimit int

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored research sessions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, closer, err := cfg.Store()
		if err != nil {
			return err
		}
		defer closer.Close()

		sums, err := store.List(cmd.Context())
		if err != nil {
			return err
		}
		if listLimit > 0 && len(sums) > listLimit {
			sums = sums[:listLimit]
		}

		out := cmd.OutOrStdout()
		if jsonOutput {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(sums)
		}
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tPHASE\tFACTS\tUPDATED\tQUERY")
		for _, s := range sums {
			fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n",
				s.MessageID, s.Phase, s.Facts, s.UpdatedAt.Local().Format("2006-01-02 15:04"), truncate(s.Query, 60))
		}
		return tw.Flush()
	},
}

func init() {
	listCmd.Flags().IntVarP(&listLimit, "limit", "n", 20, "Maximum number of sessions (0 for all)")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
