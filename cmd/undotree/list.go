package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

// listCmd prints one line per stored history.
var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored histories",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		metas, err := st.List()
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "DOCUMENT\tSAVED\tNODES\tSIZE\tBYTES")
		for _, m := range metas {
			fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\n", m.ID, m.SavedAt.Format(time.RFC3339), m.Nodes, m.Size, m.Bytes)
		}
		return w.Flush()
	},
}

func init() {
	RootCmd.AddCommand(listCmd)
}
