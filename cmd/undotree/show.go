package main

import (
	"fmt"

	"github.com/spf13/cobra"

	undotree "github.com/lawlist/undo-tree"
)

var showText string

// showCmd prints a summary of a stored history, or the full tree when the
// document text it belongs to is supplied.
var showCmd = &cobra.Command{
	Use:   "show <document-id>",
	Short: "Show a stored history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		id := args[0]
		if showText == "" {
			raw, err := st.Raw(id)
			if err != nil {
				return err
			}
			sum, err := undotree.Inspect(raw)
			if err != nil {
				return err
			}
			printSummary(cmd, sum)
			return nil
		}

		buf, err := loadText(showText)
		if err != nil {
			return err
		}
		t, err := st.Load(id, buf, treeOptions(id, buf))
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), t.Dump(undotree.DumpAll))
		return nil
	},
}

func printSummary(cmd *cobra.Command, sum *undotree.Summary) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "document:      %s\n", sum.DocumentID)
	fmt.Fprintf(out, "digest:        %x\n", sum.Digest)
	fmt.Fprintf(out, "version:       %d\n", sum.Version)
	fmt.Fprintf(out, "current:       #%d\n", sum.Current)
	fmt.Fprintf(out, "nodes:         %d\n", sum.Count)
	fmt.Fprintf(out, "bytes:         %d\n", sum.Size)
	fmt.Fprintf(out, "leaves:        %d\n", sum.Leaves)
	fmt.Fprintf(out, "branch points: %d\n", sum.BranchPoints)
	fmt.Fprintf(out, "depth:         %d\n", sum.Depth)
}

func init() {
	showCmd.Flags().StringVar(&showText, "text", "", "file holding the document text; prints the whole tree")
	RootCmd.AddCommand(showCmd)
}
