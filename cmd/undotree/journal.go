package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	undotree "github.com/lawlist/undo-tree"
	"github.com/lawlist/undo-tree/journal"
)

var (
	journalFileName string
	journalDoc      string
	journalText     string
	journalSave     bool
)

// journalCmd lists the snapshots in a journal directory. With --text, it
// restores the newest snapshot instead, optionally saving it to the database.
var journalCmd = &cobra.Command{
	Use:   "journal <dir>",
	Short: "List or restore journal snapshots",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		j := journal.New(args[0], journal.Options{
			FileName:  journalFileName,
			DebugName: args[0],
			Logger:    logger,
			Verbose:   verbose,
		})

		if journalText == "" {
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "RECORD\tSEGMENT\tTIME\tDOCUMENT\tNODES\tBYTES")
			err := j.Records(func(r journal.Record) error {
				sum, err := undotree.Inspect(r.Data)
				if err != nil {
					fmt.Fprintf(w, "%d\t%d\t%s\t** %v\t\t%d\n", r.ID, r.Segment, r.Timestamp.Format(time.RFC3339), err, len(r.Data))
					return nil
				}
				if journalDoc != "" && sum.DocumentID != journalDoc {
					return nil
				}
				fmt.Fprintf(w, "%d\t%d\t%s\t%s\t%d\t%d\n", r.ID, r.Segment, r.Timestamp.Format(time.RFC3339), sum.DocumentID, sum.Count, len(r.Data))
				return nil
			})
			if err != nil {
				return err
			}
			return w.Flush()
		}

		buf, err := loadText(journalText)
		if err != nil {
			return err
		}
		t, err := undotree.LoadLatestSnapshot(j, buf, treeOptions(journalDoc, buf))
		if err != nil {
			return err
		}
		if journalSave {
			st, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()
			meta, err := st.Save(t)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "saved %s (%d nodes, %d bytes)\n", meta.ID, meta.Nodes, meta.Bytes)
			return nil
		}
		fmt.Fprint(cmd.OutOrStdout(), t.Dump(undotree.DumpAll))
		return nil
	},
}

func init() {
	journalCmd.Flags().StringVar(&journalFileName, "files", "*.jrnl", "segment file name pattern")
	journalCmd.Flags().StringVar(&journalDoc, "doc", "", "only consider snapshots of this document")
	journalCmd.Flags().StringVar(&journalText, "text", "", "file holding the document text; restores the newest snapshot")
	journalCmd.Flags().BoolVar(&journalSave, "save", false, "save the restored history to the database")
	RootCmd.AddCommand(journalCmd)
}
