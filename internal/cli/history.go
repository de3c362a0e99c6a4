package cli

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vikashloomba/a2c-computer-go/pkg/config"
	"github.com/vikashloomba/a2c-computer-go/pkg/history"
)

func historyCmd(rf *rootFlags) *cobra.Command {
	var limit int
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recorded tool calls, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			file, err := config.Load(rf.Config)
			if err != nil {
				return err
			}
			path := file.HistoryPath()
			if path == "" {
				return errors.New("history_db is not set in the config file")
			}
			sink, err := history.OpenSQLite(path)
			if err != nil {
				return err
			}
			defer sink.Close()

			records, err := sink.Recent(limit)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), records)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TIME\tSERVER\tTOOL\tOK\tERROR")
			for _, r := range records {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%v\t%s\n", r.Timestamp.Local().Format(time.DateTime), r.Server, r.Tool, r.Success, r.Error)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of records (0 for all)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print records as JSON")
	return cmd
}
