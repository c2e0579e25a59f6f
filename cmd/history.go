package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"syncq/internal/report"
	"syncq/internal/storage"
	"syncq/internal/tui"
)

var historyCmd = &cobra.Command{
	Use:   "history [run-id]",
	Short: "Browse previous runs",
	Long: `Without arguments opens the interactive history browser (or prints a
table with --plain). With a run id prints that run's summary.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("db")
		plain, _ := cmd.Flags().GetBool("plain")
		format, _ := cmd.Flags().GetString("format")

		if path == "" {
			var err error
			if path, err = storage.DefaultPath(); err != nil {
				return err
			}
		}
		store, err := storage.NewStoreAt(path)
		if err != nil {
			return err
		}
		defer store.Close()

		if len(args) == 1 {
			item, err := store.Get(args[0])
			if err != nil {
				return err
			}
			f, err := report.ParseFormat(format)
			if err != nil {
				return err
			}
			return report.WriteSummary(os.Stdout, item.Summary, f)
		}

		if plain {
			return printHistory(store)
		}

		_, err = tea.NewProgram(tui.NewBrowser(store), tea.WithAltScreen()).Run()
		return err
	},
}

func printHistory(store *storage.Store) error {
	items, err := store.List()
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTIME\tURL\tVUS\tSENT\tRECV\tRTT P95\tRESULT")
	for _, it := range items {
		verdict := "pass"
		if !it.Summary.Passed {
			verdict = "fail"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%.1f\t%s\n",
			it.ID, it.Timestamp.Local().Format(time.DateTime), it.Config.URL, it.Config.NumUsers,
			it.Summary.Messages.Sent, it.Summary.Messages.Received, it.Summary.RTT.P95, verdict)
	}
	return w.Flush()
}

func init() {
	f := historyCmd.Flags()
	f.String("db", "", "History database (default ~/.syncq/history.db)")
	f.Bool("plain", false, "Print a table instead of the interactive browser")
	f.String("format", "json", "Summary format for a single run: json or yaml")
}
