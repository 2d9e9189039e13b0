package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var (
	historyLimit  int
	historyStatus string
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Print the download audit trail",
	RunE: func(cmd *cobra.Command, args []string) error {
		rows, err := appAudit.Read()
		if err != nil {
			return fmt.Errorf("reading audit trail: %w", err)
		}

		fmt.Printf("--- Download History (Limit %d) ---\n", historyLimit)
		fmt.Printf("%-36s | %-19s | %-45s | %-10s | %-10s | %-28s | %s\n",
			"SessionID", "Timestamp", "File", "Start", "End", "Status", "Error")
		fmt.Println(strings.Repeat("-", 170))

		count := 0
		for _, r := range rows {
			if historyStatus != "" && !strings.EqualFold(r.Status, historyStatus) {
				continue
			}
			fmt.Printf("%-36s | %-19s | %-45s | %-10s | %-10s | %-28s | %s\n",
				r.SessionID,
				r.Timestamp.Format("2006-01-02 15:04:05"),
				truncateCell(r.FileName, 45),
				r.StartDate,
				r.EndDate,
				r.Status,
				r.Err,
			)
			count++
			if count >= historyLimit {
				break
			}
		}
		fmt.Printf("Displayed %d records.\n", count)
		return nil
	},
}

func truncateCell(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func init() {
	historyCmd.Flags().IntVar(&historyLimit, "limit", 50, "Maximum records to display")
	historyCmd.Flags().StringVar(&historyStatus, "status", "", "Only show records with this status")
}
