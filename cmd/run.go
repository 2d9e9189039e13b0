package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/tdhoang/reportfetch/internal/coordinator"
	"github.com/tdhoang/reportfetch/internal/tui"
)

var (
	runIdentity    string
	runSecret      string
	runReports     []string
	runFromDate    string
	runToDate      string
	runChunkPolicy string
	runRegions     []int
	runConfigName  string
	runWithTUI     bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Perform one download run from the command line",
	Long: `Runs a single download end to end and waits for it to finish. The
request is built either from flags (--report, --from, --to) or from a
saved configuration (--config-name). With --tui a live progress view is
shown; otherwise progress goes to the log.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		req, err := buildRunRequest(cmd.Context())
		if err != nil {
			return err
		}
		req.OTPSeed = appConfig.OTPSeed

		coord := &coordinator.Coordinator{
			Cfg:   appConfig,
			Log:   rootLogger,
			State: appState,
			Audit: appAudit,
		}
		if err := coord.Start(context.Background(), req); err != nil {
			return fmt.Errorf("starting run: %w", err)
		}

		if runWithTUI {
			p := tea.NewProgram(tui.NewMonitor(appState))
			if _, err := p.Run(); err != nil {
				return fmt.Errorf("progress view failed: %w", err)
			}
		}
		// Wait for completion either way; the TUI may have been detached.
		for appState.Active() {
			time.Sleep(500 * time.Millisecond)
		}

		rootLogger.Info("run complete", "audit_log", appConfig.AuditLogPath)
		return nil
	},
}

func buildRunRequest(ctx context.Context) (coordinator.Request, error) {
	if runConfigName != "" {
		saved, err := appStore.LoadConfig(ctx, runConfigName)
		if err != nil {
			return coordinator.Request{}, err
		}
		return saved.Request, nil
	}

	if runIdentity == "" || runSecret == "" {
		return coordinator.Request{}, fmt.Errorf("--identity and --secret are required without --config-name")
	}
	if len(runReports) == 0 || runFromDate == "" || runToDate == "" {
		return coordinator.Request{}, fmt.Errorf("--report, --from and --to are required without --config-name")
	}

	var items []coordinator.ReportItem
	for _, key := range runReports {
		items = append(items, coordinator.ReportItem{
			ReportKey:   strings.TrimSpace(key),
			FromDate:    runFromDate,
			ToDate:      runToDate,
			ChunkPolicy: runChunkPolicy,
		})
	}
	return coordinator.Request{
		Identity: runIdentity,
		Secret:   runSecret,
		Items:    items,
		Regions:  runRegions,
	}, nil
}

func init() {
	runCmd.Flags().StringVar(&runIdentity, "identity", "", "Portal login name")
	runCmd.Flags().StringVar(&runSecret, "secret", "", "Portal password")
	runCmd.Flags().StringSliceVar(&runReports, "report", nil, "Report keys to download (can specify multiple)")
	runCmd.Flags().StringVar(&runFromDate, "from", "", "Range start, dd/mm/yyyy")
	runCmd.Flags().StringVar(&runToDate, "to", "", "Range end, dd/mm/yyyy")
	runCmd.Flags().StringVar(&runChunkPolicy, "chunk", "month", "Chunk policy: 'month' or a day count")
	runCmd.Flags().IntSliceVar(&runRegions, "region", nil, "Region ids for reports that need them")
	runCmd.Flags().StringVar(&runConfigName, "config-name", "", "Run a saved configuration instead of flag-built request")
	runCmd.Flags().BoolVar(&runWithTUI, "tui", false, "Show a live progress view")
}
