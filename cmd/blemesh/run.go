package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	goble "github.com/srg/blemesh/internal/device/go-ble"
	"github.com/srg/blemesh/pkg/config"
	"github.com/srg/blemesh/scanner"
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Scan and run a plan against every connectable peer",
	Long: `Scan for BLE peripherals and run the requests of a plan file against every
connectable peer that passes the filters.

Read results are printed as they arrive. When the scan ends, blemesh waits for
the connected peers to get through the plan (at most --wait) and prints a
per-peer report. The exit status is non-zero when any peer did not finish.`,
	Example: `  blemesh run --plan battery.yaml
  blemesh run -p ota.yaml --allow AA:BB:CC:DD:EE:FF --duration 1m
  blemesh run -p plan.yaml --services 180f --format json`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

var (
	runPlanPath       string
	runDuration       time.Duration
	runConnectTimeout time.Duration
	runWait           time.Duration
	runFormat         string
	runServices       []string
	runAllowList      []string
	runBlockList      []string
	runNoColor        bool
)

func init() {
	cfg := config.DefaultConfig()

	runCmd.Flags().StringVarP(&runPlanPath, "plan", "p", "", "Plan file (YAML)")
	runCmd.Flags().DurationVarP(&runDuration, "duration", "d", cfg.ScanTimeout, "Scan duration (0 until interrupted)")
	runCmd.Flags().DurationVar(&runConnectTimeout, "connect-timeout", cfg.ConnectTimeout, "Timeout for connecting to a peer")
	runCmd.Flags().DurationVar(&runWait, "wait", cfg.ScanTimeout, "How long to wait for connected peers after the scan")
	runCmd.Flags().StringVarP(&runFormat, "format", "f", cfg.OutputFormat, "Report format (text, json)")
	runCmd.Flags().StringSliceVarP(&runServices, "services", "s", nil, "Only connect to peers advertising these service UUIDs")
	runCmd.Flags().StringSliceVar(&runAllowList, "allow", nil, "Only connect to peers with these addresses")
	runCmd.Flags().StringSliceVar(&runBlockList, "block", nil, "Never connect to peers with these addresses")
	runCmd.Flags().BoolVar(&runNoColor, "no-color", false, "Disable colored output")
	runCmd.Flags().Bool("verbose", false, "Enable debug logging")
	_ = runCmd.MarkFlagRequired("plan")
}

func runRun(cmd *cobra.Command, args []string) error {
	if runFormat != "text" && runFormat != "json" {
		return fmt.Errorf("invalid format '%s': must be one of [text json]", runFormat)
	}

	logger, err := configureLogger(cmd, "verbose")
	if err != nil {
		return err
	}

	plan, err := config.LoadPlan(runPlanPath)
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	live := cmd.OutOrStdout()
	if runFormat == "json" {
		live = nil
	}
	rep := newReport(live, plan, !runNoColor && runFormat == "text")

	if err := execute(ctx, logger, plan, rep, &goble.Options{
		Duration:       runDuration,
		ConnectTimeout: runConnectTimeout,
		AllowList:      runAllowList,
		BlockList:      runBlockList,
		ServiceUUIDs:   runServices,
	}, runWait); err != nil {
		return err
	}

	if runFormat == "json" {
		if err := rep.printJSON(cmd.OutOrStdout()); err != nil {
			return err
		}
	} else {
		fmt.Fprintln(cmd.OutOrStdout())
		rep.printText(cmd.OutOrStdout())
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}
	if rep.incomplete() {
		return ErrIncomplete
	}
	return nil
}

// execute scans, runs plan against every connected peer and feeds rep until the
// peers are done, wait expires after the scan, or ctx ends.
func execute(ctx context.Context, logger *logrus.Logger, plan *config.Plan, rep *report, opts *goble.Options, wait time.Duration) error {
	reqs, err := plan.Build(rep.result)
	if err != nil {
		return err
	}

	sc := scanner.New(logger, &plan.Policy)
	defer sc.Close()
	for _, req := range reqs {
		sc.AddRequest(req)
	}

	central, err := goble.NewCentral(logger, sc, opts)
	if err != nil {
		return err
	}
	defer func() { _ = central.Close() }()

	consumed := make(chan struct{})
	go func() {
		defer close(consumed)
		for o := range sc.Outcomes() {
			rep.outcome(o)
			if !doneWith(o) {
				continue
			}
			if err := central.Retire(o.Peer); err != nil {
				logger.WithField("peer", o.Peer).WithError(err).Warn("Disconnect failed")
			}
		}
	}()

	if err := central.Run(ctx); err != nil {
		return err
	}
	awaitPeers(ctx, central, wait)

	// peers still connected are reported as dropped
	if err := central.Close(); err != nil {
		logger.WithError(err).Warn("Failed to disconnect some peers")
	}
	sc.Close()
	<-consumed
	return nil
}

// doneWith reports whether o ends the plan for its peer. A peer lost to a
// link drop is not done: it starts over when it advertises again.
func doneWith(o scanner.Outcome) bool {
	switch o.Kind {
	case scanner.OutcomeFinished:
		return true
	case scanner.OutcomeDropped:
		return !errors.Is(o.Err, scanner.ErrPeerLost)
	}
	return false
}

// awaitPeers returns once no peer is connected, wait has passed or ctx ends.
func awaitPeers(ctx context.Context, central *goble.Central, wait time.Duration) {
	deadline := time.NewTimer(wait)
	defer deadline.Stop()
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for central.Connected() > 0 {
		select {
		case <-ctx.Done():
			return
		case <-deadline.C:
			return
		case <-ticker.C:
		}
	}
}
