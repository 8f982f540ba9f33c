package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/srg/blemesh/pkg/config"
	"github.com/srg/blemesh/request"
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Work with plan files",
}

var planValidateCmd = &cobra.Command{
	Use:   "validate <file>",
	Short: "Check a plan file and print it resolved",
	Long: `Parse a plan file, apply the policy defaults and print the result.

A plan is a YAML document with an optional policy and an ordered list of
requests:

  policy:
    on_missing: skip          # skip or drop
    discovery_timeout: 10s    # must be > 0
    response_timeout: 10s     # must be > 0
    max_dispatch_retries: 3   # at most 32
    retry_backoff: 250ms      # doubled per retry, capped at max_retry_backoff
    max_retry_backoff: 5s
  requests:
    - name: battery
      kind: read              # read, chunked_read, series_read, write, chunked_write
      uuid: 2a19
    - kind: write
      uuid: 6e400002-b5a3-f393-e0a9-e50e24dcca9e
      hex: "01 ff"            # or text: ...
      critical: true          # a failure ends the peer's session`,
	Args: cobra.ExactArgs(1),
	RunE: runPlanValidate,
}

func init() {
	planCmd.AddCommand(planValidateCmd)
}

func runPlanValidate(cmd *cobra.Command, args []string) error {
	plan, err := config.LoadPlan(args[0])
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true
	return printPlan(cmd.OutOrStdout(), plan)
}

func printPlan(out io.Writer, plan *config.Plan) error {
	p := plan.Policy
	fmt.Fprintln(out, "Policy:")
	fmt.Fprintf(out, "  on missing:           %s\n", p.OnMissing)
	fmt.Fprintf(out, "  discovery timeout:    %s\n", p.DiscoveryTimeout)
	fmt.Fprintf(out, "  response timeout:     %s\n", p.ResponseTimeout)
	fmt.Fprintf(out, "  max dispatch retries: %d (backoff %s)\n", p.MaxDispatchRetries, p.RetryBackoff)
	fmt.Fprintf(out, "  resume on append:     %t\n", p.ResumeOnAppend)
	fmt.Fprintln(out)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "#\tNAME\tKIND\tUUID\tDETAILS")
	for i, spec := range plan.Requests {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", i, spec.Label(), spec.Kind, request.NormalizeUUID(spec.UUID), details(spec))
	}
	return w.Flush()
}

func details(spec config.RequestSpec) string {
	var out string
	switch spec.Kind {
	case config.KindChunkedRead, config.KindChunkedWrite:
		size := spec.ChunkSize
		if size == 0 {
			size = request.DefaultChunkSize
		}
		out = fmt.Sprintf("chunk %d", size)
	}
	if spec.Kind == config.KindWrite || spec.Kind == config.KindChunkedWrite {
		payload, _ := spec.Payload()
		if out != "" {
			out += ", "
		}
		out += fmt.Sprintf("%d bytes", len(payload))
	}
	if spec.Critical {
		if out != "" {
			out += ", "
		}
		out += "critical"
	}
	if out == "" {
		return "-"
	}
	return out
}
