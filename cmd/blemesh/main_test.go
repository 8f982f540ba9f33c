package main

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/blemesh/internal/device"
	"github.com/srg/blemesh/internal/testutils"
	"github.com/srg/blemesh/pkg/config"
	"github.com/srg/blemesh/scanner"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatVersion(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "1.2.3", want: "v1.2.3"},
		{in: "v1.2.3", want: "v1.2.3"},
		{in: "dev", want: "dev"},
		{in: "", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, formatVersion(tt.in))
		})
	}
}

func TestFormatUserError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		contains string
	}{
		{
			name:     "bluetooth off",
			err:      fmt.Errorf("failed to create BLE device: %w", device.ErrBluetoothOff),
			contains: "Hint: turn Bluetooth on",
		},
		{
			name:     "peer lost",
			err:      &scanner.SessionError{Kind: scanner.PeerLost, Peer: "aa"},
			contains: "Hint: move the peripheral closer",
		},
		{
			name:     "characteristic missing",
			err:      &device.NotFoundError{Resource: "characteristic", UUIDs: []string{"2a19"}},
			contains: "Hint: check the UUIDs",
		},
		{
			name:     "incomplete",
			err:      ErrIncomplete,
			contains: "see the report above",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := FormatUserError(tt.err)
			assert.Contains(t, msg, tt.err.Error())
			assert.Contains(t, msg, tt.contains)
		})
	}

	assert.Equal(t, "plain", FormatUserError(errors.New("plain")))
}

func TestConfigureLogger(t *testing.T) {
	tests := []struct {
		name     string
		logLevel string
		verbose  bool
		want     logrus.Level
		wantErr  bool
	}{
		{name: "quiet by default", want: logrus.ErrorLevel},
		{name: "verbose", verbose: true, want: logrus.DebugLevel},
		{name: "log level wins over verbose", logLevel: "warn", verbose: true, want: logrus.WarnLevel},
		{name: "info", logLevel: "info", want: logrus.InfoLevel},
		{name: "invalid", logLevel: "loud", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := &cobra.Command{}
			cmd.Flags().String("log-level", tt.logLevel, "")
			cmd.Flags().Bool("verbose", tt.verbose, "")
			stderr := new(bytes.Buffer)
			cmd.SetErr(stderr)

			logger, err := configureLogger(cmd, "verbose")
			if tt.wantErr {
				assert.ErrorContains(t, err, "invalid log level")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, logger.GetLevel())

			logger.Error("boom")
			assert.Contains(t, stderr.String(), "boom", "logs MUST go to the command's stderr")
		})
	}
}

func TestPlanValidate(t *testing.T) {
	s := &CommandTestSuite{}
	s.SetT(t)

	path := s.WritePlan(`
policy:
  on_missing: drop
requests:
  - name: battery
    kind: read
    uuid: 2A19
  - kind: chunked_write
    uuid: 6e400002-b5a3-f393-e0a9-e50e24dcca9e
    hex: "01 02"
    critical: true
`)

	stdout, _, err := s.ExecuteCommand("plan", "validate", path)
	require.NoError(t, err)

	row := func(cols ...string) string {
		return fmt.Sprintf("%-3s%-24s%-15s%-34s%s", cols[0], cols[1], cols[2], cols[3], cols[4])
	}
	testutils.NewTextAsserter(t).Assert(stdout, `
Policy:
  on missing:           drop
  discovery timeout:    10s
  response timeout:     10s
  max dispatch retries: 3 (backoff 250ms)
  resume on append:     true

`+row("#", "NAME", "KIND", "UUID", "DETAILS")+`
`+row("0", "battery", "read", "2a19", "-")+`
`+row("1", "chunked_write 6e400002", "chunked_write", "6e400002b5a3f393e0a9e50e24dcca9e", "chunk 20, 2 bytes, critical"))

	t.Run("invalid plan", func(t *testing.T) {
		_, _, err := s.ExecuteCommand("plan", "validate", s.WritePlan("requests: [{kind: notify, uuid: 2a19}]"))
		assert.ErrorContains(t, err, `unknown request kind "notify"`)
	})
}

func TestReport_Text(t *testing.T) {
	plan := &config.Plan{Requests: []config.RequestSpec{
		{Name: "battery", Kind: config.KindRead, UUID: "2a19"},
		{Kind: config.KindRead, UUID: "2a38"},
	}}
	live := new(bytes.Buffer)
	rep := newReport(live, plan, false)

	rep.outcome(scanner.Outcome{Kind: scanner.OutcomeSkipped, Peer: "p2", Cursor: 1, Err: errors.New("gone")})
	rep.result("p1", 0, plan.Requests[0], []byte{0x01, 0x02})
	rep.outcome(scanner.Outcome{Kind: scanner.OutcomeCompleted, Peer: "p1"})
	rep.outcome(scanner.Outcome{Kind: scanner.OutcomeDropped, Peer: "p2", Err: errors.New("peer_lost: peer p2")})
	rep.outcome(scanner.Outcome{Kind: scanner.OutcomeSkipped, Peer: "p1", Cursor: 1, Err: errors.New("timeout")})
	rep.outcome(scanner.Outcome{Kind: scanner.OutcomeFinished, Peer: "p1"})
	rep.result("p3", 0, plan.Requests[0], nil)

	assert.Equal(t, "p1  battery  0102\np3  battery  (empty)\n", live.String())
	assert.True(t, rep.incomplete())

	out := new(bytes.Buffer)
	rep.printText(out)
	testutils.NewTextAsserter(t).Assert(out.String(), `
p2  dropped  0/2 completed
  skipped #1 read 2a38: gone
  error peer_lost: peer p2
p1  finished  1/2 completed
  skipped #1 read 2a38: timeout
p3  running  0/2 completed
`)
}

func TestReport_Reconnect(t *testing.T) {
	plan := &config.Plan{Requests: []config.RequestSpec{{Kind: config.KindRead, UUID: "2a19"}}}
	rep := newReport(nil, plan, false)

	rep.outcome(scanner.Outcome{Kind: scanner.OutcomeDropped, Peer: "p1", SessionID: "s1",
		Err: &scanner.SessionError{Kind: scanner.PeerLost, Peer: "p1"}})
	rep.outcome(scanner.Outcome{Kind: scanner.OutcomeCompleted, Peer: "p1", SessionID: "s2"})
	rep.outcome(scanner.Outcome{Kind: scanner.OutcomeFinished, Peer: "p1", SessionID: "s2"})

	assert.False(t, rep.incomplete(), "reconnected peer that finished MUST count as finished")

	out := new(bytes.Buffer)
	rep.printText(out)
	testutils.NewTextAsserter(t).Assert(out.String(), `
p1  finished  1/1 completed
  reconnected 1 time(s)
`)
}

func TestDoneWith(t *testing.T) {
	tests := []struct {
		name string
		o    scanner.Outcome
		want bool
	}{
		{name: "finished", o: scanner.Outcome{Kind: scanner.OutcomeFinished}, want: true},
		{name: "dropped by policy", o: scanner.Outcome{Kind: scanner.OutcomeDropped, Err: &scanner.SessionError{Kind: scanner.CapabilityNotFound}}, want: true},
		{name: "lost link", o: scanner.Outcome{Kind: scanner.OutcomeDropped, Err: &scanner.SessionError{Kind: scanner.PeerLost}}},
		{name: "completed request", o: scanner.Outcome{Kind: scanner.OutcomeCompleted}},
		{name: "skipped request", o: scanner.Outcome{Kind: scanner.OutcomeSkipped}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, doneWith(tt.o))
		})
	}
}
