package main

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/srg/blemesh/internal/testutils"
	"github.com/stretchr/testify/suite"
)

// RunTestSuite drives 'blemesh run' against fake peers
type RunTestSuite struct {
	CommandTestSuite
}

func (suite *RunTestSuite) TestRun_TextReport() {
	// GOAL: Verify results are echoed as they arrive and the report lists every request outcome
	//
	// TEST SCENARIO: One peer lacking a characteristic → read echoed, missing read skipped after
	// the discovery timeout, write delivered → peer reported finished

	client := suite.AddPeer(TestDeviceAddress1, map[string][]byte{
		"2a19": {0x55},
		"2a37": nil,
	})
	plan := suite.WritePlan(`
policy:
  discovery_timeout: 100ms
requests:
  - name: battery
    kind: read
    uuid: 2a19
  - kind: read
    uuid: 2a38
  - kind: write
    uuid: 2a37
    text: hi
`)

	stdout, _, err := suite.ExecuteCommand("run", "--plan", plan)
	suite.Require().NoError(err, "run MUST succeed when every peer finishes")

	testutils.NewTextAsserter(suite.T()).Assert(stdout, `
aa:00:00:00:00:01  battery  55  "U"

aa:00:00:00:00:01  finished  2/3 completed
  skipped #1 read 2a38: capability_not_found: peer aa:00:00:00:00:01, request 1 (2a38): timeout: characteristic not discovered within 100ms
`)
	suite.Assert().Equal([][]byte{[]byte("hi")}, client.Writes("2a37"), "write MUST reach the peer")
	suite.Assert().Equal(1, client.Cancelled(), "finished peer MUST be disconnected once")
}

func (suite *RunTestSuite) TestRun_JSONReportWithDroppedPeer() {
	// GOAL: Verify a peer that cannot serve the plan is dropped without affecting the others
	//
	// TEST SCENARIO: Two peers, one missing the write target, policy drops on missing
	// characteristics → first peer finishes, second is dropped → command reports incomplete

	suite.AddPeer(TestDeviceAddress1, map[string][]byte{"2a19": {0x55}, "2a37": nil})
	suite.AddPeer(TestDeviceAddress2, map[string][]byte{"2a19": {0x10}})
	plan := suite.WritePlan(`
policy:
  discovery_timeout: 100ms
  on_missing: drop
requests:
  - kind: read
    uuid: 2a19
  - kind: write
    uuid: 2a37
    hex: "01"
`)

	stdout, _, err := suite.ExecuteCommand("run", "--plan", plan, "--format", "json")
	suite.Require().ErrorIs(err, ErrIncomplete)

	var peers []peerReport
	suite.Require().NoError(json.Unmarshal([]byte(stdout), &peers), "stdout MUST be the JSON report only")
	suite.Require().Len(peers, 2)
	for _, p := range peers {
		if p.Peer == TestDeviceAddress2 {
			suite.Assert().Contains(p.Error, "capability_not_found")
		}
	}

	// peers connect concurrently, so the report order is not fixed
	testutils.NewJSONAsserter(suite.T(), testutils.WithSortKey("peer")).Assert(stdout, `[
  {
    "peer": "aa:00:00:00:00:01",
    "state": "finished",
    "completed": 2,
    "results": [{"index": 0, "request": "read 2a19", "hex": "55", "text": "U"}]
  },
  {
    "peer": "aa:00:00:00:00:02",
    "state": "dropped",
    "completed": 1,
    "error": "<<PRESENCE>>",
    "results": [{"index": 0, "request": "read 2a19", "hex": "10"}]
  }
]`)
}

func (suite *RunTestSuite) TestRun_FinishedPeerIsNotRerun() {
	// GOAL: Verify a peer that finished the plan is left alone while it keeps advertising
	//
	// TEST SCENARIO: Peer advertises every 10ms during a 300ms scan → plan runs once, the peer
	// is disconnected once and never dialed again

	client := suite.AddPeer(TestDeviceAddress1, map[string][]byte{"2a37": nil})
	suite.Device.Repeat = 10 * time.Millisecond
	plan := suite.WritePlan("requests: [{kind: write, uuid: 2a37, text: hi}]")

	stdout, _, err := suite.ExecuteCommand("run", "--plan", plan, "--duration", "300ms")
	suite.Require().NoError(err)

	suite.Assert().Equal([][]byte{[]byte("hi")}, client.Writes("2a37"), "plan MUST run once per peer")
	suite.Assert().Equal(1, suite.Device.DialsTo(TestDeviceAddress1), "finished peer MUST NOT be dialed again")
	suite.Assert().Equal(1, client.Cancelled())
	suite.Assert().Contains(stdout, TestDeviceAddress1+"  finished  1/1 completed")
	suite.Assert().NotContains(stdout, "reconnected")
}

func (suite *RunTestSuite) TestRun_Filters() {
	suite.AddPeer(TestDeviceAddress1, map[string][]byte{"2a19": {1}})
	suite.AddPeer(TestDeviceAddress2, map[string][]byte{"2a19": {2}})
	plan := suite.WritePlan("requests: [{kind: read, uuid: 2a19}]")

	stdout, _, err := suite.ExecuteCommand("run", "--plan", plan, "--block", TestDeviceAddress1)
	suite.Require().NoError(err)

	suite.Assert().Equal(1, suite.Device.Dials(), "blocked peer MUST NOT be dialed")
	suite.Assert().Contains(stdout, TestDeviceAddress2+"  finished  1/1 completed")
	suite.Assert().NotContains(stdout, TestDeviceAddress1)
}

func (suite *RunTestSuite) TestRun_NoPeers() {
	plan := suite.WritePlan("requests: [{kind: read, uuid: 2a19}]")

	stdout, _, err := suite.ExecuteCommand("run", "--plan", plan)
	suite.Require().NoError(err)
	suite.Assert().Contains(stdout, "No peers connected")
}

func (suite *RunTestSuite) TestRun_InvalidArguments() {
	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{
			name:    "plan is required",
			args:    []string{"run"},
			wantErr: `required flag(s) "plan" not set`,
		},
		{
			name:    "unknown format",
			args:    []string{"run", "--plan", "x.yaml", "--format", "xml"},
			wantErr: "invalid format 'xml'",
		},
		{
			name:    "unknown log level",
			args:    []string{"run", "--plan", "x.yaml", "--log-level", "trace"},
			wantErr: "invalid log level: trace",
		},
		{
			name:    "missing plan file",
			args:    []string{"run", "--plan", "does-not-exist.yaml"},
			wantErr: "failed to read plan",
		},
	}

	for _, tt := range tests {
		suite.Run(tt.name, func() {
			resetRunFlags()
			_, _, err := suite.ExecuteCommand(tt.args...)
			suite.Require().Error(err)
			suite.Assert().Contains(err.Error(), tt.wantErr)
		})
	}
}

func TestRunCommandSuite(t *testing.T) {
	suite.Run(t, new(RunTestSuite))
}
