package main

import (
	"bytes"
	"os"
	"path/filepath"
	"time"

	"github.com/go-ble/ble"
	goble "github.com/srg/blemesh/internal/device/go-ble"
	"github.com/srg/blemesh/internal/testutils"
	"github.com/stretchr/testify/suite"
)

// Test device addresses for consistent fake peer identification
const (
	TestDeviceAddress1 = "aa:00:00:00:00:01"
	TestDeviceAddress2 = "aa:00:00:00:00:02"
)

// CommandTestSuite swaps the BLE device for a fake one and resets the command
// flags around every test.
type CommandTestSuite struct {
	suite.Suite
	originalDeviceFactory func() (ble.Device, error)
	Device                *testutils.FakeDevice
}

func (s *CommandTestSuite) SetupSuite() {
	s.originalDeviceFactory = goble.DeviceFactory
}

func (s *CommandTestSuite) TearDownSuite() {
	goble.DeviceFactory = s.originalDeviceFactory
	resetRunFlags()
}

func (s *CommandTestSuite) SetupTest() {
	resetRunFlags()
	s.Device = &testutils.FakeDevice{Clients: map[string]*testutils.FakeClient{}}
	goble.DeviceFactory = func() (ble.Device, error) { return s.Device, nil }
}

// AddPeer makes a connectable peer serving values visible to the next scan.
func (s *CommandTestSuite) AddPeer(address string, values map[string][]byte) *testutils.FakeClient {
	client := testutils.NewFakeClient(values)
	s.Device.Clients[address] = client
	s.Device.Advertisements = append(s.Device.Advertisements, testutils.NewFakeAdvertisement(address, "", true))
	return client
}

// WritePlan stores a plan document in a temporary file and returns its path.
func (s *CommandTestSuite) WritePlan(doc string) string {
	path := filepath.Join(s.T().TempDir(), "plan.yaml")
	s.Require().NoError(os.WriteFile(path, []byte(doc), 0o600), "plan file MUST be written")
	return path
}

// ExecuteCommand runs the root command with args and returns stdout, stderr
// and the error.
func (s *CommandTestSuite) ExecuteCommand(args ...string) (string, string, error) {
	stdout, stderr := new(bytes.Buffer), new(bytes.Buffer)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)
	rootCmd.SetArgs(args)
	defer rootCmd.SetArgs(nil)
	err := rootCmd.Execute()
	return stdout.String(), stderr.String(), err
}

func resetRunFlags() {
	runPlanPath = ""
	runDuration = 50 * time.Millisecond
	runConnectTimeout = time.Second
	runWait = 2 * time.Second
	runFormat = "text"
	runServices = nil
	runAllowList = nil
	runBlockList = nil
	runNoColor = true

	// parsed flag state outlives Execute
	_ = runCmd.Flags().Set("verbose", "false")
	_ = rootCmd.PersistentFlags().Set("log-level", "")
	runCmd.Flags().Lookup("plan").Changed = false
}
