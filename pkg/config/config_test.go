package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/blemesh/internal/testutils"
	"github.com/srg/blemesh/request"
	"github.com/srg/blemesh/scanner"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.NotNil(t, cfg)
	assert.Equal(t, logrus.InfoLevel, cfg.LogLevel)
	assert.Equal(t, 30*time.Second, cfg.ScanTimeout)
	assert.Equal(t, 10*time.Second, cfg.ConnectTimeout)
	assert.Equal(t, "text", cfg.OutputFormat)
	assert.Equal(t, 10*time.Second, cfg.Policy.DiscoveryTimeout)
	assert.Equal(t, scanner.ActionSkip, cfg.Policy.OnMissing)
}

func TestConfig_NewLogger(t *testing.T) {
	tests := []struct {
		name     string
		logLevel logrus.Level
	}{
		{
			name:     "creates logger with debug level",
			logLevel: logrus.DebugLevel,
		},
		{
			name:     "creates logger with warn level",
			logLevel: logrus.WarnLevel,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				LogLevel: tt.logLevel,
			}

			logger := cfg.NewLogger()

			assert.NotNil(t, logger)
			assert.Equal(t, tt.logLevel, logger.GetLevel())

			formatter, ok := logger.Formatter.(*logrus.TextFormatter)
			assert.True(t, ok)
			assert.True(t, formatter.FullTimestamp)
			assert.Equal(t, time.RFC3339, formatter.TimestampFormat)
		})
	}
}

const samplePlan = `
policy:
  discovery_timeout: 5s
  on_missing: drop
requests:
  - name: identity
    kind: read
    uuid: 2A19
  - kind: chunked_read
    uuid: 6e400003-b5a3-f393-e0a9-e50e24dcca9e
    chunk_size: 4
  - kind: write
    uuid: 6e400002-b5a3-f393-e0a9-e50e24dcca9e
    hex: "01 02"
    critical: true
  - kind: chunked_write
    uuid: 2a37
    text: hello
  - kind: series_read
    uuid: 2a38
`

func TestParsePlan(t *testing.T) {
	plan, err := ParsePlan([]byte(samplePlan))
	require.NoError(t, err)

	assert.Equal(t, 5*time.Second, plan.Policy.DiscoveryTimeout)
	assert.Equal(t, scanner.ActionDrop, plan.Policy.OnMissing)
	// untouched fields keep their defaults
	assert.Equal(t, 3, plan.Policy.MaxDispatchRetries)
	assert.True(t, plan.Policy.ResumeOnAppend)

	require.Len(t, plan.Requests, 5)
	assert.Equal(t, "identity", plan.Requests[0].Label())
	assert.Equal(t, "chunked_read 6e400003", plan.Requests[1].Label())

	payload, err := plan.Requests[2].Payload()
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2}, payload)
}

func TestParsePlan_Errors(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{name: "no requests", yaml: "requests: []", wantErr: "no requests"},
		{name: "unknown kind", yaml: "requests: [{kind: notify, uuid: 2a19}]", wantErr: `unknown request kind "notify"`},
		{name: "bad uuid", yaml: "requests: [{kind: read, uuid: xyz}]", wantErr: "invalid UUID"},
		{name: "read with payload", yaml: "requests: [{kind: read, uuid: 2a19, text: hi}]", wantErr: "cannot carry a payload"},
		{name: "bad hex", yaml: "requests: [{kind: write, uuid: 2a19, hex: zz}]", wantErr: "invalid hex"},
		{name: "both payloads", yaml: "requests: [{kind: write, uuid: 2a19, hex: '01', text: a}]", wantErr: "mutually exclusive"},
		{name: "bad policy", yaml: "policy: {on_missing: wait}\nrequests: [{kind: read, uuid: 2a19}]", wantErr: "invalid policy"},
		{name: "discovery timer disabled", yaml: "policy: {discovery_timeout: 0s}\nrequests: [{kind: read, uuid: 2a19}]", wantErr: "discovery_timeout must be > 0"},
		{name: "not yaml", yaml: "requests: [", wantErr: "failed to parse plan"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParsePlan([]byte(tt.yaml))
			require.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestLoadPlan(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plan.yaml")
	require.NoError(t, os.WriteFile(path, []byte(samplePlan), 0o600))

	plan, err := LoadPlan(path)
	require.NoError(t, err)
	assert.Len(t, plan.Requests, 5)

	_, err = LoadPlan(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read plan")
}

func TestPlan_Build(t *testing.T) {
	plan, err := ParsePlan([]byte(samplePlan))
	require.NoError(t, err)

	type result struct {
		peer  string
		index int
		value []byte
	}
	var results []result
	reqs, err := plan.Build(func(peerID string, index int, _ RequestSpec, value []byte) {
		results = append(results, result{peerID, index, value})
	})
	require.NoError(t, err)
	require.Len(t, reqs, 5)

	assert.Equal(t, "2a19", reqs[0].UUID())
	assert.Equal(t, request.Read, reqs[0].Kind())
	assert.Equal(t, request.Write, reqs[2].Kind())
	assert.True(t, request.IsSessionCritical(reqs[2]))
	assert.False(t, request.IsSessionCritical(reqs[3]))

	p := testutils.NewFakePeer("P1")
	ex := reqs[0].NewExchange()
	ex.CharacteristicMatched(testutils.Characteristic("2a19"))
	require.True(t, ex.Perform(p))
	require.True(t, ex.HandleResponse(p, request.Response{Value: []byte{80}}))

	require.Len(t, results, 1)
	assert.Equal(t, result{"P1", 0, []byte{80}}, results[0])

	wex := reqs[3].NewExchange()
	wex.CharacteristicMatched(testutils.Characteristic("2a37"))
	require.True(t, wex.Perform(p))
	writes := p.CallsOf(testutils.OpWrite)
	require.Len(t, writes, 1)
	assert.Equal(t, []byte("hello"), writes[0].Data)
}
