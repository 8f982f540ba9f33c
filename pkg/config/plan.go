package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/srg/blemesh/request"
	"github.com/srg/blemesh/scanner"
	"gopkg.in/yaml.v3"
)

// Request kinds accepted in plan files
const (
	KindRead         = "read"
	KindWrite        = "write"
	KindChunkedRead  = "chunked_read"
	KindChunkedWrite = "chunked_write"
	KindSeriesRead   = "series_read"
)

// RequestSpec is one request entry of a plan file.
type RequestSpec struct {
	Name      string `yaml:"name,omitempty"`
	Kind      string `yaml:"kind"`
	UUID      string `yaml:"uuid"`
	ChunkSize int    `yaml:"chunk_size,omitempty"`
	Hex       string `yaml:"hex,omitempty"`
	Text      string `yaml:"text,omitempty"`
	Critical  bool   `yaml:"critical,omitempty"`
}

// Label returns the name of the entry, or its kind and UUID.
func (r RequestSpec) Label() string {
	if r.Name != "" {
		return r.Name
	}
	return fmt.Sprintf("%s %s", r.Kind, request.ShortenUUID(request.NormalizeUUID(r.UUID)))
}

// Payload returns the bytes a write entry sends.
func (r RequestSpec) Payload() ([]byte, error) {
	if r.Hex != "" && r.Text != "" {
		return nil, fmt.Errorf("hex and text are mutually exclusive")
	}
	if r.Hex != "" {
		data, err := hex.DecodeString(strings.ReplaceAll(r.Hex, " ", ""))
		if err != nil {
			return nil, fmt.Errorf("invalid hex payload: %w", err)
		}
		return data, nil
	}
	return []byte(r.Text), nil
}

func (r RequestSpec) validate() error {
	if _, err := request.ParseUUID(r.UUID); err != nil {
		return err
	}
	if r.ChunkSize < 0 {
		return fmt.Errorf("chunk_size cannot be negative: %d", r.ChunkSize)
	}

	switch r.Kind {
	case KindRead, KindChunkedRead, KindSeriesRead:
		if r.Hex != "" || r.Text != "" {
			return fmt.Errorf("%s request cannot carry a payload", r.Kind)
		}
	case KindWrite, KindChunkedWrite:
		if _, err := r.Payload(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown request kind %q", r.Kind)
	}
	return nil
}

// Plan is the set of requests executed against every discovered peer, in order.
type Plan struct {
	Policy   scanner.Policy `yaml:"policy"`
	Requests []RequestSpec  `yaml:"requests"`
}

// ParsePlan decodes a YAML plan. Policy fields missing from the document keep
// their defaults.
func ParsePlan(data []byte) (*Plan, error) {
	plan := &Plan{Policy: *scanner.DefaultPolicy()}
	if err := yaml.Unmarshal(data, plan); err != nil {
		return nil, fmt.Errorf("failed to parse plan: %w", err)
	}
	if err := plan.Validate(); err != nil {
		return nil, err
	}
	return plan, nil
}

// LoadPlan reads and parses a YAML plan file.
func LoadPlan(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plan %s: %w", path, err)
	}
	plan, err := ParsePlan(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return plan, nil
}

// Validate checks the policy and every request entry.
func (p *Plan) Validate() error {
	if len(p.Requests) == 0 {
		return errors.New("plan has no requests")
	}
	if err := p.Policy.Validate(); err != nil {
		return fmt.Errorf("invalid policy: %w", err)
	}
	for i, r := range p.Requests {
		if err := r.validate(); err != nil {
			return fmt.Errorf("request %d: %w", i, err)
		}
	}
	return nil
}

// ResultFunc receives data read by a plan entry from a peer.
type ResultFunc func(peerID string, index int, spec RequestSpec, value []byte)

// Build turns the plan entries into requests, in order. Read results are passed
// to onResult, which may be nil.
func (p *Plan) Build(onResult ResultFunc) ([]request.Request, error) {
	reqs := make([]request.Request, 0, len(p.Requests))
	for i, spec := range p.Requests {
		if err := spec.validate(); err != nil {
			return nil, fmt.Errorf("request %d: %w", i, err)
		}

		report := func(peerID string, value []byte) {
			if onResult != nil {
				onResult(peerID, i, spec, value)
			}
		}

		var req request.Request
		switch spec.Kind {
		case KindRead:
			req = request.NewRead(spec.UUID, report)
		case KindChunkedRead:
			req = request.NewChunkedRead(spec.UUID, spec.ChunkSize, report)
		case KindSeriesRead:
			req = request.NewSeriesRead(spec.UUID, report)
		case KindWrite:
			payload, _ := spec.Payload()
			req = request.NewWrite(spec.UUID, request.StaticPayload(payload))
		case KindChunkedWrite:
			payload, _ := spec.Payload()
			req = request.NewChunkedWrite(spec.UUID, spec.ChunkSize, request.StaticPayload(payload))
		}

		if spec.Critical {
			req = request.Critical(req)
		}
		reqs = append(reqs, req)
	}
	return reqs, nil
}
