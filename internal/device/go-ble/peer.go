package goble

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/cornelk/hashmap"
	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/blemesh/internal/device"
	"github.com/srg/blemesh/internal/groutine"
	"github.com/srg/blemesh/request"
	"github.com/srg/blemesh/scanner"
)

// characteristic is a discovered GATT characteristic handle.
type characteristic struct {
	uuid string
	c    *ble.Characteristic
}

func (c *characteristic) UUID() string { return c.uuid }

// Peer is a connected peripheral. Discovery and GATT operations run in their
// own goroutines and report back through the sink; operations on one
// connection are serialized.
type Peer struct {
	id     string
	client ble.Client
	sink   scanner.EventSink
	logger *logrus.Entry

	ctx    context.Context
	cancel context.CancelCauseFunc
	closed atomic.Bool

	opMu       sync.Mutex // serializes GATT traffic
	services   []*ble.Service
	discovered map[*ble.Service]bool
	chars      *hashmap.Map[string, *characteristic]
}

var _ scanner.Peer = (*Peer)(nil)

func newPeer(ctx context.Context, id string, client ble.Client, sink scanner.EventSink, logger *logrus.Logger) *Peer {
	p := &Peer{
		id:         id,
		client:     client,
		sink:       sink,
		logger:     logger.WithField("peer", id),
		discovered: make(map[*ble.Service]bool),
		chars:      hashmap.New[string, *characteristic](),
	}
	p.ctx, p.cancel = context.WithCancelCause(ctx)
	return p
}

func (p *Peer) ID() string { return p.id }

// Done is closed once the peer is disconnected.
func (p *Peer) Done() <-chan struct{} { return p.ctx.Done() }

// DiscoverCharacteristic looks uuid up on the peer. A match is reported via
// sink.CharacteristicDiscovered; a missing characteristic is only logged.
func (p *Peer) DiscoverCharacteristic(uuid string) error {
	if err := p.alive(); err != nil {
		return err
	}
	want := request.NormalizeUUID(uuid)
	if want == "" {
		return fmt.Errorf("invalid UUID format: %q", uuid)
	}

	groutine.Go(p.ctx, "ble-discover-"+p.id, func(ctx context.Context) {
		ch, err := p.findCharacteristic(want)
		if err != nil {
			p.logger.WithFields(logrus.Fields{
				"uuid":  want,
				"error": err,
			}).Debug("Characteristic discovery failed")
			return
		}
		if ctx.Err() != nil {
			return
		}
		p.sink.CharacteristicDiscovered(p.id, ch)
	})
	return nil
}

func (p *Peer) findCharacteristic(uuid string) (*characteristic, error) {
	p.opMu.Lock()
	defer p.opMu.Unlock()

	if ch, ok := p.chars.Get(uuid); ok {
		return ch, nil
	}

	if p.services == nil {
		svcs, err := p.client.DiscoverServices(nil)
		if err != nil {
			return nil, fmt.Errorf("failed to discover services: %w", device.NormalizeError(err))
		}
		p.services = svcs
		p.logger.WithField("services", len(svcs)).Debug("Services discovered")
	}

	for _, svc := range p.services {
		if p.discovered[svc] {
			continue
		}
		chars, err := p.client.DiscoverCharacteristics(nil, svc)
		if err != nil {
			return nil, fmt.Errorf("failed to discover characteristics of service %s: %w",
				request.NormalizeUUID(svc.UUID.String()), device.NormalizeError(err))
		}
		p.discovered[svc] = true
		for _, c := range chars {
			u := request.NormalizeUUID(c.UUID.String())
			p.chars.Set(u, &characteristic{uuid: u, c: c})
		}
		if ch, ok := p.chars.Get(uuid); ok {
			return ch, nil
		}
	}

	return nil, &device.NotFoundError{Resource: "characteristic", UUIDs: []string{uuid}, Peer: p.id}
}

// Read reads ch starting at offset. The value arrives via sink.ResponseDelivered.
func (p *Peer) Read(ch request.Characteristic, offset int) error {
	c, err := p.handle(ch)
	if err != nil {
		return err
	}

	groutine.Go(p.ctx, "ble-read-"+p.id, func(ctx context.Context) {
		p.opMu.Lock()
		data, err := p.read(c, offset)
		p.opMu.Unlock()

		p.deliver(ctx, request.Response{UUID: c.uuid, Value: data, Offset: offset, Err: err})
	})
	return nil
}

// read uses a plain read at offset 0. go-ble has no Read Blob request, so
// later offsets read the long value and slice it.
func (p *Peer) read(c *characteristic, offset int) ([]byte, error) {
	if offset == 0 {
		data, err := p.client.ReadCharacteristic(c.c)
		return data, device.NormalizeError(err)
	}

	data, err := p.client.ReadLongCharacteristic(c.c)
	if err != nil {
		return nil, device.NormalizeError(err)
	}
	if offset >= len(data) {
		return []byte{}, nil
	}
	return data[offset:], nil
}

// Write writes data to ch with response. go-ble has no Prepare Write, so the
// offset is carried through to the response only.
func (p *Peer) Write(ch request.Characteristic, data []byte, offset int) error {
	c, err := p.handle(ch)
	if err != nil {
		return err
	}
	payload := append([]byte(nil), data...)

	groutine.Go(p.ctx, "ble-write-"+p.id, func(ctx context.Context) {
		p.opMu.Lock()
		err := p.client.WriteCharacteristic(c.c, payload, false)
		p.opMu.Unlock()

		p.deliver(ctx, request.Response{UUID: c.uuid, Offset: offset, Err: device.NormalizeError(err)})
	})
	return nil
}

func (p *Peer) deliver(ctx context.Context, resp request.Response) {
	if ctx.Err() != nil {
		p.logger.WithField("uuid", resp.UUID).Debug("Response after disconnect dropped")
		return
	}
	if resp.Err != nil {
		p.logger.WithFields(logrus.Fields{
			"uuid":  resp.UUID,
			"error": resp.Err,
		}).Warn("GATT operation failed")
	}
	p.sink.ResponseDelivered(p.id, resp)
}

func (p *Peer) handle(ch request.Characteristic) (*characteristic, error) {
	if err := p.alive(); err != nil {
		return nil, err
	}
	c, ok := ch.(*characteristic)
	if !ok || c.c == nil {
		return nil, fmt.Errorf("%w: characteristic %T was not discovered on %s", device.ErrUnsupported, ch, p.id)
	}
	return c, nil
}

func (p *Peer) alive() error {
	if p.ctx.Err() != nil {
		return fmt.Errorf("%w: %s", device.ErrNotConnected, p.id)
	}
	return nil
}

// disconnect cancels in-flight operations and drops the link. It is safe to
// call more than once.
func (p *Peer) disconnect(cause error) error {
	if p.closed.Swap(true) {
		return nil
	}
	p.cancel(cause)
	return device.NormalizeError(p.client.CancelConnection())
}
