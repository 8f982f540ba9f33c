package goble

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/go-ble/ble"
	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/srg/blemesh/internal/device"
	"github.com/srg/blemesh/internal/groutine"
	"github.com/srg/blemesh/scanner"
)

// Options configures scanning and connecting.
type Options struct {
	Duration       time.Duration `default:"30s"`
	ConnectTimeout time.Duration `default:"10s"`
	AllowList      []string
	BlockList      []string
	ServiceUUIDs   []string
}

// DefaultOptions returns default scanning options
func DefaultOptions() *Options {
	opts := &Options{}
	defaults.SetDefaults(opts)
	return opts
}

// Central scans for peripherals, connects to the ones that pass the filters
// and hands them to the sink.
type Central struct {
	logger   *logrus.Logger
	sink     scanner.EventSink
	opts     Options
	services []ble.UUID
	dev      ble.Device

	peers *hashmap.Map[string, *Peer]

	// dialMu guards dialing and retired
	dialMu  sync.Mutex
	dialing map[string]struct{}
	retired map[string]struct{}

	wg     sync.WaitGroup
	ctx    context.Context
	closed atomic.Bool
}

// NewCentral creates a Central on the host BLE device. A nil opts selects the
// defaults.
func NewCentral(logger *logrus.Logger, sink scanner.EventSink, opts *Options) (*Central, error) {
	if logger == nil {
		logger = logrus.New()
	}
	if opts == nil {
		opts = DefaultOptions()
	}

	services := make([]ble.UUID, 0, len(opts.ServiceUUIDs))
	for _, s := range opts.ServiceUUIDs {
		u, err := ble.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("invalid service UUID %q: %w", s, err)
		}
		services = append(services, u)
	}

	dev, err := DeviceFactory()
	if err != nil {
		return nil, fmt.Errorf("failed to create BLE device: %w", device.NormalizeError(err))
	}

	return &Central{
		logger:   logger,
		sink:     sink,
		opts:     *opts,
		services: services,
		dev:      dev,
		peers:    hashmap.New[string, *Peer](),
		dialing:  make(map[string]struct{}),
		retired:  make(map[string]struct{}),
		ctx:      context.Background(),
	}, nil
}

// Run scans for opts.Duration (or until ctx is done when zero). Connections
// made during the scan outlive it; they end with ctx, Disconnect or Close.
func (c *Central) Run(ctx context.Context) error {
	if c.closed.Load() {
		return errors.New("central is closed")
	}
	c.ctx = ctx

	scanCtx := ctx
	if c.opts.Duration > 0 {
		var cancel context.CancelFunc
		scanCtx, cancel = context.WithTimeout(ctx, c.opts.Duration)
		defer cancel()
	}

	c.logger.WithField("duration", c.opts.Duration).Info("Starting BLE scan...")

	// duplicates are needed to reconnect peers that dropped and advertise again
	err := c.dev.Scan(scanCtx, true, c.handleAdvertisement)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("scan failed: %w", device.NormalizeError(err))
	}

	c.logger.WithField("peers", c.peers.Len()).Info("BLE scan completed")
	return nil
}

func (c *Central) handleAdvertisement(adv ble.Advertisement) {
	if c.closed.Load() || !adv.Connectable() {
		return
	}
	id := adv.Addr().String()
	if _, ok := c.peers.Get(id); ok {
		return
	}
	if !c.shouldInclude(adv) {
		return
	}
	if !c.claimDial(id) {
		return
	}

	c.logger.WithFields(logrus.Fields{
		"address": id,
		"name":    adv.LocalName(),
		"rssi":    adv.RSSI(),
	}).Info("Discovered new device")

	c.wg.Add(1)
	groutine.Go(c.ctx, "ble-dial-"+id, func(ctx context.Context) {
		defer c.wg.Done()
		defer c.releaseDial(id)
		c.connect(ctx, id, adv.Addr())
	})
}

// claimDial reserves id for a dial unless one is running or id is retired.
func (c *Central) claimDial(id string) bool {
	c.dialMu.Lock()
	defer c.dialMu.Unlock()
	if _, ok := c.retired[id]; ok {
		return false
	}
	if _, ok := c.dialing[id]; ok {
		return false
	}
	c.dialing[id] = struct{}{}
	return true
}

func (c *Central) releaseDial(id string) {
	c.dialMu.Lock()
	defer c.dialMu.Unlock()
	delete(c.dialing, id)
}

// shouldInclude applies the allow/block/service filters
func (c *Central) shouldInclude(adv ble.Advertisement) bool {
	addr := adv.Addr().String()

	for _, blocked := range c.opts.BlockList {
		if strings.EqualFold(addr, blocked) {
			return false
		}
	}

	if len(c.opts.AllowList) > 0 {
		allowed := false
		for _, a := range c.opts.AllowList {
			if strings.EqualFold(addr, a) {
				allowed = true
				break
			}
		}
		if !allowed {
			return false
		}
	}

	if len(c.services) > 0 {
		for _, required := range c.services {
			for _, advUUID := range adv.Services() {
				if required.Equal(advUUID) {
					return true
				}
			}
		}
		return false
	}

	return true
}

func (c *Central) connect(ctx context.Context, id string, addr ble.Addr) {
	dialCtx := ctx
	if c.opts.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, c.opts.ConnectTimeout)
		defer cancel()
	}

	c.logger.WithField("address", id).Debug("Dialing BLE device...")
	client, err := c.dev.Dial(dialCtx, addr)
	if err != nil {
		c.logger.WithFields(logrus.Fields{
			"address": id,
			"error":   device.NormalizeError(err),
		}).Warn("Failed to dial BLE device")
		return
	}

	if c.closed.Load() || ctx.Err() != nil {
		_ = client.CancelConnection()
		return
	}

	p := newPeer(ctx, id, client, c.sink, c.logger)
	c.peers.Set(id, p)
	if c.closed.Load() {
		_ = c.Disconnect(id)
		return
	}
	c.monitor(p)

	c.logger.WithField("address", id).Info("BLE device connected")
	c.sink.PeerDiscovered(p)
}

// monitor watches the client's Disconnected channel when the platform has one.
func (c *Central) monitor(p *Peer) {
	dc, ok := p.client.(interface{ Disconnected() <-chan struct{} })
	if !ok {
		c.logger.Debug("Client does not support Disconnected() channel")
		return
	}

	groutine.Go(context.Background(), "ble-connection-monitor-"+p.id, func(context.Context) {
		select {
		case <-dc.Disconnected():
			p.logger.Warn("Peer reported disconnection")
			p.closed.Store(true)
			p.cancel(device.ErrNotConnected)
			c.remove(p)
		case <-p.Done():
		}
	})
}

func (c *Central) remove(p *Peer) {
	cur, ok := c.peers.Get(p.id)
	if !ok || cur != p {
		return
	}
	if !c.peers.Del(p.id) {
		return
	}
	c.sink.PeerDisconnected(p.id)
}

// Peer returns the live connection to id.
func (c *Central) Peer(id string) (*Peer, bool) {
	return c.peers.Get(id)
}

// Connected returns the number of live connections.
func (c *Central) Connected() int {
	return c.peers.Len()
}

// Disconnect drops the connection to id and reports it to the sink.
func (c *Central) Disconnect(id string) error {
	p, ok := c.peers.Get(id)
	if !ok {
		return nil
	}
	err := p.disconnect(nil)
	c.remove(p)
	if err != nil {
		return fmt.Errorf("failed to disconnect %s: %w", id, err)
	}
	return nil
}

// Retire disconnects id and ignores its advertisements for the rest of the
// scan. Hosts retire peers they are done with; peers lost to a link drop are
// dialed again when they advertise.
func (c *Central) Retire(id string) error {
	c.dialMu.Lock()
	c.retired[id] = struct{}{}
	c.dialMu.Unlock()

	c.logger.WithField("address", id).Debug("Peer retired")
	return c.Disconnect(id)
}

// Close disconnects every peer and waits for pending dials. It is safe to
// call more than once.
func (c *Central) Close() error {
	if c.closed.Swap(true) {
		return nil
	}

	var ids []string
	c.peers.Range(func(id string, _ *Peer) bool {
		ids = append(ids, id)
		return true
	})

	var errs []error
	for _, id := range ids {
		if err := c.Disconnect(id); err != nil {
			errs = append(errs, err)
		}
	}
	c.wg.Wait()

	c.logger.WithField("peers", len(ids)).Debug("Central closed")
	return errors.Join(errs...)
}
