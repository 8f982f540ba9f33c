package testutils

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-ble/ble"
	"github.com/srg/blemesh/request"
)

// FakeAdvertisement is an advertisement with a fixed address, name and
// service list. Fields it does not set panic when read.
type FakeAdvertisement struct {
	ble.Advertisement
	address     string
	name        string
	services    []ble.UUID
	connectable bool
}

// NewFakeAdvertisement creates an advertisement from addr. Services are
// parsed with ble.MustParse.
func NewFakeAdvertisement(addr, name string, connectable bool, services ...string) *FakeAdvertisement {
	adv := &FakeAdvertisement{address: addr, name: name, connectable: connectable}
	for _, s := range services {
		adv.services = append(adv.services, ble.MustParse(s))
	}
	return adv
}

func (a *FakeAdvertisement) Addr() ble.Addr       { return ble.NewAddr(a.address) }
func (a *FakeAdvertisement) LocalName() string    { return a.name }
func (a *FakeAdvertisement) RSSI() int            { return -50 }
func (a *FakeAdvertisement) Services() []ble.UUID { return a.services }
func (a *FakeAdvertisement) Connectable() bool    { return a.connectable }

// FakeClient is a GATT client exposing one service whose characteristics hold
// static values. Plain reads return at most MTU bytes; long reads return the
// whole value.
type FakeClient struct {
	ble.Client
	MTU int

	services []*ble.Service

	mu        sync.Mutex
	disc      chan struct{}
	linkDown  bool
	values    map[string][]byte
	writes    map[string][][]byte
	readErr   error
	cancelled atomic.Int32
}

// NewFakeClient creates a client serving values keyed by characteristic UUID.
func NewFakeClient(values map[string][]byte) *FakeClient {
	svc := &ble.Service{UUID: ble.MustParse("180f")}
	normalized := make(map[string][]byte, len(values))
	for u, v := range values {
		svc.Characteristics = append(svc.Characteristics, &ble.Characteristic{UUID: ble.MustParse(u)})
		normalized[request.NormalizeUUID(u)] = v
	}
	return &FakeClient{
		MTU:      20,
		services: []*ble.Service{svc},
		disc:     make(chan struct{}),
		values:   normalized,
		writes:   make(map[string][][]byte),
	}
}

func (c *FakeClient) DiscoverServices([]ble.UUID) ([]*ble.Service, error) {
	return c.services, nil
}

func (c *FakeClient) DiscoverCharacteristics(_ []ble.UUID, s *ble.Service) ([]*ble.Characteristic, error) {
	return s.Characteristics, nil
}

func (c *FakeClient) ReadCharacteristic(ch *ble.Characteristic) ([]byte, error) {
	v, err := c.ReadLongCharacteristic(ch)
	if c.MTU > 0 && len(v) > c.MTU {
		v = v[:c.MTU]
	}
	return v, err
}

func (c *FakeClient) ReadLongCharacteristic(ch *ble.Characteristic) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.readErr != nil {
		return nil, c.readErr
	}
	return append([]byte(nil), c.values[request.NormalizeUUID(ch.UUID.String())]...), nil
}

func (c *FakeClient) WriteCharacteristic(ch *ble.Characteristic, value []byte, _ bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	u := request.NormalizeUUID(ch.UUID.String())
	c.writes[u] = append(c.writes[u], append([]byte(nil), value...))
	return nil
}

func (c *FakeClient) CancelConnection() error {
	c.cancelled.Add(1)
	return nil
}

func (c *FakeClient) Disconnected() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disc
}

// relink restores a dropped link, as a new connection to the peripheral would.
func (c *FakeClient) relink() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.linkDown {
		c.disc = make(chan struct{})
		c.linkDown = false
	}
}

// SetReadError makes every read fail with err; nil restores reads.
func (c *FakeClient) SetReadError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.readErr = err
}

// Writes returns the values written to uuid, in order.
func (c *FakeClient) Writes(uuid string) [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writes[request.NormalizeUUID(uuid)]
}

// Cancelled returns how many times CancelConnection was called.
func (c *FakeClient) Cancelled() int { return int(c.cancelled.Load()) }

// DropLink simulates the peripheral going away.
// Dialing the client again restores the link.
func (c *FakeClient) DropLink() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.linkDown {
		close(c.disc)
		c.linkDown = true
	}
}

// FakeDevice replays advertisements, then blocks until the scan context ends.
// With Repeat set, the advertisements are replayed every Repeat instead of
// once, the way a peripheral keeps advertising. Dial hands out the client
// registered for the address.
type FakeDevice struct {
	ble.Device
	Advertisements []ble.Advertisement
	Clients        map[string]*FakeClient
	Repeat         time.Duration

	mu    sync.Mutex
	dials map[string]int
}

func (d *FakeDevice) Scan(ctx context.Context, _ bool, h ble.AdvHandler) error {
	for {
		for _, a := range d.Advertisements {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			h(a)
		}
		if d.Repeat <= 0 {
			<-ctx.Done()
			return ctx.Err()
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(d.Repeat):
		}
	}
}

func (d *FakeDevice) Dial(_ context.Context, a ble.Addr) (ble.Client, error) {
	d.mu.Lock()
	if d.dials == nil {
		d.dials = make(map[string]int)
	}
	d.dials[a.String()]++
	d.mu.Unlock()

	c, ok := d.Clients[a.String()]
	if !ok {
		return nil, errors.New("device not found")
	}
	c.relink()
	return c, nil
}

// Dials returns how many times Dial was called.
func (d *FakeDevice) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, v := range d.dials {
		n += v
	}
	return n
}

// DialsTo returns how many times addr was dialed.
func (d *FakeDevice) DialsTo(addr string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials[addr]
}
