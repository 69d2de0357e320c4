package discovery

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/enbility/zeroconf/v3"
)

// BrowserConfig configures browser behavior.
type BrowserConfig struct {
	// BrowseTimeout bounds FindAll when the context has no deadline.
	// Default: 5 seconds.
	BrowseTimeout time.Duration

	// Interface specifies which network interface to use.
	// Empty string means all interfaces.
	Interface string
}

// DefaultBrowserConfig returns the default browser configuration.
func DefaultBrowserConfig() BrowserConfig {
	return BrowserConfig{
		BrowseTimeout: BrowseTimeout,
	}
}

// Browser finds miIO devices using zeroconf.
type Browser struct {
	config BrowserConfig

	mu      sync.Mutex
	nextID  uint64
	cancels map[uint64]context.CancelFunc
}

// NewBrowser creates a browser.
func NewBrowser(config BrowserConfig) *Browser {
	if config.BrowseTimeout <= 0 {
		config.BrowseTimeout = BrowseTimeout
	}
	return &Browser{config: config, cancels: make(map[uint64]context.CancelFunc)}
}

// Browse streams devices as they are found. Addresses seen on several
// interfaces are merged into one Device, which is emitted once. The channel
// closes when ctx is done or Stop is called.
func (b *Browser) Browse(ctx context.Context) (<-chan *Device, error) {
	ctx, cancel := context.WithCancel(ctx)
	id := b.track(cancel)

	entries := make(chan *zeroconf.ServiceEntry)
	removed := make(chan *zeroconf.ServiceEntry)
	added := make(chan Entry)
	gone := make(chan Entry)
	out := make(chan *Device)

	go forward(ctx, entries, added)
	go forward(ctx, removed, gone)
	go func() {
		defer b.untrack(id)
		aggregate(ctx, added, gone, out)
	}()

	go func() {
		_ = zeroconf.Browse(ctx, ServiceType, Domain, entries, removed, b.options()...)
	}()

	return out, nil
}

// FindAll collects the devices found until ctx is done or the browse
// timeout passes.
func (b *Browser) FindAll(ctx context.Context) ([]*Device, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.config.BrowseTimeout)
		defer cancel()
	}

	found, err := b.Browse(ctx)
	if err != nil {
		return nil, err
	}
	var devices []*Device
	for d := range found {
		devices = append(devices, d)
	}
	return devices, nil
}

// Find returns the device with the given ID.
func (b *Browser) Find(ctx context.Context, deviceID uint32) (*Device, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	found, err := b.Browse(ctx)
	if err != nil {
		return nil, err
	}
	for d := range found {
		if d.DeviceID == deviceID {
			return d, nil
		}
	}
	return nil, ErrNotFound
}

// Stop ends all running browse operations.
func (b *Browser) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, cancel := range b.cancels {
		cancel()
		delete(b.cancels, id)
	}
}

// track registers the cancel func of a running browse.
func (b *Browser) track(cancel context.CancelFunc) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	b.cancels[b.nextID] = cancel
	return b.nextID
}

// untrack cancels and forgets a browse once its results are drained.
func (b *Browser) untrack(id uint64) {
	b.mu.Lock()
	cancel, ok := b.cancels[id]
	delete(b.cancels, id)
	b.mu.Unlock()
	if ok {
		cancel()
	}
}

// running returns the number of browse operations not yet finished.
func (b *Browser) running() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.cancels)
}

func (b *Browser) options() []zeroconf.ClientOption {
	var opts []zeroconf.ClientOption
	if b.config.Interface != "" {
		iface, err := net.InterfaceByName(b.config.Interface)
		if err == nil {
			opts = append(opts, zeroconf.SelectIfaces([]net.Interface{*iface}))
		}
	}
	return opts
}

// forward converts zeroconf entries until in closes or ctx is done.
func forward(ctx context.Context, in <-chan *zeroconf.ServiceEntry, out chan<- Entry) {
	defer close(out)
	for {
		select {
		case e, ok := <-in:
			if !ok {
				return
			}
			select {
			case out <- fromZeroconf(e):
			case <-ctx.Done():
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func fromZeroconf(e *zeroconf.ServiceEntry) Entry {
	entry := Entry{
		Instance: e.Instance,
		HostName: e.HostName,
		Port:     e.Port,
		Text:     e.Text,
	}
	for _, ip := range e.AddrIPv4 {
		entry.AddrIPv4 = append(entry.AddrIPv4, ip.String())
	}
	for _, ip := range e.AddrIPv6 {
		entry.AddrIPv6 = append(entry.AddrIPv6, ip.String())
	}
	return entry
}

// aggregate merges entries by instance name and emits each device once.
func aggregate(ctx context.Context, added, removed <-chan Entry, out chan<- *Device) {
	defer close(out)

	devices := make(map[string]*Device)
	for {
		select {
		case entry, ok := <-added:
			if !ok {
				return
			}
			d := entry.ToDevice()
			if d == nil {
				continue
			}
			if existing, found := devices[d.InstanceName]; found {
				existing.Addresses = mergeAddresses(existing.Addresses, d.Addresses)
				continue
			}
			devices[d.InstanceName] = d
			select {
			case out <- d.clone():
			case <-ctx.Done():
				return
			}

		case entry, ok := <-removed:
			if !ok {
				removed = nil
				continue
			}
			if existing, found := devices[entry.Instance]; found {
				existing.Addresses = removeAddresses(existing.Addresses, entry)
				if len(existing.Addresses) == 0 {
					delete(devices, entry.Instance)
				}
			}

		case <-ctx.Done():
			return
		}
	}
}
