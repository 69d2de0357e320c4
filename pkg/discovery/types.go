package discovery

import (
	"errors"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Service constants.
const (
	// ServiceType is the DNS-SD service type of miIO devices.
	ServiceType = "_miio._udp"

	// Domain is the mDNS domain.
	Domain = "local."

	// BrowseTimeout is the default duration of FindAll.
	BrowseTimeout = 5 * time.Second
)

// TXT record keys.
const (
	TXTKeyMAC   = "mac"
	TXTKeyEpoch = "epoch"
)

// Discovery errors.
var (
	ErrNotFound        = errors.New("device not found")
	ErrInvalidInstance = errors.New("not a miio instance name")
)

// Device is a discovered miIO device.
type Device struct {
	InstanceName string
	Host         string
	Port         int
	Addresses    []string
	Model        string
	DeviceID     uint32
	MAC          string
}

// Address returns the first known address, or the host name.
func (d *Device) Address() string {
	if len(d.Addresses) > 0 {
		return d.Addresses[0]
	}
	return strings.TrimSuffix(d.Host, ".")
}

// IsVacuum reports whether the model is a vacuum.
func (d *Device) IsVacuum() bool {
	return strings.Contains(d.Model, ".vacuum.")
}

func (d *Device) clone() *Device {
	c := *d
	c.Addresses = slices.Clone(d.Addresses)
	return &c
}

// Entry is one resolved service record.
type Entry struct {
	Instance string
	HostName string
	Port     int
	Text     []string
	AddrIPv4 []string
	AddrIPv6 []string
}

// TXTRecordMap is a map of TXT record key-value pairs.
type TXTRecordMap map[string]string

// StringsToTXTRecords parses "key=value" TXT strings.
func StringsToTXTRecords(strs []string) TXTRecordMap {
	txt := make(TXTRecordMap)
	for _, s := range strs {
		k, v, _ := strings.Cut(s, "=")
		if k != "" {
			txt[k] = v
		}
	}
	return txt
}

// ParseInstance splits an instance name into model and device ID.
func ParseInstance(name string) (model string, deviceID uint32, err error) {
	i := strings.LastIndex(name, "_miio")
	if i <= 0 {
		return "", 0, ErrInvalidInstance
	}
	id, err := strconv.ParseUint(name[i+len("_miio"):], 10, 32)
	if err != nil {
		return "", 0, ErrInvalidInstance
	}
	return strings.ReplaceAll(name[:i], "-", "."), uint32(id), nil
}

// ToDevice converts an entry. It returns nil for non-miio instances.
func (e Entry) ToDevice() *Device {
	model, id, err := ParseInstance(e.Instance)
	if err != nil {
		return nil
	}
	addrs := make([]string, 0, len(e.AddrIPv4)+len(e.AddrIPv6))
	addrs = append(addrs, e.AddrIPv4...)
	addrs = append(addrs, e.AddrIPv6...)

	return &Device{
		InstanceName: e.Instance,
		Host:         e.HostName,
		Port:         e.Port,
		Addresses:    addrs,
		Model:        model,
		DeviceID:     id,
		MAC:          StringsToTXTRecords(e.Text)[TXTKeyMAC],
	}
}

// mergeAddresses adds new addresses to existing list, avoiding duplicates.
func mergeAddresses(existing, new []string) []string {
	seen := make(map[string]bool, len(existing))
	for _, addr := range existing {
		seen[addr] = true
	}

	for _, addr := range new {
		if !seen[addr] {
			existing = append(existing, addr)
			seen[addr] = true
		}
	}
	return existing
}

// removeAddresses drops the addresses of gone from the list.
func removeAddresses(addresses []string, gone Entry) []string {
	toRemove := make(map[string]bool)
	for _, ip := range gone.AddrIPv4 {
		toRemove[ip] = true
	}
	for _, ip := range gone.AddrIPv6 {
		toRemove[ip] = true
	}

	result := make([]string, 0, len(addresses))
	for _, addr := range addresses {
		if !toRemove[addr] {
			result = append(result, addr)
		}
	}
	return result
}
