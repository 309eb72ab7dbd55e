package server

import (
	"sync"
	"time"

	"github.com/CK6170/wifiserial-web/internal/device"
)

// PortCache stores the host's serial port list for a short time.
//
// USB enumeration takes a noticeable moment on some hosts and the about page
// is refreshed often, so /about serves the cached list until it goes stale
// or a restart invalidates it.
type PortCache struct {
	mu    sync.Mutex
	ttl   time.Duration
	list  func() []device.PortInfo
	at    time.Time
	ports []device.PortInfo
}

func NewPortCache(ttl time.Duration, list func() []device.PortInfo) *PortCache {
	if list == nil {
		list = device.ListPorts
	}
	return &PortCache{ttl: ttl, list: list}
}

// Get returns the cached list, enumerating again when it is older than ttl.
func (pc *PortCache) Get() []device.PortInfo {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	if pc.ports != nil && time.Since(pc.at) < pc.ttl {
		return pc.ports
	}
	ports := pc.list()
	if ports == nil {
		ports = []device.PortInfo{}
	}
	pc.ports, pc.at = ports, time.Now()
	return ports
}

// Invalidate forces the next Get to enumerate.
func (pc *PortCache) Invalidate() {
	pc.mu.Lock()
	pc.ports = nil
	pc.mu.Unlock()
}
