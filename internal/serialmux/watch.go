package serialmux

import (
	"context"
	"sync"
	"time"

	"github.com/banshee-data/tankwatch/internal/monitoring"
)

var logf = monitoring.Tagged("serial")

// DeviceState is the feeder's most recent report as seen over the port.
type DeviceState struct {
	mu       sync.RWMutex
	lastLine string
	lastType string
	lastSeen time.Time
	errors   uint64
	done     uint64
}

// DeviceSnapshot is a copy of DeviceState.
type DeviceSnapshot struct {
	LastLine string    `json:"last_line,omitempty"`
	LastType string    `json:"last_type,omitempty"`
	LastSeen time.Time `json:"last_seen,omitempty"`
	Errors   uint64    `json:"errors"`
	Done     uint64    `json:"done"`
}

// Observe records one line from the device.
func (d *DeviceState) Observe(line string, at time.Time) {
	kind := ClassifyLine(line)
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lastLine = line
	d.lastType = kind
	d.lastSeen = at
	switch kind {
	case LineError:
		d.errors++
	case LineDone:
		d.done++
	}
}

// Snapshot returns the current state.
func (d *DeviceState) Snapshot() DeviceSnapshot {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return DeviceSnapshot{
		LastLine: d.lastLine,
		LastType: d.lastType,
		LastSeen: d.lastSeen,
		Errors:   d.errors,
		Done:     d.done,
	}
}

// Watch subscribes to mux and feeds every line into state until ctx is done
// or the mux closes.
func Watch(ctx context.Context, mux SerialMuxInterface, state *DeviceState) {
	id, lines := mux.Subscribe()
	defer mux.Unsubscribe(id)
	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			state.Observe(line, time.Now())
			if ClassifyLine(line) == LineError {
				logf("feeder reported error: %s", line)
			}
		}
	}
}
