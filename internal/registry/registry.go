// Package registry tracks observed mesh peers: id, last-heard timestamp,
// last SNR/RSSI, and short display name.
package registry

import (
	"sync"
	"time"

	"github.com/z-mesh/zmesh/internal/eventbus"
	"github.com/z-mesh/zmesh/internal/meshport"
)

// Record is one tracked peer.
type Record struct {
	ID          meshport.NodeID
	DisplayName string
	LastHeardAt time.Time
	LastSNR     float64
	LastRSSI    int
}

// Active reports whether the record was heard within window of now.
func (r Record) Active(now time.Time, window time.Duration) bool {
	return now.Sub(r.LastHeardAt) <= window
}

// Registry is the single owner of the observed-peer table. Safe for
// concurrent use, though in this engine's single-task model it is only ever
// touched from the protocol goroutine.
type Registry struct {
	mu              sync.RWMutex
	nodes           map[meshport.NodeID]*Record
	snrChangeThresh float64
	bus             *eventbus.Bus
}

// New creates an empty registry. bus may be nil to disable NodeSeen
// emission (e.g. in unit tests).
func New(snrChangeThresh float64, bus *eventbus.Bus) *Registry {
	return &Registry{
		nodes:           make(map[meshport.NodeID]*Record),
		snrChangeThresh: snrChangeThresh,
		bus:             bus,
	}
}

// Observe updates (or creates) the record for id using the link metadata
// from any inbound frame, regardless of frame kind. It emits NodeSeen when
// id is newly observed or its SNR moved by more than the configured
// threshold.
func (r *Registry) Observe(id meshport.NodeID, link meshport.Link, now time.Time) {
	r.mu.Lock()
	rec, exists := r.nodes[id]
	if !exists {
		rec = &Record{ID: id}
		r.nodes[id] = rec
	}
	snrMoved := exists && abs(rec.LastSNR-link.SNR) > r.snrChangeThresh
	rec.LastHeardAt = now
	rec.LastSNR = link.SNR
	rec.LastRSSI = link.RSSI
	r.mu.Unlock()

	if r.bus != nil && (!exists || snrMoved) {
		r.bus.Publish(eventbus.NodeSeen{
			Time: now, NodeID: string(id), SNR: link.SNR, RSSI: link.RSSI, NewNode: !exists,
		})
	}
}

// ObservePong records a discovery reply, additionally updating the peer's
// display name.
func (r *Registry) ObservePong(id meshport.NodeID, name string, link meshport.Link, now time.Time) {
	r.Observe(id, link, now)
	r.mu.Lock()
	if rec, ok := r.nodes[id]; ok {
		rec.DisplayName = name
	}
	r.mu.Unlock()
}

// Get returns a copy of the record for id, if known.
func (r *Registry) Get(id meshport.NodeID) (Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.nodes[id]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// Snapshot returns a copy of every known record.
func (r *Registry) Snapshot() []Record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Record, 0, len(r.nodes))
	for _, rec := range r.nodes {
		out = append(out, *rec)
	}
	return out
}

// Active returns every record heard within window of now.
func (r *Registry) Active(now time.Time, window time.Duration) []Record {
	all := r.Snapshot()
	out := all[:0]
	for _, rec := range all {
		if rec.Active(now, window) {
			out = append(out, rec)
		}
	}
	return out
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
