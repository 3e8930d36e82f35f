package tracking

import (
	"sort"
	"sync"

	"github.com/banshee-data/tankwatch/internal/measure"
	"github.com/banshee-data/tankwatch/internal/monitoring"
)

// GreedyTracker associates detections to tracks globally closest pair first.
type GreedyTracker struct {
	Config Config

	mu        sync.Mutex
	tracks    map[uint64]*Track
	nextID    uint64
	lastFrame uint64
	started   bool
	retired   uint64
}

var _ Tracker = (*GreedyTracker)(nil)

// NewGreedyTracker creates a tracker whose first track ID is 1.
func NewGreedyTracker(cfg Config) *GreedyTracker {
	return &GreedyTracker{
		Config: cfg,
		tracks: make(map[uint64]*Track),
		nextID: 1,
	}
}

// Mode reports KindGreedy.
func (t *GreedyTracker) Mode() string { return KindGreedy }

// Reset drops all tracks and restarts ID allocation.
func (t *GreedyTracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tracks = make(map[uint64]*Track)
	t.nextID = 1
	t.lastFrame = 0
	t.started = false
	t.retired = 0
}

type candidate struct {
	dist    float64
	trackID uint64
	detIdx  int
}

// Update processes one frame.
func (t *GreedyTracker) Update(dets []measure.Detection, frameIndex uint64) []Track {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.started && frameIndex < t.lastFrame {
		monitoring.Logf("[tracking] frame %d arrived after frame %d; treating as %d", frameIndex, t.lastFrame, t.lastFrame)
		frameIndex = t.lastFrame
	}
	t.lastFrame = frameIndex
	t.started = true

	// Step 1: retire tracks that have been unseen for longer than the window.
	for id, tr := range t.tracks {
		if frameIndex-tr.LastSeenFrame > uint64(t.Config.MaxMisses) {
			delete(t.tracks, id)
			t.retired++
		}
	}

	// Step 2: collect every (track, detection) pair under the threshold.
	var cands []candidate
	for id, tr := range t.tracks {
		for i, d := range dets {
			dist := pairDistance(tr.Head, tr.Tail, d)
			if dist < t.Config.DistanceThreshold {
				cands = append(cands, candidate{dist: dist, trackID: id, detIdx: i})
			}
		}
	}
	sort.Slice(cands, func(i, j int) bool {
		a, b := cands[i], cands[j]
		if a.dist != b.dist {
			return a.dist < b.dist
		}
		if a.trackID != b.trackID {
			return a.trackID < b.trackID
		}
		return a.detIdx < b.detIdx
	})

	// Step 3: accept pairs greedily while both sides are free.
	assigned := make([]uint64, len(dets))
	usedTracks := make(map[uint64]bool)
	for _, c := range cands {
		if usedTracks[c.trackID] || assigned[c.detIdx] != 0 {
			continue
		}
		usedTracks[c.trackID] = true
		assigned[c.detIdx] = c.trackID
		t.observe(t.tracks[c.trackID], dets[c.detIdx], frameIndex)
	}

	// Step 4: unmatched detections start new tracks in detection order.
	for i, d := range dets {
		if assigned[i] != 0 {
			continue
		}
		id := t.nextID
		t.nextID++
		tr := &Track{ID: id, FirstFrame: frameIndex}
		t.tracks[id] = tr
		t.observe(tr, d, frameIndex)
		assigned[i] = id
	}

	out := make([]Track, len(dets))
	for i, id := range assigned {
		tr := *t.tracks[id]
		tr.Detection = dets[i]
		tr.DetIndex = i
		out[i] = tr
	}
	return out
}

func (t *GreedyTracker) observe(tr *Track, d measure.Detection, frameIndex uint64) {
	tr.Head = d.Head
	tr.Tail = d.Tail
	tr.LastBox = d.Box
	tr.LastSeenFrame = frameIndex
	tr.Hits++
}

// ActiveTracks returns a snapshot of live tracks ordered by ID.
func (t *GreedyTracker) ActiveTracks() []Track {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Track, 0, len(t.tracks))
	for _, tr := range t.tracks {
		out = append(out, *tr)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Retired reports how many tracks have aged out of the staleness window.
func (t *GreedyTracker) Retired() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.retired
}
