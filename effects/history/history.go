// Package history maintains the per-camera persistent buffers the SSGI
// temporal chain reads across frames: previous color, depth, accumulated
// indirect diffuse, sample counts, and the previous frame's reprojection
// matrices. The store is a small fixed-capacity array ordered by recency;
// with at most a handful of concurrent cameras (main camera, scene views,
// reflection probes) a linear scan beats any indexed structure.
package history

import (
	"sync"

	"github.com/Carmen-Shannon/lumen-go/common"
	"github.com/Carmen-Shannon/lumen-go/effects/buffer"
)

// DefaultCapacity is the number of cameras that can hold history
// simultaneously. A fifth camera evicts the least recently acquired slot;
// the evicted camera degrades to a fresh start (no temporal reuse) on its
// next frame.
const DefaultCapacity = 4

// Entry is the persistent state for one camera. All buffers are owned by
// the store and released on eviction or teardown.
type Entry struct {
	// CameraID is the host-provided stable identity this entry is keyed by.
	CameraID uint64

	// Valid reports whether the entry has completed one full frame and its
	// buffers and matrices can be trusted for reprojection.
	Valid bool

	// PrevViewProj and PrevInvViewProj are last frame's view-projection
	// matrix and its inverse, column-major. The forward matrix reprojects
	// current world positions into last frame's screen; the inverse
	// reconstructs world positions from history depth for the disocclusion
	// check.
	PrevViewProj    [16]float32
	PrevInvViewProj [16]float32

	// PrevCameraPos is last frame's camera world position.
	PrevCameraPos [3]float32

	// Color is last frame's final camera color at native resolution.
	Color *buffer.Buffer

	// Depth is last frame's depth at indirect resolution.
	Depth *buffer.Buffer

	// Indirect is last frame's accumulated indirect diffuse at indirect
	// resolution.
	Indirect *buffer.Buffer

	// SampleCount is the per-pixel accumulated sample count at indirect
	// resolution.
	SampleCount *buffer.Buffer

	// Width/Height cache the native resolution, IndirectWidth/Height the
	// reduced resolution, for change detection.
	Width, Height                 int
	IndirectWidth, IndirectHeight int

	// DenoiseMode caches the packed denoise toggles active when the entry
	// was last written; a flip between frames invalidates the history.
	DenoiseMode uint8

	occupied bool
}

// EnsureBuffers sizes the entry's buffers for the given resolutions,
// allocating on first use and reallocating only when a dimension changed.
//
// Parameters:
//   - width, height: native camera resolution
//   - indirectW, indirectH: indirect-lighting resolution
func (e *Entry) EnsureBuffers(width, height, indirectW, indirectH int) {
	if e.Color == nil {
		e.Color = buffer.New(width, height, 3)
		e.Depth = buffer.New(indirectW, indirectH, 1)
		e.Indirect = buffer.New(indirectW, indirectH, 3)
		e.SampleCount = buffer.New(indirectW, indirectH, 1)
	} else {
		e.Color.Resize(width, height)
		e.Depth.Resize(indirectW, indirectH)
		e.Indirect.Resize(indirectW, indirectH)
		e.SampleCount.Resize(indirectW, indirectH)
	}
	e.Width, e.Height = width, height
	e.IndirectWidth, e.IndirectHeight = indirectW, indirectH
}

// release drops all buffer references so eviction frees the memory even if
// the host keeps the store alive for a long session.
func (e *Entry) release() {
	*e = Entry{}
}

// Store is the bounded per-camera history cache.
//
// Acquire keeps the most recently touched camera at index 0 by shifting the
// array, so the entry at the last index is always the eviction candidate.
// Mutations are brief metadata updates, guarded by a mutex so hosts that
// process cameras on multiple goroutines stay safe; the bulk buffers are
// only ever touched by the camera that owns the slot for the current
// processing turn.
type Store interface {
	// Lookup scans for a camera's slot without affecting recency order.
	//
	// Parameters:
	//   - cameraID: the host-provided camera identity
	//
	// Returns:
	//   - int: the slot index, or -1 when not found
	//   - bool: true if the camera has a slot
	Lookup(cameraID uint64) (int, bool)

	// Acquire returns the slot for a camera, creating one if needed. The
	// touched slot moves to the front; when the store is full the least
	// recently acquired slot is evicted and reset to a fresh invalid entry.
	//
	// Parameters:
	//   - cameraID: the host-provided camera identity
	//
	// Returns:
	//   - int: the slot index holding this camera (always the front, 0)
	Acquire(cameraID uint64) int

	// Entry returns the entry at a slot index, or nil if out of range.
	// The returned pointer is only stable until the next Acquire call,
	// which may shift slots; callers hold it for one camera-processing
	// turn only.
	Entry(index int) *Entry

	// Invalidate marks a slot's history unusable for reprojection. Called
	// when the caller detects a resolution change or a denoise-mode flip.
	//
	// Parameters:
	//   - index: the slot index
	Invalidate(index int)

	// Update finalizes a slot at end of frame: stores the view-projection
	// matrix (and its inverse) plus the camera position for next frame's
	// reprojection and marks the entry valid. Must be called after every
	// stage that reads the entry's previous-frame fields has run.
	//
	// Parameters:
	//   - index: the slot index
	//   - viewProj: this frame's view-projection matrix, column-major
	//   - cameraPos: this frame's camera world position
	Update(index int, viewProj [16]float32, cameraPos [3]float32)

	// Len returns the number of occupied slots.
	Len() int

	// Release frees every entry's buffers. Called on pipeline teardown.
	Release()
}

type store struct {
	mu      sync.Mutex
	entries []Entry
}

var _ Store = &store{}

// StoreBuilderOption is a functional option applied to a history store
// during construction via NewStore.
type StoreBuilderOption func(*store)

// WithCapacity overrides the default slot count. Values below 1 are ignored.
//
// Parameters:
//   - capacity: the number of concurrent cameras to retain
//
// Returns:
//   - StoreBuilderOption: a function that applies the capacity option
func WithCapacity(capacity int) StoreBuilderOption {
	return func(s *store) {
		if capacity >= 1 {
			s.entries = make([]Entry, capacity)
		}
	}
}

// NewStore creates a history store with DefaultCapacity slots unless
// overridden.
//
// Parameters:
//   - options: functional options for store configuration
//
// Returns:
//   - Store: the newly created store
func NewStore(options ...StoreBuilderOption) Store {
	s := &store{
		entries: make([]Entry, DefaultCapacity),
	}
	for _, opt := range options {
		opt(s)
	}
	return s
}

func (s *store) Lookup(cameraID uint64) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lookupLocked(cameraID)
}

func (s *store) lookupLocked(cameraID uint64) (int, bool) {
	for i := range s.entries {
		if s.entries[i].occupied && s.entries[i].CameraID == cameraID {
			return i, true
		}
	}
	return -1, false
}

func (s *store) Acquire(cameraID uint64) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, found := s.lookupLocked(cameraID)
	if !found {
		// Evict the last slot. If it held a camera, its buffers are
		// released; that camera simply loses temporal reuse.
		idx = len(s.entries) - 1
		s.entries[idx].release()
		s.entries[idx] = Entry{CameraID: cameraID, occupied: true}
	}

	// Shift everything above the touched slot one position toward the back
	// so the touched entry lands at the front.
	touched := s.entries[idx]
	copy(s.entries[1:idx+1], s.entries[0:idx])
	s.entries[0] = touched
	return 0
}

func (s *store) Entry(index int) *Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index < 0 || index >= len(s.entries) {
		return nil
	}
	return &s.entries[index]
}

func (s *store) Invalidate(index int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index < 0 || index >= len(s.entries) {
		return
	}
	s.entries[index].Valid = false
}

func (s *store) Update(index int, viewProj [16]float32, cameraPos [3]float32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index < 0 || index >= len(s.entries) || !s.entries[index].occupied {
		return
	}
	e := &s.entries[index]
	e.PrevViewProj = viewProj
	var inv [16]float32
	if common.Invert4(inv[:], viewProj[:]) {
		e.PrevInvViewProj = inv
	} else {
		// A singular matrix cannot reproject; keep the entry unusable.
		e.Valid = false
		return
	}
	e.PrevCameraPos = cameraPos
	e.Valid = true
}

func (s *store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for i := range s.entries {
		if s.entries[i].occupied {
			n++
		}
	}
	return n
}

func (s *store) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.entries {
		s.entries[i].release()
	}
}
