package buffer

// PingPong is a front/back pair of equally sized buffers used by filter
// chains that must never read and write the same storage within one pass.
// A pass reads Front, writes Back, then calls Swap; the swap toggles an
// index instead of exchanging pointers so ownership of both allocations
// stays with the pair.
type PingPong struct {
	bufs  [2]*Buffer
	front int
}

// NewPingPong creates a ping-pong pair with two zero-filled buffers of the
// given dimensions.
//
// Parameters:
//   - width, height: buffer dimensions in pixels
//   - channels: number of float32 channels per pixel (1..4)
//
// Returns:
//   - *PingPong: the newly allocated pair
func NewPingPong(width, height, channels int) *PingPong {
	return &PingPong{
		bufs: [2]*Buffer{
			New(width, height, channels),
			New(width, height, channels),
		},
	}
}

// Front returns the buffer currently holding the latest results.
func (p *PingPong) Front() *Buffer { return p.bufs[p.front] }

// Back returns the buffer available as a write target.
func (p *PingPong) Back() *Buffer { return p.bufs[1-p.front] }

// Swap toggles which buffer is the front. Called after a filter pass has
// finished writing the back buffer.
func (p *PingPong) Swap() { p.front = 1 - p.front }

// Resize reallocates both buffers if the dimensions changed and resets the
// front index so callers see deterministic state after a resolution change.
//
// Returns:
//   - bool: true if the buffers were reallocated
func (p *PingPong) Resize(width, height int) bool {
	changed := p.bufs[0].Resize(width, height)
	changed = p.bufs[1].Resize(width, height) || changed
	if changed {
		p.front = 0
	}
	return changed
}
