package buddhabrot

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrDegenerateSeed reports an all-zero generator state, which would make
// the xorshift stream emit zeros forever.
var ErrDegenerateSeed = errors.New("buddhabrot: degenerate all-zero seed")

// Seed is the four-word xorshift128 state.
type Seed [4]uint32

// DefaultSeed is Marsaglia's reference xorshift128 state.
var DefaultSeed = Seed{123456789, 362436069, 521288629, 88675123}

// IsZero reports whether all four words are zero.
func (s Seed) IsZero() bool {
	return s[0]|s[1]|s[2]|s[3] == 0
}

// NewEntropySeed returns a non-zero seed read from the OS entropy source.
func NewEntropySeed() (Seed, error) {
	var buf [16]byte
	for {
		if _, err := rand.Read(buf[:]); err != nil {
			return Seed{}, fmt.Errorf("read entropy: %w", err)
		}
		s := Seed{
			binary.LittleEndian.Uint32(buf[0:]),
			binary.LittleEndian.Uint32(buf[4:]),
			binary.LittleEndian.Uint32(buf[8:]),
			binary.LittleEndian.Uint32(buf[12:]),
		}
		if !s.IsZero() {
			return s, nil
		}
	}
}

// maxUint32 is the divisor that maps a generated word onto [0,1].
const maxUint32 = 4294967295.0

// below1 is the largest float32 smaller than one.
const below1 float32 = 0x1.fffffep-1

// Stream is a reproducible xorshift128 sequence of unit coordinates.
// A Stream is not safe for concurrent use; batches draw from it sequentially
// before fanning out.
type Stream struct {
	s Seed
}

// NewStream returns a stream starting at seed.
func NewStream(seed Seed) (*Stream, error) {
	if seed.IsZero() {
		return nil, ErrDegenerateSeed
	}
	return &Stream{s: seed}, nil
}

// State returns the current state. A stream created from State continues
// exactly where this one stands.
func (st *Stream) State() Seed {
	return st.s
}

// Reset replaces the state.
func (st *Stream) Reset(seed Seed) error {
	if seed.IsZero() {
		return ErrDegenerateSeed
	}
	st.s = seed
	return nil
}

// next advances the state by one xorshift round and returns the new word.
func (st *Stream) next() uint32 {
	t := st.s[0] ^ (st.s[0] << 11)
	st.s[0], st.s[1], st.s[2] = st.s[1], st.s[2], st.s[3]
	st.s[3] = st.s[3] ^ (st.s[3] >> 19) ^ (t ^ (t >> 18))
	return st.s[3]
}

// unit converts a word to a float in [0,1).
func unit(w uint32) float32 {
	f := float32(float64(w) / maxUint32)
	// 0xffffffff and its neighbours round to exactly 1.
	if f >= 1 {
		return below1
	}
	return f
}

// Float returns the next value in [0,1).
func (st *Stream) Float() float32 {
	return unit(st.next())
}

// Draw returns the next coordinate: two rounds, real part first.
func (st *Stream) Draw() complex64 {
	x := st.Float()
	y := st.Float()
	return complex(x, y)
}

// Fill draws len(xs) coordinates into xs and ys, interleaving x and y rounds
// exactly as repeated calls to Draw would. ys must be at least as long as xs.
func (st *Stream) Fill(xs, ys []float32) {
	if len(xs) == 0 {
		return
	}
	_ = ys[len(xs)-1]
	for i := range xs {
		xs[i] = st.Float()
		ys[i] = st.Float()
	}
}
