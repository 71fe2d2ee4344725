package buddhabrot

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
)

// ErrSnapshotFormat reports a snapshot stream that is not a valid grid
// snapshot or was written by an incompatible version.
var ErrSnapshotFormat = errors.New("buddhabrot: malformed snapshot")

const (
	snapshotMagic   = "BBGRID"
	snapshotVersion = 1

	// maxSnapshotCells bounds the allocation a hostile header can request.
	maxSnapshotCells = 1 << 28
)

// snapshotHeader is the fixed-size header following the magic.
type snapshotHeader struct {
	Version  uint16
	Width    uint32
	Height   uint32
	Channels uint32
	Seed     Seed
}

// SaveSnapshot writes grid and the generator state seed to w as a
// zstd-compressed stream. Loading the snapshot into a renderer with the same
// configuration continues a cumulative render exactly where it stopped.
//
// Layout before compression, little-endian:
//
//	"BBGRID" version:u16 width:u32 height:u32 channels:u32 seed:[4]u32
//	counts: channels × height × width u32, channel-major, row-major
func SaveSnapshot(w io.Writer, grid *Grid, seed Seed) error {
	enc, err := zstd.NewWriter(w)
	if err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}
	bw := bufio.NewWriter(enc)

	hdr := snapshotHeader{
		Version:  snapshotVersion,
		Width:    uint32(grid.Width()),  //nolint:gosec // grid dimensions are positive ints
		Height:   uint32(grid.Height()), //nolint:gosec // grid dimensions are positive ints
		Channels: uint32(grid.Channels()),
		Seed:     seed,
	}
	if _, err := bw.WriteString(snapshotMagic); err != nil {
		_ = enc.Close()
		return fmt.Errorf("snapshot: %w", err)
	}
	if err := binary.Write(bw, binary.LittleEndian, &hdr); err != nil {
		_ = enc.Close()
		return fmt.Errorf("snapshot: %w", err)
	}
	for ch := range grid.Channels() {
		if err := binary.Write(bw, binary.LittleEndian, grid.Counts(ch)); err != nil {
			_ = enc.Close()
			return fmt.Errorf("snapshot: channel %d: %w", ch, err)
		}
	}
	if err := bw.Flush(); err != nil {
		_ = enc.Close()
		return fmt.Errorf("snapshot: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}
	return nil
}

// LoadSnapshot reads a snapshot written by SaveSnapshot.
func LoadSnapshot(r io.Reader) (*Grid, Seed, error) {
	dec, err := zstd.NewReader(r)
	if err != nil {
		return nil, Seed{}, fmt.Errorf("%w: %w", ErrSnapshotFormat, err)
	}
	defer dec.Close()
	br := bufio.NewReader(dec)

	magic := make([]byte, len(snapshotMagic))
	if _, err := io.ReadFull(br, magic); err != nil {
		return nil, Seed{}, fmt.Errorf("%w: %w", ErrSnapshotFormat, err)
	}
	if string(magic) != snapshotMagic {
		return nil, Seed{}, fmt.Errorf("%w: bad magic %q", ErrSnapshotFormat, magic)
	}

	var hdr snapshotHeader
	if err := binary.Read(br, binary.LittleEndian, &hdr); err != nil {
		return nil, Seed{}, fmt.Errorf("%w: header: %w", ErrSnapshotFormat, err)
	}
	if hdr.Version != snapshotVersion {
		return nil, Seed{}, fmt.Errorf("%w: unsupported version %d", ErrSnapshotFormat, hdr.Version)
	}
	if hdr.Width == 0 || hdr.Height == 0 || hdr.Channels == 0 || hdr.Channels > MaxChannels ||
		uint64(hdr.Width)*uint64(hdr.Height) > maxSnapshotCells {
		return nil, Seed{}, fmt.Errorf("%w: invalid shape %dx%dx%d", ErrSnapshotFormat, hdr.Width, hdr.Height, hdr.Channels)
	}
	if hdr.Seed.IsZero() {
		return nil, Seed{}, fmt.Errorf("%w: %w", ErrSnapshotFormat, ErrDegenerateSeed)
	}

	grid := NewGrid(int(hdr.Width), int(hdr.Height), int(hdr.Channels))
	for ch := range grid.Channels() {
		if err := binary.Read(br, binary.LittleEndian, grid.counts[ch]); err != nil {
			return nil, Seed{}, fmt.Errorf("%w: channel %d: %w", ErrSnapshotFormat, ch, err)
		}
	}
	return grid, hdr.Seed, nil
}
