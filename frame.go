package buddhabrot

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"os"

	"golang.org/x/image/draw"
)

// Frame is a normalized display frame: one 8-bit intensity per channel per
// pixel, stored pixel-interleaved in row-major order.
//
// Frame implements image.Image. Channels compose into pixels as follows:
// one channel is replicated into R, G and B (greyscale); two or three
// channels fill R, G(, B); a fourth channel becomes alpha.
type Frame struct {
	width    int
	height   int
	channels int
	pix      []uint8
}

// NewFrame creates a zeroed frame.
func NewFrame(width, height, channels int) *Frame {
	return &Frame{
		width:    width,
		height:   height,
		channels: channels,
		pix:      make([]uint8, width*height*channels),
	}
}

// Width returns the frame width.
func (f *Frame) Width() int { return f.width }

// Height returns the frame height.
func (f *Frame) Height() int { return f.height }

// Channels returns the number of intensities per pixel.
func (f *Frame) Channels() int { return f.channels }

// Pix returns the raw interleaved intensities.
func (f *Frame) Pix() []uint8 { return f.pix }

// Intensity returns channel ch of pixel (x, y).
func (f *Frame) Intensity(x, y, ch int) uint8 {
	return f.pix[(y*f.width+x)*f.channels+ch]
}

// Equal reports whether both frames hold identical intensities.
func (f *Frame) Equal(o *Frame) bool {
	if f.width != o.width || f.height != o.height || f.channels != o.channels {
		return false
	}
	for i, v := range f.pix {
		if o.pix[i] != v {
			return false
		}
	}
	return true
}

// rgba composes the pixel at linear index i.
func (f *Frame) rgba(i int) color.NRGBA {
	p := f.pix[i*f.channels : (i+1)*f.channels]
	switch f.channels {
	case 1:
		return color.NRGBA{R: p[0], G: p[0], B: p[0], A: 0xff}
	case 2:
		return color.NRGBA{R: p[0], G: p[1], A: 0xff}
	case 3:
		return color.NRGBA{R: p[0], G: p[1], B: p[2], A: 0xff}
	default:
		return color.NRGBA{R: p[0], G: p[1], B: p[2], A: p[3]}
	}
}

// At implements the image.Image interface.
func (f *Frame) At(x, y int) color.Color {
	if x < 0 || x >= f.width || y < 0 || y >= f.height {
		return color.NRGBA{}
	}
	return f.rgba(y*f.width + x)
}

// Bounds implements the image.Image interface.
func (f *Frame) Bounds() image.Rectangle {
	return image.Rect(0, 0, f.width, f.height)
}

// ColorModel implements the image.Image interface.
func (f *Frame) ColorModel() color.Model {
	return color.NRGBAModel
}

// ToImage converts the frame to an image.NRGBA.
func (f *Frame) ToImage() *image.NRGBA {
	img := image.NewNRGBA(f.Bounds())
	for i := range f.width * f.height {
		c := f.rgba(i)
		o := i * 4
		img.Pix[o+0] = c.R
		img.Pix[o+1] = c.G
		img.Pix[o+2] = c.B
		img.Pix[o+3] = c.A
	}
	return img
}

// PackXRGB packs every pixel as a 0x00RRGGBB word, the layout of 32bpp
// RGB window surfaces. Alpha is dropped.
func (f *Frame) PackXRGB() []uint32 {
	out := make([]uint32, f.width*f.height)
	for i := range out {
		c := f.rgba(i)
		out[i] = uint32(c.R)<<16 | uint32(c.G)<<8 | uint32(c.B)
	}
	return out
}

// EncodePNG writes the frame as a PNG image.
func (f *Frame) EncodePNG(w io.Writer) error {
	return png.Encode(w, f.ToImage())
}

// SavePNG saves the frame to a PNG file.
func (f *Frame) SavePNG(path string) error {
	file, err := os.Create(path) //nolint:gosec // path is user-provided intentionally
	if err != nil {
		return err
	}
	if err := f.EncodePNG(file); err != nil {
		_ = file.Close()
		return fmt.Errorf("encode %s: %w", path, err)
	}
	return file.Close()
}

// Resample returns the frame scaled to width x height with Catmull-Rom
// filtering, channel by channel. Rendering a larger grid and resampling it
// down gives a supersampled image.
func (f *Frame) Resample(width, height int) *Frame {
	if width == f.width && height == f.height {
		out := NewFrame(width, height, f.channels)
		copy(out.pix, f.pix)
		return out
	}
	out := NewFrame(width, height, f.channels)
	src := image.NewGray(f.Bounds())
	dst := image.NewGray(out.Bounds())
	for ch := range f.channels {
		for i := range f.width * f.height {
			src.Pix[i] = f.pix[i*f.channels+ch]
		}
		draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
		for i := range width * height {
			out.pix[i*f.channels+ch] = dst.Pix[i]
		}
	}
	return out
}
