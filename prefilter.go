package buddhabrot

// Prefilter is a set of analytic interior tests. A point accepted by any
// enabled test is inside the Mandelbrot set and is never iterated.
//
// Every test is conservative: it may miss interior points, which then fall
// through to full iteration, but never accepts an exterior point. The choice
// of tests therefore changes cost only, never the rendered distribution.
type Prefilter uint8

const (
	// PrefilterBulb2 tests the period-2 disk centred on -1.
	PrefilterBulb2 Prefilter = 1 << iota

	// PrefilterCardioid tests the main cardioid.
	PrefilterCardioid

	// PrefilterSecondary tests inscribed disks of the two period-3 bulbs
	// and the period-4 bulb left of the period-2 disk.
	PrefilterSecondary
)

const (
	// PrefilterNone disables all tests.
	PrefilterNone Prefilter = 0

	// DefaultPrefilter enables the two exact closed-form tests.
	DefaultPrefilter = PrefilterBulb2 | PrefilterCardioid

	// PrefilterAll enables every test.
	PrefilterAll = PrefilterBulb2 | PrefilterCardioid | PrefilterSecondary
)

// Inscribed disks of the secondary bulbs: centred on the bulb nuclei with
// radii well inside the component boundaries.
const (
	bulb3Re  = -0.122561
	bulb3Im  = 0.744862
	bulb3Rad = 0.06

	bulb4Re  = -1.310703
	bulb4Rad = 0.04
)

// IsDefinitelyInterior reports whether c is known to be inside the set
// without iterating.
func (p Prefilter) IsDefinitelyInterior(c complex64) bool {
	if p == PrefilterNone {
		return false
	}
	// float64 keeps rounding from pushing boundary points inward.
	cr, ci := float64(real(c)), float64(imag(c))
	ci2 := ci * ci

	if p&PrefilterBulb2 != 0 {
		d := cr + 1
		if d*d+ci2 < 0.0625 {
			return true
		}
	}
	if p&PrefilterCardioid != 0 {
		d := cr - 0.25
		q := d*d + ci2
		if q*(q+d) < 0.25*ci2 {
			return true
		}
	}
	if p&PrefilterSecondary != 0 {
		if inDisk(cr, ci, bulb3Re, bulb3Im, bulb3Rad) ||
			inDisk(cr, ci, bulb3Re, -bulb3Im, bulb3Rad) ||
			inDisk(cr, ci, bulb4Re, 0, bulb4Rad) {
			return true
		}
	}
	return false
}

// String lists the enabled tests.
func (p Prefilter) String() string {
	if p == PrefilterNone {
		return "none"
	}
	s := ""
	add := func(name string) {
		if s != "" {
			s += "|"
		}
		s += name
	}
	if p&PrefilterBulb2 != 0 {
		add("bulb2")
	}
	if p&PrefilterCardioid != 0 {
		add("cardioid")
	}
	if p&PrefilterSecondary != 0 {
		add("secondary")
	}
	return s
}

func inDisk(x, y, cx, cy, r float64) bool {
	dx, dy := x-cx, y-cy
	return dx*dx+dy*dy < r*r
}
