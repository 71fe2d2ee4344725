package buddhabrot

import "testing"

func TestNormalizeValues(t *testing.T) {
	g := NewGrid(4, 1, 1)
	// counts 0, 1, 4, 16 -> sqrt 0, 1, 2, 4 over max 4.
	for i, n := range []int{0, 1, 4, 16} {
		for range n {
			g.inc(0, i)
		}
	}
	f := Normalize(g)

	want := []uint8{0, 64, 128, 255}
	for x, w := range want {
		if got := f.Intensity(x, 0, 0); got != w {
			t.Errorf("intensity(%d) = %d, want %d", x, got, w)
		}
	}
}

func TestNormalizeChannelsIndependent(t *testing.T) {
	g := NewGrid(2, 1, 3)
	// ch0 max 1, ch1 max 100, ch2 empty.
	g.inc(0, 0)
	for range 100 {
		g.inc(1, 1)
	}
	g.inc(1, 0)

	f := Normalize(g)
	if got := f.Intensity(0, 0, 0); got != 255 {
		t.Errorf("ch0 max cell = %d, want 255", got)
	}
	if got := f.Intensity(1, 0, 1); got != 255 {
		t.Errorf("ch1 max cell = %d, want 255", got)
	}
	// round(255 * sqrt(1)/sqrt(100)) = round(25.5) = 26
	if got := f.Intensity(0, 0, 1); got != 26 {
		t.Errorf("ch1 low cell = %d, want 26", got)
	}
	for x := range 2 {
		if got := f.Intensity(x, 0, 2); got != 0 {
			t.Errorf("empty channel at %d = %d, want 0", x, got)
		}
	}
}

func TestNormalizeDoesNotMutateGrid(t *testing.T) {
	g := NewGrid(3, 3, 2)
	for i := range 9 {
		for range i {
			g.inc(0, i)
			g.inc(1, 8-i)
		}
	}
	before := g.Clone()

	a := Normalize(g)
	b := Normalize(g)
	if !gridsEqual(before, g) {
		t.Error("Normalize modified the grid")
	}
	if !a.Equal(b) {
		t.Error("Normalize is not idempotent on an unchanged grid")
	}
}

func TestNormalizeAllZero(t *testing.T) {
	f := Normalize(NewGrid(5, 5, 2))
	for i, v := range f.Pix() {
		if v != 0 {
			t.Fatalf("pix[%d] = %d, want 0", i, v)
		}
	}
}

func TestNormalizeMonotonic(t *testing.T) {
	g := NewGrid(64, 1, 1)
	for i := range 64 {
		for range i * i {
			g.inc(0, i)
		}
	}
	f := Normalize(g)
	for x := 1; x < 64; x++ {
		if f.Intensity(x, 0, 0) < f.Intensity(x-1, 0, 0) {
			t.Fatalf("intensity decreases at %d", x)
		}
	}
}
