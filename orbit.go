package buddhabrot

import "iter"

// Orbit returns the escape-time orbit of c under z -> z² + c, starting from
// z = 0. Each step yields the iteration index (from 1) and the new z.
//
// The sequence ends without yielding at the first step whose |z|² reaches
// threshold, so an escape point is never part of the orbit. It also ends
// after index budget.MaxIter. Use Escapes to learn which of the two happened.
//
// The sequence is not restartable in any stateful sense; ranging over it
// again replays the same orbit.
func Orbit(c complex64, budget IterationBudget, threshold float32) iter.Seq2[uint32, complex64] {
	return func(yield func(uint32, complex64) bool) {
		cr, ci := real(c), imag(c)
		var zr, zi float32
		for i := uint32(0); i < budget.MaxIter; {
			i++
			zr, zi = zr*zr-zi*zi+cr, 2*zr*zi+ci
			if zr*zr+zi*zi >= threshold {
				return
			}
			if !yield(i, complex(zr, zi)) {
				return
			}
		}
	}
}

// Escapes runs the recurrence for c until |z|² reaches threshold or
// budget.MaxIter steps have been taken. It reports whether c escaped and the
// index of the last step taken: the escape step when escaped is true,
// budget.MaxIter otherwise.
//
// An escape at exactly index MaxIter counts as escaped.
func Escapes(c complex64, budget IterationBudget, threshold float32) (escaped bool, steps uint32) {
	cr, ci := real(c), imag(c)
	var zr, zi float32
	for i := uint32(0); i < budget.MaxIter; {
		i++
		zr, zi = zr*zr-zi*zi+cr, 2*zr*zi+ci
		if zr*zr+zi*zi >= threshold {
			return true, i
		}
	}
	return false, budget.MaxIter
}
