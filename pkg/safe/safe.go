// Package safe provides overflow-checked uint64 arithmetic for time steps.
package safe

import (
	"errors"
	"math/bits"
)

var (
	ErrOverflow  = errors.New("safe: uint64 overflow")
	ErrUnderflow = errors.New("safe: uint64 underflow")
)

// Add returns a + b.
func Add(a, b uint64) (uint64, error) {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return 0, ErrOverflow
	}
	return sum, nil
}

// Sub returns a - b.
func Sub(a, b uint64) (uint64, error) {
	diff, borrow := bits.Sub64(a, b, 0)
	if borrow != 0 {
		return 0, ErrUnderflow
	}
	return diff, nil
}

// Mul returns a * b.
func Mul(a, b uint64) (uint64, error) {
	hi, lo := bits.Mul64(a, b)
	if hi != 0 {
		return 0, ErrOverflow
	}
	return lo, nil
}

// FloorTo rounds v down to a multiple of step. step must be non-zero.
func FloorTo(v, step uint64) uint64 {
	return v - v%step
}
