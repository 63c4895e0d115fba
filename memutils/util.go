package memutils

import (
	"math/bits"

	cerrors "github.com/cockroachdb/errors"
	"golang.org/x/exp/constraints"
)

// Number is any integer type that sizes, offsets and alignments may be expressed in
type Number interface {
	constraints.Integer
}

// CheckPow2 returns an error wrapping PowerOfTwoError if number is not a positive power of two.
// The name is used to identify the offending value in the error message.
func CheckPow2[T Number](number T, name string) error {
	if number <= 0 || number&(number-1) != 0 {
		return cerrors.Wrapf(PowerOfTwoError, "%s is %d", name, number)
	}
	return nil
}

func AlignUp[T Number](value T, alignment T) T {
	return (value + alignment - 1) & ^(alignment - 1)
}

func AlignDown[T Number](value T, alignment T) T {
	return value & ^(alignment - 1)
}

// IsAligned reports whether value is a multiple of a power-of-two alignment
func IsAligned[T Number](value T, alignment T) bool {
	return value&(alignment-1) == 0
}

// NextPow2 returns the smallest power of two that is greater than or equal to value. Values below 1 return 1.
func NextPow2(value int) int {
	if value <= 1 {
		return 1
	}
	return 1 << bits.Len(uint(value-1))
}

// Log2 returns floor(log2(value)) for a positive value
func Log2(value int) int {
	return bits.Len(uint(value)) - 1
}
