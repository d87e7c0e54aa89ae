package memsim

import (
	cerrors "github.com/cockroachdb/errors"
)

type Number interface {
	~int | ~uint
}

func CheckPow2[T Number](number T, name string) error {
	if number&(number-1) != 0 {
		return cerrors.Wrapf(PowerOfTwoError, "%s is %d", name, number)
	}
	return nil
}

func AlignUp(value int, alignment uint) int {
	return (value + int(alignment) - 1) & int(^(alignment - 1))
}

func AlignDown(value int, alignment uint) int {
	return value & int(^(alignment - 1))
}

// RoundUpUnits converts a request of sizeBytes into a whole number of allocation
// units, rounding up. unitSize must be a power of two. Requests of zero or fewer
// bytes round to zero units.
func RoundUpUnits(sizeBytes, unitSize int) int {
	if sizeBytes <= 0 {
		return 0
	}
	return AlignUp(sizeBytes, uint(unitSize)) / unitSize
}
