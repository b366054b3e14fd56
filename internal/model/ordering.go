package model

import "math"

// Fractional ordering keys. Siblings display in ascending key order; a new
// key is always computable without renumbering existing siblings, so
// concurrent inserts at different positions never collide.

// FirstOrderKey is the key assigned to the first element of an empty
// collection.
const FirstOrderKey = 1.0

// orderEpsilon is the spacing below which two sibling keys count as
// float-adjacent. Repeated same-position inserts halve the gap each time;
// once gaps shrink past this, the integrity scanner renumbers.
const orderEpsilon = 1e-9

// OrderKeyBetween returns a key sorting between a and b (a < b expected).
func OrderKeyBetween(a, b float64) float64 {
	return (a + b) / 2
}

// OrderKeyAtStart returns a key sorting before the current first key.
func OrderKeyAtStart(first float64) float64 {
	return first / 2
}

// OrderKeyAtEnd returns a key sorting after the current last key.
func OrderKeyAtEnd(last float64) float64 {
	return last + 1
}

// OrderKeysDegraded reports whether a sibling key sequence (in intended
// display order) needs renumbering: keys out of order, duplicated, or
// squeezed so close together that further fractional inserts would stop
// producing distinct values.
func OrderKeysDegraded(keys []float64) bool {
	for i := 1; i < len(keys); i++ {
		if keys[i] <= keys[i-1] {
			return true
		}
		if keys[i]-keys[i-1] < orderEpsilon {
			return true
		}
	}
	for _, k := range keys {
		if math.IsNaN(k) || math.IsInf(k, 0) {
			return true
		}
	}
	return false
}

// RenumberOrderKeys returns fresh keys 1..N preserving the given display
// order. Renumbering is a local edit: callers must bump UpdatedAt so the
// repaired ordering propagates like any other change.
func RenumberOrderKeys(n int) []float64 {
	keys := make([]float64, n)
	for i := range keys {
		keys[i] = float64(i + 1)
	}
	return keys
}
