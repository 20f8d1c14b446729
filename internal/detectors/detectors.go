// Package detectors holds the detector family. Each detector is a value that
// owns its caches and exposes Detect (pure over the DataStore and its own
// cache) plus, for the REST-backed ones, Update(ctx) driven by the scheduler.
// Detectors never read each other's output; the TopPicker and the signal
// engine compose them one level up.
package detectors

import "sort"

// sortAlerts orders a slice by descending |primary| with the symbol as the
// tiebreak, the ordering every GetTop list uses.
func sortAlerts[T any](alerts []T, magnitude func(T) float64, symbol func(T) string) {
	sort.Slice(alerts, func(i, j int) bool {
		mi, mj := abs(magnitude(alerts[i])), abs(magnitude(alerts[j]))
		if mi != mj {
			return mi > mj
		}
		return symbol(alerts[i]) < symbol(alerts[j])
	})
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
