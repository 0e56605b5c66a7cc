package beat

import (
	"math"
	"time"
)

// Intervals returns the duration of every subdivision of one beat at the
// given tempo. With two or more subdivisions, even indices are lengthened
// by swing and odd indices shortened by it, so index 0 always gets the
// long half of the long-short pair.
func Intervals(tempo, subdivisions int, swing float64) []time.Duration {
	tempo = max(1, tempo)
	subdivisions = max(1, subdivisions)

	beat := 60 / float64(tempo)
	base := beat / float64(subdivisions)
	table := make([]time.Duration, subdivisions)
	if subdivisions < 2 {
		table[0] = seconds(base)
		return table
	}

	// Each long-short pair fills the slot between two rounded pair
	// boundaries exactly, so an even measure sums to seconds(beat).
	for i := 0; i < subdivisions; i += 2 {
		long := seconds(base * (1 + swing))
		if i+1 == subdivisions {
			table[i] = long
			break
		}
		end := beat
		if i+2 < subdivisions {
			end = beat * float64(i+2) / float64(subdivisions)
		}
		pair := seconds(end) - seconds(beat*float64(i)/float64(subdivisions))
		table[i], table[i+1] = long, pair-long
	}
	return table
}

func seconds(s float64) time.Duration {
	return time.Duration(math.Round(s * float64(time.Second)))
}
