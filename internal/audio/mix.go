package audio

import (
	"math"
	"time"

	"github.com/satindergrewal/clicktrack/internal/beat"
)

// Smoothstep returns the smoothstep interpolation for t in [0,1].
// Formula: 3t^2 - 2t^3.
func Smoothstep(t float64) float64 {
	if t <= 0 {
		return 0
	}
	if t >= 1 {
		return 1
	}
	return t * t * (3 - 2*t)
}

// MixInto adds src scaled by gain onto dst, clipping to the int16 range.
// Only the overlapping prefix is mixed; it returns the number of samples
// consumed from src.
func MixInto(dst, src []int16, gain float64) int {
	n := min(len(dst), len(src))
	for i := 0; i < n; i++ {
		mixed := float64(dst[i]) + float64(src[i])*gain

		// Clip to int16 range
		if mixed > math.MaxInt16 {
			mixed = math.MaxInt16
		} else if mixed < math.MinInt16 {
			mixed = math.MinInt16
		}
		dst[i] = int16(mixed)
	}
	return n
}

// SynthClick renders a decaying sine burst. The attack is shaped with a
// short smoothstep ramp so the click starts without a pop.
func SynthClick(freq float64, dur time.Duration, gain float64) Sound {
	frames := int(dur.Seconds() * SampleRate)
	attack := max(1, SampleRate/1000) // 1ms
	out := make(Sound, frames*Channels)
	for i := 0; i < frames; i++ {
		t := float64(i) / SampleRate
		env := Smoothstep(float64(i)/float64(attack)) * math.Exp(-t*60)
		v := int16(math.Sin(2*math.Pi*freq*t) * env * gain * math.MaxInt16)
		for c := 0; c < Channels; c++ {
			out[i*Channels+c] = v
		}
	}
	return out
}

// SynthKit returns the built-in click sounds: a high click for first
// beats, a middle one for accents and a low one for the rest.
func SynthKit() Kit {
	return Kit{
		beat.RoleFirst:  SynthClick(1760, 60*time.Millisecond, 0.9),
		beat.RoleAccent: SynthClick(1320, 60*time.Millisecond, 0.8),
		beat.RoleNormal: SynthClick(880, 50*time.Millisecond, 0.6),
	}
}
