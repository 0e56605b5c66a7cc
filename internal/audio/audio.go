// Package audio renders beat notifications as click sounds, either on the
// local speaker or into a real-time PCM frame stream.
package audio

import (
	"time"

	"github.com/satindergrewal/clicktrack/internal/beat"
)

const (
	SampleRate    = 48000
	Channels      = 2
	BitDepth      = 16
	FrameDuration = 20 * time.Millisecond
	FrameSize     = 960                  // samples per channel per 20ms frame
	FrameSamples  = FrameSize * Channels // total interleaved samples per frame
	FrameBytes    = FrameSamples * 2     // bytes per frame (int16 = 2 bytes)
)

// Sound is interleaved stereo int16 PCM at SampleRate.
type Sound []int16

// Duration returns the playing time of the sound.
func (s Sound) Duration() time.Duration {
	return time.Duration(len(s)/Channels) * time.Second / SampleRate
}

// Kit maps each beat role to the sound played for it.
type Kit map[beat.Role]Sound

// For returns the sound for a fired beat, or nil when the beat is silent.
// Muted and switched-off beats are silent, and so are normal beats when the
// measure has a single subdivision.
func (k Kit) For(b beat.Beat) Sound {
	if !b.Audible() || (b.Role == beat.RoleNormal && b.Subdivisions <= 1) {
		return nil
	}
	return k[b.Role]
}
