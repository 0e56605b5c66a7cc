package tempo

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrNotEnoughPeaks is returned when a signal holds fewer than two onsets.
var ErrNotEnoughPeaks = errors.New("tempo: fewer than two peaks detected")

const (
	DefaultThreshold   = 0.3
	DefaultMinDistance = 200 * time.Millisecond
)

// Detector estimates a tempo from the onsets in an audio buffer.
type Detector struct {
	SampleRate  int
	Threshold   float64       // normalised amplitude a peak must exceed
	MinDistance time.Duration // debounce between accepted peaks
	Clamp       Clamp
}

// NewDetector returns a detector with the default threshold and debounce.
func NewDetector(sampleRate int, clamp Clamp) *Detector {
	return &Detector{
		SampleRate:  sampleRate,
		Threshold:   DefaultThreshold,
		MinDistance: DefaultMinDistance,
		Clamp:       clamp,
	}
}

// DetectPeaks returns the sample offsets of the local maxima of the
// normalised signal that exceed the threshold and lie more than
// MinDistance after the previously accepted peak. The first and last
// samples only need to exceed their single neighbour.
func (d *Detector) DetectPeaks(signal []float64) []int {
	var peak float64
	for _, v := range signal {
		peak = math.Max(peak, math.Abs(v))
	}
	if peak == 0 {
		return nil
	}

	minGap := int(float64(d.SampleRate) * d.MinDistance.Seconds())
	var peaks []int
	last := 0
	for i, v := range signal {
		v /= peak
		if v <= d.Threshold {
			continue
		}
		if i > 0 && v <= signal[i-1]/peak {
			continue
		}
		if i < len(signal)-1 && v <= signal[i+1]/peak {
			continue
		}
		if len(peaks) == 0 || i-last > minGap {
			peaks = append(peaks, i)
			last = i
		}
	}
	return peaks
}

// BPMFromPeaks converts peak offsets to beats per minute using the mean
// inter-peak interval.
func (d *Detector) BPMFromPeaks(peaks []int) (float64, error) {
	if len(peaks) < 2 {
		return 0, ErrNotEnoughPeaks
	}
	if d.SampleRate <= 0 {
		return 0, fmt.Errorf("tempo: invalid sample rate %d", d.SampleRate)
	}
	span := float64(peaks[len(peaks)-1]-peaks[0]) / float64(d.SampleRate)
	mean := span / float64(len(peaks)-1)
	if mean <= 0 {
		return 0, ErrNotEnoughPeaks
	}
	return 60 / mean, nil
}

// Estimate detects peaks in signal and returns the clamped tempo.
func (d *Detector) Estimate(signal []float64) (int, error) {
	bpm, err := d.BPMFromPeaks(d.DetectPeaks(signal))
	if err != nil {
		return 0, err
	}
	v := int(math.Round(bpm))
	if d.Clamp != nil {
		v = d.Clamp(v)
	}
	return v, nil
}

// Recording is a mono buffer of normalised samples.
type Recording struct {
	Samples    []float64
	SampleRate int
}

// Duration returns the length of the recording.
func (r Recording) Duration() time.Duration {
	if r.SampleRate <= 0 {
		return 0
	}
	return time.Duration(float64(len(r.Samples)) / float64(r.SampleRate) * float64(time.Second))
}

// Source produces a fixed-duration recording to estimate from.
type Source interface {
	Record(ctx context.Context, d time.Duration) (Recording, error)
}

// DetectFrom records d worth of audio from src and estimates its tempo.
// The detector adopts the recording's sample rate.
func DetectFrom(ctx context.Context, det *Detector, src Source, d time.Duration) (int, error) {
	rec, err := src.Record(ctx, d)
	if err != nil {
		return 0, fmt.Errorf("record: %w", err)
	}
	est := *det
	est.SampleRate = rec.SampleRate
	bpm, err := est.Estimate(rec.Samples)
	if err != nil {
		return 0, fmt.Errorf("estimate from %v of audio: %w", rec.Duration().Round(time.Millisecond), err)
	}
	return bpm, nil
}
