package tempo

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/go-audio/wav"
)

// WAVSource reads a recording from a WAV file, standing in for a live
// capture device.
type WAVSource struct {
	Path string
}

// Record decodes the file, mixes it to mono and keeps at most d of audio.
// A non-positive d keeps the whole file.
func (w WAVSource) Record(ctx context.Context, d time.Duration) (Recording, error) {
	if err := ctx.Err(); err != nil {
		return Recording{}, err
	}
	f, err := os.Open(w.Path)
	if err != nil {
		return Recording{}, fmt.Errorf("open %s: %w", w.Path, err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return Recording{}, fmt.Errorf("%s is not a valid wav file", w.Path)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return Recording{}, fmt.Errorf("decode %s: %w", w.Path, err)
	}

	channels := max(1, buf.Format.NumChannels)
	rate := buf.Format.SampleRate
	scale := float64(int(1) << (max(1, buf.SourceBitDepth) - 1))

	frames := len(buf.Data) / channels
	if d > 0 {
		frames = min(frames, int(d.Seconds()*float64(rate)))
	}
	samples := make([]float64, frames)
	for i := range samples {
		var mix float64
		for c := 0; c < channels; c++ {
			mix += float64(buf.Data[i*channels+c])
		}
		samples[i] = mix / float64(channels) / scale
	}
	return Recording{Samples: samples, SampleRate: rate}, nil
}
