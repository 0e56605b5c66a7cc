package audio

import (
	"encoding/binary"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-audio/wav"

	"github.com/satindergrewal/clicktrack/internal/beat"
)

// DecodeFile runs FFmpeg to decode an audio file to raw PCM int16 samples.
// Returns interleaved stereo samples at 48kHz.
func DecodeFile(path string) (Sound, error) {
	cmd := exec.Command("ffmpeg",
		"-i", path,
		"-f", "s16le",
		"-acodec", "pcm_s16le",
		"-ar", strconv.Itoa(SampleRate),
		"-ac", strconv.Itoa(Channels),
		"-loglevel", "error",
		"pipe:1",
	)

	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg decode %s: %w", path, err)
	}

	// Ensure even byte count for int16 alignment
	if len(out)%2 != 0 {
		out = out[:len(out)-1]
	}

	samples := make(Sound, len(out)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(out[i*2 : i*2+2]))
	}

	return samples, nil
}

// SamplesToBytes converts int16 samples to little-endian bytes.
func SamplesToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

// LoadSound reads a click sound. 16-bit WAV files at SampleRate are decoded
// in process; anything else goes through ffmpeg.
func LoadSound(path string) (Sound, error) {
	if strings.EqualFold(filepath.Ext(path), ".wav") {
		s, ok, err := decodeWAV(path)
		if err != nil {
			return nil, err
		}
		if ok {
			return s, nil
		}
	}
	return DecodeFile(path)
}

// decodeWAV returns ok=false when the file needs resampling or a bit depth
// conversion that ffmpeg should handle.
func decodeWAV(path string) (Sound, bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, false, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, false, fmt.Errorf("%s is not a valid wav file", path)
	}
	if int(dec.SampleRate) != SampleRate || dec.BitDepth != BitDepth {
		return nil, false, nil
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, false, fmt.Errorf("decode %s: %w", path, err)
	}

	channels := max(1, buf.Format.NumChannels)
	frames := len(buf.Data) / channels
	out := make(Sound, frames*Channels)
	for i := 0; i < frames; i++ {
		for c := 0; c < Channels; c++ {
			src := min(c, channels-1) // mono is duplicated, extra channels dropped
			out[i*Channels+c] = int16(buf.Data[i*channels+src])
		}
	}
	return out, true, nil
}

// LoadKit builds a kit from per-role sound files. Roles without a path keep
// the synthesised click.
func LoadKit(paths map[beat.Role]string) (Kit, error) {
	kit := SynthKit()
	for role, path := range paths {
		if path == "" {
			continue
		}
		s, err := LoadSound(path)
		if err != nil {
			return nil, fmt.Errorf("load %s sound: %w", role, err)
		}
		kit[role] = s
	}
	return kit, nil
}
