package audio

import (
	"bytes"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/hajimehoshi/oto/v2"
	"github.com/pion/logging"

	"github.com/satindergrewal/clicktrack/internal/beat"
)

// maxVoices caps overlapping clicks; beyond it new clicks are dropped to
// avoid piling up players on a slow device.
const maxVoices = 8

// Player is a beat sink that plays clicks on the local audio device.
type Player struct {
	ctx    *oto.Context
	ready  chan struct{}
	clicks map[beat.Role][]byte
	kit    Kit
	log    logging.LeveledLogger
	volume atomic.Uint64 // math.Float64bits
	active atomic.Int32
}

// NewPlayer opens the default output device.
func NewPlayer(kit Kit, logger logging.LeveledLogger) (*Player, error) {
	ctx, ready, err := oto.NewContext(SampleRate, Channels, oto.FormatSignedInt16LE)
	if err != nil {
		return nil, fmt.Errorf("open audio device: %w", err)
	}
	p := &Player{
		ctx:    ctx,
		ready:  ready,
		clicks: make(map[beat.Role][]byte, len(kit)),
		kit:    kit,
		log:    logger,
	}
	for role, s := range kit {
		p.clicks[role] = SamplesToBytes(s)
	}
	p.SetVolume(1)
	return p, nil
}

// Play starts the click for b and returns immediately.
func (p *Player) Play(b beat.Beat) {
	select {
	case <-p.ready:
	default:
		return
	}
	if len(p.kit.For(b)) == 0 {
		return
	}
	if p.active.Load() >= maxVoices {
		p.log.Debugf("dropping %s click: %d clicks still playing", b.Role, maxVoices)
		return
	}
	p.active.Add(1)

	data := p.clicks[b.Role]
	vol := p.Volume()
	go func() {
		defer p.active.Add(-1)
		player := p.ctx.NewPlayer(bytes.NewReader(data))
		player.SetVolume(vol)
		player.Play()
		for player.IsPlaying() {
			time.Sleep(10 * time.Millisecond)
		}
		if err := player.Close(); err != nil {
			p.log.Warnf("close player: %v", err)
		}
	}()
}

// SetVolume sets the gain for clicks started from now on.
func (p *Player) SetVolume(v float64) {
	p.volume.Store(math.Float64bits(min(max(v, 0), 1)))
}

// Volume returns the current gain.
func (p *Player) Volume() float64 {
	return math.Float64frombits(p.volume.Load())
}

// Close suspends the device. Clicks still playing are cut off.
func (p *Player) Close() error {
	return p.ctx.Suspend()
}
