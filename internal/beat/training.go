package beat

import (
	"math"
	"math/rand/v2"
)

// SilenceMode selects how the training modes silence beats.
type SilenceMode int

const (
	SilenceOff    SilenceMode = iota
	SilenceFixed              // play some measures, then mute some
	SilenceRandom             // mute each beat with a fixed probability
)

func (m SilenceMode) String() string {
	switch m {
	case SilenceOff:
		return "off"
	case SilenceFixed:
		return "fixed"
	case SilenceRandom:
		return "random"
	default:
		return "unknown"
	}
}

// DefaultTrainingTempoCap is the highest tempo the speed trainer reaches.
const DefaultTrainingTempoCap = 240

// Training configures the silence and speed trainers. Both are off in the
// zero value; zero counts, percentages and caps take DefaultTraining values.
type Training struct {
	Silence         SilenceMode
	PlayMeasures    int     // fixed: audible measures before a silent phase
	MuteMeasures    int     // fixed: measures in a silent phase
	MuteProbability float64 // random: chance that a beat is muted

	SpeedUp         bool
	SpeedUpMeasures int     // measures between tempo increases
	SpeedUpPercent  float64 // tempo increase per step
	TempoCap        int     // highest tempo the trainer reaches

	// Rand returns a value in [0,1) for random silence. Nil uses
	// math/rand/v2.
	Rand func() float64
}

// DefaultTraining returns the trainer settings used when a mode is switched
// on without explicit values.
func DefaultTraining() Training {
	return Training{
		PlayMeasures:    2,
		MuteMeasures:    1,
		MuteProbability: 0.3,
		SpeedUpMeasures: 2,
		SpeedUpPercent:  5,
		TempoCap:        DefaultTrainingTempoCap,
		Rand:            rand.Float64,
	}
}

func (t Training) normalized() Training {
	def := DefaultTraining()
	if t.PlayMeasures <= 0 {
		t.PlayMeasures = def.PlayMeasures
	}
	if t.MuteMeasures <= 0 {
		t.MuteMeasures = def.MuteMeasures
	}
	if t.MuteProbability <= 0 {
		t.MuteProbability = def.MuteProbability
	}
	t.MuteProbability = min(t.MuteProbability, 1)
	if t.SpeedUpMeasures <= 0 {
		t.SpeedUpMeasures = def.SpeedUpMeasures
	}
	if t.SpeedUpPercent <= 0 {
		t.SpeedUpPercent = def.SpeedUpPercent
	}
	if t.TempoCap <= 0 {
		t.TempoCap = def.TempoCap
	}
	if t.Rand == nil {
		t.Rand = def.Rand
	}
	return t
}

// Accelerated returns tempo raised by SpeedUpPercent and capped at
// TempoCap. It never lowers a tempo already above the cap.
func (t Training) Accelerated(tempo int) int {
	t = t.normalized()
	next := int(math.Round(float64(tempo) * (1 + t.SpeedUpPercent/100)))
	return max(tempo, min(next, t.TempoCap))
}

// TrainingStatus is the trainer's progress, for display.
type TrainingStatus struct {
	Measures     int  // measures counted towards the next phase or step
	MuteMeasures int  // measures spent in the current silent phase
	Silent       bool // inside a fixed silent phase
}

// trainer tracks measure counts. It is part of the scheduler aggregate and
// is only touched with the scheduler lock held.
type trainer struct {
	cfg Training
	TrainingStatus
}

func (t *trainer) reset() {
	t.TrainingStatus = TrainingStatus{}
}

// measure runs at every measure boundary. It returns the tempo to switch
// to, or 0 to keep the current one.
func (t *trainer) measure(tempo int) int {
	t.Measures++

	if t.cfg.Silence == SilenceFixed {
		if !t.Silent {
			if t.Measures >= t.cfg.PlayMeasures {
				t.Silent = true
				t.MuteMeasures = 0
				t.Measures = 0
			}
		} else {
			t.MuteMeasures++
			if t.MuteMeasures >= t.cfg.MuteMeasures {
				t.Silent = false
				t.MuteMeasures = 0
				t.Measures = 0
			}
		}
	}

	if t.cfg.SpeedUp && !t.Silent && t.Measures >= t.cfg.SpeedUpMeasures {
		t.Measures = 0
		return t.cfg.Accelerated(tempo)
	}
	return 0
}

// muted reports whether the beat about to fire is silenced.
func (t *trainer) muted() bool {
	switch t.cfg.Silence {
	case SilenceFixed:
		return t.Silent
	case SilenceRandom:
		return t.cfg.Rand() < t.cfg.MuteProbability
	default:
		return false
	}
}
