// Package control drives a running beat scheduler from line-oriented
// console commands.
package control

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/pion/logging"

	"github.com/satindergrewal/clicktrack/internal/beat"
	"github.com/satindergrewal/clicktrack/internal/tempo"
)

// ErrUnknownCommand is returned by Execute for input it does not recognise.
var ErrUnknownCommand = errors.New("unknown command")

// Metronome is the part of the scheduler the console drives.
type Metronome interface {
	SetTempo(bpm int) int
	SetSubdivisions(n int) int
	SetSwing(v float64) float64
	SetVolume(v float64) float64
	Pause(paused bool)
	Paused() bool
	ResetToFirst()
	ToggleAccent(i int) bool
	ToggleOff(i int) bool
	ToggleFirst(i int) bool
	Accelerate() int
	SetTraining(t beat.Training) beat.Training
	Training() beat.Training
	Status() beat.Status
}

// Controller interprets console commands against a Metronome.
type Controller struct {
	m         Metronome
	tapper    *tempo.Tapper
	det       *tempo.Detector
	open      func(path string) tempo.Source
	detectFor time.Duration
	out       io.Writer
	log       logging.LeveledLogger
	now       func() time.Time
}

// Options configures a Controller. Zero values pick working defaults.
type Options struct {
	Tapper    *tempo.Tapper
	Detector  *tempo.Detector
	Open      func(path string) tempo.Source // recording for "detect PATH"
	DetectFor time.Duration                  // default recording length
	Out       io.Writer
	Logger    logging.LeveledLogger
	Now       func() time.Time
}

// New creates a controller for m.
func New(m Metronome, opts Options) *Controller {
	c := &Controller{
		m:         m,
		tapper:    opts.Tapper,
		det:       opts.Detector,
		open:      opts.Open,
		detectFor: opts.DetectFor,
		out:       opts.Out,
		log:       opts.Logger,
		now:       opts.Now,
	}
	if c.tapper == nil {
		c.tapper = tempo.NewTapper(0, 0, nil)
	}
	if c.det == nil {
		c.det = tempo.NewDetector(0, nil)
	}
	if c.open == nil {
		c.open = func(path string) tempo.Source { return tempo.WAVSource{Path: path} }
	}
	if c.detectFor <= 0 {
		c.detectFor = 10 * time.Second
	}
	if c.out == nil {
		c.out = io.Discard
	}
	if c.log == nil {
		c.log = logging.NewDefaultLoggerFactory().NewLogger("control")
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c
}

// Run reads commands from r until "q" or ctx cancellation, which return
// nil. When r ends without a quit command Run returns io.EOF.
func (c *Controller) Run(ctx context.Context, r io.Reader) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- sc.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-readErr:
					if err != nil {
						return fmt.Errorf("read commands: %w", err)
					}
					return io.EOF
				default:
				}
				return nil
			}
			quit, err := c.Execute(ctx, line)
			if err != nil {
				fmt.Fprintf(c.out, "error: %v\n", err)
				continue
			}
			if quit {
				return nil
			}
		}
	}
}

// Execute runs a single command line. quit is true for "q".
func (c *Controller) Execute(ctx context.Context, line string) (quit bool, err error) {
	// A bare space toggles pause, like the space bar.
	if line != "" && strings.TrimSpace(line) == "" {
		c.togglePause()
		return false, nil
	}
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false, nil
	}
	cmd, args := strings.ToLower(fields[0]), fields[1:]

	switch cmd {
	case "q", "quit":
		return true, nil
	case "p", "space", "pause":
		c.togglePause()
	case "t", "tap":
		c.tap()
	case "1", "2", "3", "4", "5", "6", "7", "8", "9":
		n, _ := strconv.Atoi(cmd)
		got := c.m.SetSubdivisions(n)
		fmt.Fprintf(c.out, "subdivisions %d\n", got)
	case "a", "accent", "o", "off", "f", "first":
		n, err := intArg(cmd, args)
		if err != nil {
			return false, err
		}
		if !c.toggleBeat(cmd, n) {
			return false, nil
		}
		c.printStatus()
	case "bpm", "tempo":
		n, err := intArg(cmd, args)
		if err != nil {
			return false, err
		}
		fmt.Fprintf(c.out, "tempo %d\n", c.m.SetTempo(n))
	case "swing":
		v, err := floatArg(cmd, args)
		if err != nil {
			return false, err
		}
		fmt.Fprintf(c.out, "swing %.2f\n", c.m.SetSwing(v))
	case "vol", "volume":
		v, err := floatArg(cmd, args)
		if err != nil {
			return false, err
		}
		fmt.Fprintf(c.out, "volume %.2f\n", c.m.SetVolume(v))
	case "accel":
		fmt.Fprintf(c.out, "tempo %d\n", c.m.Accelerate())
	case "train":
		return false, c.train(args)
	case "speed":
		return false, c.speed(args)
	case "detect":
		return false, c.detect(ctx, args)
	case "status", "s":
		c.printStatus()
	default:
		return false, fmt.Errorf("%w: %q", ErrUnknownCommand, cmd)
	}
	return false, nil
}

// togglePause resumes from the first beat of the measure.
func (c *Controller) togglePause() {
	if c.m.Paused() {
		c.m.Pause(false)
		c.m.ResetToFirst()
		fmt.Fprintln(c.out, "running")
		return
	}
	c.m.Pause(true)
	fmt.Fprintln(c.out, "paused")
}

// toggleBeat flips the accent, off or first mark of a beat. Beats are
// numbered from 1 on the console.
func (c *Controller) toggleBeat(cmd string, n int) bool {
	var ok bool
	var what string
	switch cmd {
	case "a", "accent":
		ok, what = c.m.ToggleAccent(n-1), "accented"
	case "o", "off":
		ok, what = c.m.ToggleOff(n-1), "switched off"
	default:
		ok, what = c.m.ToggleFirst(n-1), "marked first"
	}
	if !ok {
		fmt.Fprintf(c.out, "beat %d cannot be %s\n", n, what)
	}
	return ok
}

// train switches the silence trainer:
//
//	train off
//	train fixed [PLAY MUTE]
//	train random [PROBABILITY]
func (c *Controller) train(args []string) error {
	if len(args) == 0 {
		return errors.New("train: expected off, fixed or random")
	}
	t := c.m.Training()
	switch strings.ToLower(args[0]) {
	case "off":
		if len(args) != 1 {
			return errors.New("train off: unexpected arguments")
		}
		t.Silence = beat.SilenceOff
	case "fixed":
		switch len(args) {
		case 1:
		case 3:
			play, err1 := strconv.Atoi(args[1])
			mute, err2 := strconv.Atoi(args[2])
			if err1 != nil || err2 != nil || play < 1 || mute < 1 {
				return fmt.Errorf("train fixed: invalid measures %q %q", args[1], args[2])
			}
			t.PlayMeasures, t.MuteMeasures = play, mute
		default:
			return errors.New("train fixed: expected PLAY and MUTE measures")
		}
		t.Silence = beat.SilenceFixed
	case "random":
		switch len(args) {
		case 1:
		case 2:
			p, err := strconv.ParseFloat(args[1], 64)
			if err != nil || p <= 0 || p > 1 {
				return fmt.Errorf("train random: invalid probability %q", args[1])
			}
			t.MuteProbability = p
		default:
			return errors.New("train random: expected one probability")
		}
		t.Silence = beat.SilenceRandom
	default:
		return fmt.Errorf("train: unknown mode %q", args[0])
	}
	t = c.m.SetTraining(t)
	fmt.Fprintf(c.out, "silence %s\n", describeSilence(t))
	return nil
}

// speed switches the speed trainer:
//
//	speed off
//	speed [MEASURES PERCENT [CAP]]
func (c *Controller) speed(args []string) error {
	t := c.m.Training()
	switch {
	case len(args) == 1 && strings.ToLower(args[0]) == "off":
		t.SpeedUp = false
	case len(args) == 0:
		t.SpeedUp = true
	case len(args) == 2 || len(args) == 3:
		measures, err := strconv.Atoi(args[0])
		if err != nil || measures < 1 {
			return fmt.Errorf("speed: invalid measures %q", args[0])
		}
		pct, err := strconv.ParseFloat(args[1], 64)
		if err != nil || pct <= 0 {
			return fmt.Errorf("speed: invalid percent %q", args[1])
		}
		t.SpeedUp, t.SpeedUpMeasures, t.SpeedUpPercent = true, measures, pct
		if len(args) == 3 {
			limit, err := strconv.Atoi(args[2])
			if err != nil || limit < 1 {
				return fmt.Errorf("speed: invalid cap %q", args[2])
			}
			t.TempoCap = limit
		}
	default:
		return errors.New("speed: expected off or MEASURES PERCENT [CAP]")
	}
	t = c.m.SetTraining(t)
	fmt.Fprintf(c.out, "speed %s\n", describeSpeed(t))
	return nil
}

func describeSilence(t beat.Training) string {
	switch t.Silence {
	case beat.SilenceFixed:
		return fmt.Sprintf("fixed, play %d mute %d", t.PlayMeasures, t.MuteMeasures)
	case beat.SilenceRandom:
		return fmt.Sprintf("random, p %.2f", t.MuteProbability)
	default:
		return t.Silence.String()
	}
}

func describeSpeed(t beat.Training) string {
	if !t.SpeedUp {
		return "off"
	}
	return fmt.Sprintf("+%g%% every %d measures up to %d bpm", t.SpeedUpPercent, t.SpeedUpMeasures, t.TempoCap)
}

func (c *Controller) tap() {
	bpm, ok := c.tapper.Tap(c.now())
	if !ok {
		fmt.Fprintln(c.out, "tap again")
		return
	}
	fmt.Fprintf(c.out, "tempo %d (%d taps)\n", c.m.SetTempo(bpm), c.tapper.Count())
}

// detect pauses the click while the recording is analysed so it cannot
// leak into the estimate. A running click resumes where it was.
func (c *Controller) detect(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errors.New("detect: missing recording path")
	}
	d := c.detectFor
	if len(args) > 1 {
		secs, err := strconv.ParseFloat(args[1], 64)
		if err != nil || secs <= 0 {
			return fmt.Errorf("detect: invalid duration %q", args[1])
		}
		d = time.Duration(secs * float64(time.Second))
	}

	wasPaused := c.m.Paused()
	c.m.Pause(true)
	defer func() {
		if !wasPaused {
			c.m.Pause(false)
		}
	}()

	bpm, err := tempo.DetectFrom(ctx, c.det, c.open(args[0]), d)
	if err != nil {
		c.log.Warnf("tempo detection on %s failed: %v", args[0], err)
		return fmt.Errorf("detect: %w", err)
	}
	got := c.m.SetTempo(bpm)
	c.log.Infof("detected %d bpm in %s", bpm, args[0])
	fmt.Fprintf(c.out, "tempo %d (detected)\n", got)
	return nil
}

func (c *Controller) printStatus() {
	st := c.m.Status()
	fmt.Fprintf(c.out, "%s %d bpm, %d subdivisions, swing %.2f, volume %.2f, beat %d, first %v, accent %v, off %v\n",
		st.State, st.Tempo, st.Subdivisions, st.Swing, st.Volume, st.Current+1,
		oneBased(st.Roles.First()), oneBased(st.Roles.Accent()), oneBased(st.Roles.Off()))

	t := c.m.Training()
	if t.Silence == beat.SilenceOff && !t.SpeedUp {
		return
	}
	phase := "playing"
	if st.Training.Silent {
		phase = "silent"
	}
	fmt.Fprintf(c.out, "training: silence %s (%s), speed %s, measure %d\n",
		describeSilence(t), phase, describeSpeed(t), st.Training.Measures)
}

func oneBased(idx []int) []int {
	out := make([]int, len(idx))
	for i, v := range idx {
		out[i] = v + 1
	}
	return out
}

func intArg(cmd string, args []string) (int, error) {
	if len(args) != 1 {
		return 0, fmt.Errorf("%s: expected one number", cmd)
	}
	n, err := strconv.Atoi(args[0])
	if err != nil {
		return 0, fmt.Errorf("%s: %w", cmd, err)
	}
	return n, nil
}

func floatArg(cmd string, args []string) (float64, error) {
	if len(args) != 1 {
		return 0, fmt.Errorf("%s: expected one number", cmd)
	}
	v, err := strconv.ParseFloat(args[0], 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", cmd, err)
	}
	return v, nil
}
