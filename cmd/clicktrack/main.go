package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/pion/logging"

	"github.com/satindergrewal/clicktrack/internal/audio"
	"github.com/satindergrewal/clicktrack/internal/beat"
	"github.com/satindergrewal/clicktrack/internal/config"
	"github.com/satindergrewal/clicktrack/internal/control"
	"github.com/satindergrewal/clicktrack/internal/stream"
	"github.com/satindergrewal/clicktrack/internal/tempo"
)

func main() {
	cfg := config.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	loggers := logging.NewDefaultLoggerFactory()
	loggers.DefaultLogLevel = cfg.Level()

	log.Println("clicktrack starting up...")

	kit, err := audio.LoadKit(cfg.Sounds())
	if err != nil {
		log.Fatalf("Click sounds: %v", err)
	}

	var sinks beat.Sinks

	// Local speaker
	if cfg.LocalAudio {
		player, err := audio.NewPlayer(kit, loggers.NewLogger("audio"))
		if err != nil {
			log.Printf("Local audio unavailable: %v", err)
		} else {
			defer player.Close()
			sinks = append(sinks, player)
		}
	} else {
		log.Println("Local audio disabled (CLICK_LOCAL_AUDIO=false)")
	}

	// Click-track streaming
	var server *http.Server
	if cfg.Port > 0 {
		renderer := audio.NewRenderer(kit, loggers.NewLogger("audio"))
		go renderer.Run(ctx)
		sinks = append(sinks, renderer)

		broadcaster := stream.NewBroadcaster(loggers.NewLogger("stream"))
		go broadcaster.Run(ctx, renderer.Frames())

		webrtcHandler := stream.NewWebRTCHandler(broadcaster, loggers)
		defer webrtcHandler.Close()

		mux := http.NewServeMux()
		mux.Handle("/stream", stream.NewHTTPHandler(broadcaster, loggers.NewLogger("stream")))
		mux.Handle("/offer", webrtcHandler)

		server = &http.Server{Addr: fmt.Sprintf(":%d", cfg.Port), Handler: mux}
		go func() {
			log.Printf("Click track streaming on %s", server.Addr)
			if err := server.ListenAndServe(); err != http.ErrServerClosed {
				log.Printf("HTTP server error: %v", err)
				cancel()
			}
		}()
	}

	if len(sinks) == 0 {
		log.Println("No audio output, beats are only counted")
	}

	limits := cfg.Limits()
	sched := beat.New(beat.Config{
		Limits:       limits,
		Tempo:        cfg.Tempo,
		Subdivisions: cfg.Subdivisions,
		Swing:        cfg.Swing,
		Volume:       cfg.Volume,
		Training:     cfg.Training(),
		Logger:       loggers.NewLogger("beat"),
		OnRolesReset: func(n int) {
			log.Printf("Accents cleared for %d subdivisions", n)
		},
	}, sinks)

	if err := sched.Start(ctx); err != nil {
		log.Fatalf("Scheduler: %v", err)
	}
	sched.Pause(false)
	sched.ResetToFirst()

	det := tempo.NewDetector(0, limits.ClampTempo)
	det.Threshold = cfg.DetectThreshold
	det.MinDistance = cfg.DetectMinDistance

	ctrl := control.New(sched, control.Options{
		Tapper:    tempo.NewTapper(cfg.TapReset, cfg.TapWindow, limits.ClampTempo),
		Detector:  det,
		DetectFor: cfg.DetectDuration,
		Out:       os.Stdout,
		Logger:    loggers.NewLogger("control"),
	})

	st := sched.Status()
	log.Printf("clicktrack running at %d bpm, %d subdivisions (type q to quit)", st.Tempo, st.Subdivisions)

	if err := ctrl.Run(ctx, os.Stdin); errors.Is(err, io.EOF) {
		log.Println("Console closed, running until interrupted")
		<-ctx.Done()
	} else if err != nil {
		log.Printf("Console: %v", err)
	}

	log.Println("Shutting down...")
	cancel()
	sched.Stop()
	if server != nil {
		server.Close()
	}
}
