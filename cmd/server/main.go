package main

import (
	"net/http"

	"github.com/sirupsen/logrus"

	"aloud/internal/config"
	"aloud/internal/pipeline"
	"aloud/internal/playback"
)

func main() {
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg := config.Load()

	scheduler, err := playback.NewScheduler(cfg.SampleRate)
	if err != nil {
		logrus.Fatalf("audio output unavailable: %v", err)
	}
	defer scheduler.Close()

	client := pipeline.NewClient(cfg.PipelineBaseURL)

	hub := newHub()
	transport := playback.New(scheduler, playback.Options{
		Listener:  hub,
		Generator: client,
		Fetcher:   client,
		Format:    scheduler.Format(),
		Lookahead: cfg.Lookahead,
		Speed:     cfg.Speed,
		Volume:    cfg.Volume,
	})
	defer transport.Close()

	reporter := playback.NewReporter(transport, hub, cfg.TickInterval)
	reporter.Start()
	defer reporter.Stop()

	srv := &server{
		cfg:       cfg,
		hub:       hub,
		transport: transport,
		pipeline:  client,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", srv.handleHealth)
	mux.HandleFunc("/ws", srv.handleWS)

	logrus.Infof("control server listening on %s", cfg.HTTPAddress)
	if err := http.ListenAndServe(cfg.HTTPAddress, mux); err != nil {
		logrus.Fatal(err)
	}
}
