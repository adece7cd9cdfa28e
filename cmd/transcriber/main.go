package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/KetanKumavat/Ascend-sub000/internal/agent"
	"github.com/KetanKumavat/Ascend-sub000/internal/config"
	"github.com/KetanKumavat/Ascend-sub000/internal/highlight"
	"github.com/KetanKumavat/Ascend-sub000/internal/logging"
	"github.com/KetanKumavat/Ascend-sub000/internal/meeting"
	"github.com/KetanKumavat/Ascend-sub000/internal/room"
	"github.com/KetanKumavat/Ascend-sub000/internal/store"
	"github.com/KetanKumavat/Ascend-sub000/internal/version"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logging.Init("info")
		logging.Error(logging.CategoryApp, "failed to load configuration: %v", err)
		os.Exit(1)
	}

	// Initialize logging
	logging.Init(cfg.LogLevel)

	logging.Info(logging.CategoryApp, "starting transcriber version=%s meetingID=%s", version.Version, cfg.MeetingID)

	db, err := store.Open(cfg.DatabasePath)
	if err != nil {
		logging.Error(logging.CategoryApp, "failed to open store: %v", err)
		os.Exit(1)
	}

	coordinator := meeting.NewStatusCoordinator(cfg.MeetingID, db)
	saver := store.NewAutoSaver(db, cfg.MeetingID, cfg.AutoSaveInterval, cfg.AutoSaveRetryDelay)

	svc := room.NewLiveKitService(cfg.LiveKitURL, cfg.LiveKitAPIKey, cfg.LiveKitAPISecret, cfg.RoomName, cfg.AgentIdentity)
	session := room.NewSessionManager(svc, room.BackoffConfig{
		Initial:     cfg.BackoffInitial,
		Cap:         cfg.BackoffCap,
		MaxAttempts: cfg.ConnectMaxAttempts,
	})

	var generator highlight.Generator
	if cfg.OpenAIAPIKey != "" {
		generator = highlight.NewOpenAIGenerator(cfg.OpenAIAPIKey, "", cfg.HighlightTimeout)
	}

	a := agent.New(agent.Config{
		MeetingID:       cfg.MeetingID,
		SpeechURL:       cfg.SpeechWSURL,
		SpeechToken:     cfg.SpeechToken,
		SpeechLanguage:  cfg.SpeechLanguage,
		StopGracePeriod: cfg.StopGracePeriod,
	}, session, db, saver, coordinator, generator)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := a.Start(ctx); err != nil {
		logging.Error(logging.CategoryApp, "agent failed to start: %v", err)
		os.Exit(1)
	}

	// Wait for shutdown signal or meeting completion
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)

	completed := make(chan struct{})
	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for range ticker.C {
			if coordinator.Status() == meeting.StatusCompleted {
				close(completed)
				return
			}
		}
	}()

	select {
	case <-sigChan:
		logging.Info(logging.CategoryApp, "received shutdown signal, stopping agent")
	case <-completed:
		logging.Info(logging.CategoryApp, "meeting completed")
	}

	// Stop with a bounded wait so a stuck teardown cannot hang shutdown.
	done := make(chan struct{})
	go func() {
		a.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(cfg.StopGracePeriod * 3):
		logging.Warning(logging.CategoryApp, "shutdown timeout, exiting with teardown incomplete")
	}

	logging.Info(logging.CategoryApp, "transcriber shutdown complete")
}
