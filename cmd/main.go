package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"visionscraper/internal/analyzer"
	"visionscraper/internal/config"
	"visionscraper/internal/database"
	"visionscraper/internal/fetcher"
	"visionscraper/internal/notifier"
	"visionscraper/internal/pipeline"
	"visionscraper/internal/scheduler"
	"visionscraper/internal/submitter"
)

func main() {
	if !run() {
		os.Exit(1)
	}
}

func run() bool {
	level := new(slog.LevelVar)
	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(log)

	start := time.Now()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var targetArg string
	if len(os.Args) > 1 {
		targetArg = os.Args[1]
	}

	cfg, err := config.Load(targetArg)
	if err != nil {
		log.ErrorContext(ctx, "Failed to load config",
			"error", err)

		return false
	}
	level.Set(cfg.LogLevel)

	scraper, err := initScraper(cfg, log)
	if err != nil {
		log.ErrorContext(ctx, "Failed to initialize scraper",
			"error", err,
			"target", cfg.TargetURL,
			"baseURL", cfg.BaseURL)

		return false
	}
	log.InfoContext(ctx, "Scraper is initialized",
		"target", scraper.Target(),
		"baseURL", cfg.BaseURL,
		"model", cfg.Model,
		"detectImageMIME", cfg.DetectImageMIME)

	opts := scheduler.Options{
		Spec:       cfg.Schedule,
		RunTimeout: cfg.RunTimeout,
	}

	if cfg.JournalEnabled() {
		db, dbErr := database.New(ctx, cfg.DBPath, log)
		if dbErr != nil {
			log.ErrorContext(ctx, "Failed to initialize db",
				"error", dbErr,
				"dbPath", cfg.DBPath)

			return false
		}
		defer func() {
			if err = db.Close(); err != nil {
				log.ErrorContext(ctx, "Failed to close db",
					"error", err,
					"dbPath", cfg.DBPath)
			}
		}()

		logLastRun(ctx, db, log)
		opts.Recorder = db
	}

	if n := initNotifier(ctx, cfg, log); n != nil {
		opts.Notifier = n
	}

	sched := scheduler.New(ctx, scraper, opts, log)

	if cfg.Schedule == "" {
		report, runErr := sched.RunOnce(ctx)
		if runErr != nil {
			log.ErrorContext(ctx, "Critical error",
				"error", runErr,
				"target", cfg.TargetURL,
				"uptimeSeconds", time.Since(start).Seconds())

			return false
		}

		log.InfoContext(ctx, "Process is finished",
			"target", report.Target,
			"caption", report.Caption,
			"submission", string(report.Submission),
			"uptimeSeconds", time.Since(start).Seconds())

		return true
	}

	if err = sched.Start(); err != nil {
		log.ErrorContext(ctx, "Failed to start scheduler",
			"error", err,
			"spec", cfg.Schedule,
			"timezone", scheduler.Timezone)

		return false
	}
	log.InfoContext(ctx, "Scheduler is started",
		"spec", cfg.Schedule,
		"timezone", scheduler.Timezone,
		"runTimeout", cfg.RunTimeout.String())

	<-ctx.Done()
	log.InfoContext(ctx, "Shutdown signal is received",
		"uptimeSeconds", time.Since(start).Seconds())

	sched.Stop()
	log.InfoContext(ctx, "Scheduler is stopped",
		"uptimeSeconds", time.Since(start).Seconds())

	return true
}

func initScraper(cfg config.Config, log *slog.Logger) (*pipeline.Scraper, error) {
	f := fetcher.New(cfg.HTTPTimeout, cfg.MaxImageBytes, log)

	a, err := analyzer.NewOpenAIAnalyzer(analyzer.OpenAIConfig{
		APIToken:   cfg.APIToken,
		BaseURL:    cfg.BaseURL,
		Model:      cfg.Model,
		DetectMIME: cfg.DetectImageMIME,
		Timeout:    cfg.HTTPTimeout,
	}, log)
	if err != nil {
		return nil, err
	}

	s, err := submitter.New(submitter.Config{
		APIToken: cfg.APIToken,
		BaseURL:  cfg.BaseURL,
		Timeout:  cfg.HTTPTimeout,
	}, log)
	if err != nil {
		return nil, err
	}

	return pipeline.New(cfg.TargetURL, f, a, s, log)
}

func initNotifier(ctx context.Context, cfg config.Config, log *slog.Logger) *notifier.Telegram {
	if !cfg.NotifierEnabled() {
		log.DebugContext(ctx, "TELEGRAM_TOKEN is missing so notifications are disabled",
			"envVar", "TELEGRAM_TOKEN")

		return nil
	}

	n, err := notifier.NewTelegram(cfg.TelegramToken, cfg.TelegramChatID, log)
	if err != nil {
		log.ErrorContext(ctx, "Failed to create Telegram notifier so notifications are disabled",
			"error", err,
			"chatID", cfg.TelegramChatID)

		return nil
	}

	log.InfoContext(ctx, "Telegram notifier is initialized",
		"chatID", cfg.TelegramChatID)

	return n
}

func logLastRun(ctx context.Context, db *database.Database, log *slog.Logger) {
	last, err := db.LastRun(ctx)
	if err != nil {
		log.WarnContext(ctx, "Failed to read last run",
			"error", err)

		return
	}

	if last == nil {
		log.InfoContext(ctx, "Run journal is empty")

		return
	}

	log.InfoContext(ctx, "Last journaled run",
		"target", last.Target,
		"stage", last.Stage,
		"succeeded", last.Succeeded(),
		"startedAt", last.StartedAt)
}
