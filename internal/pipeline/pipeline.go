package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"visionscraper/internal/domain"

	"github.com/tidwall/gjson"
)

const maxCaptionRunes = 512

//nolint:gochecknoglobals // Immutable lookup order.
var captionPaths = []string{
	"choices.0.message.content",
	"choices.0.text",
	"caption",
}

type Fetcher interface {
	Fetch(ctx context.Context, target string) ([]byte, error)
}

type Analyzer interface {
	Analyze(ctx context.Context, image []byte) (json.RawMessage, error)
}

// MIMELabeler is implemented by analyzers that can tell which MIME type an
// image is sent under.
type MIMELabeler interface {
	MIMEType(image []byte) string
}

type Submitter interface {
	Submit(ctx context.Context, result json.RawMessage) (json.RawMessage, error)
}

// Scraper runs fetch → analyze → submit for a single target page.
type Scraper struct {
	target    string
	fetcher   Fetcher
	analyzer  Analyzer
	submitter Submitter
	now       func() time.Time
	log       *slog.Logger
}

func New(
	target string,
	fetcher Fetcher,
	analyzer Analyzer,
	submitter Submitter,
	log *slog.Logger,
) (*Scraper, error) {
	target = strings.TrimSpace(target)
	if target == "" {
		return nil, errors.New("target is empty")
	}

	if fetcher == nil || analyzer == nil || submitter == nil {
		return nil, errors.New("fetcher, analyzer and submitter are required")
	}

	return &Scraper{
		target:    target,
		fetcher:   fetcher,
		analyzer:  analyzer,
		submitter: submitter,
		now:       time.Now,
		log:       log,
	}, nil
}

func (s *Scraper) Target() string {
	return s.target
}

// Run executes the stages in order and stops at the first failure. The
// returned Run is never nil; on failure its Stage names the stage that failed.
func (s *Scraper) Run(ctx context.Context) (*domain.Run, error) {
	run := &domain.Run{
		Target:    s.target,
		Stage:     domain.StageFetch,
		StartedAt: s.now().UTC(),
	}

	err := s.run(ctx, run)

	run.FinishedAt = s.now().UTC()
	if err != nil {
		run.Err = err.Error()

		return run, fmt.Errorf("%s stage: %w", run.Stage, err)
	}

	run.Stage = domain.StageDone

	s.log.InfoContext(ctx, "Pipeline is finished",
		"target", s.target,
		"caption", run.Caption,
		"durationSeconds", run.Duration().Seconds())

	return run, nil
}

func (s *Scraper) run(ctx context.Context, run *domain.Run) error {
	image, err := s.fetcher.Fetch(ctx, s.target)
	if err != nil {
		return err
	}

	run.ImageSize = len(image)
	if len(image) == 0 {
		return domain.ErrEmptyImage
	}

	run.Stage = domain.StageAnalyze

	if labeler, ok := s.analyzer.(MIMELabeler); ok {
		run.MIMEType = labeler.MIMEType(image)
	}

	analysis, err := s.analyzer.Analyze(ctx, image)
	if err != nil {
		return err
	}

	run.Analysis = analysis
	run.Caption = Caption(analysis)

	s.log.InfoContext(ctx, "Analysis is complete",
		"target", s.target,
		"caption", run.Caption,
		"analysis", string(analysis))

	run.Stage = domain.StageSubmit

	submission, err := s.submitter.Submit(ctx, analysis)
	if err != nil {
		return err
	}

	run.Submission = submission

	s.log.InfoContext(ctx, "Submission is accepted",
		"target", s.target,
		"submission", string(submission))

	return nil
}

// Caption picks a human-readable caption out of an inference result for
// display purposes. It returns an empty string when none is found.
func Caption(result json.RawMessage) string {
	if !gjson.ValidBytes(result) {
		return ""
	}

	for _, path := range captionPaths {
		v := gjson.GetBytes(result, path)
		if v.Type != gjson.String {
			continue
		}

		caption := strings.Join(strings.Fields(v.String()), " ")
		if caption == "" {
			continue
		}

		if runes := []rune(caption); len(runes) > maxCaptionRunes {
			caption = string(runes[:maxCaptionRunes]) + "…"
		}

		return caption
	}

	return ""
}
