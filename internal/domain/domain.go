package domain

import (
	"encoding/json"
	"time"
)

type Stage string

const (
	StageFetch   Stage = "fetch"
	StageAnalyze Stage = "analyze"
	StageSubmit  Stage = "submit"
	StageDone    Stage = "done"
)

// Run is the report of a single fetch → analyze → submit execution.
type Run struct {
	Target     string
	Stage      Stage
	ImageSize  int
	MIMEType   string
	Analysis   json.RawMessage
	Caption    string
	Submission json.RawMessage
	Err        string
	StartedAt  time.Time
	FinishedAt time.Time
}

func (r *Run) Succeeded() bool {
	return r.Stage == StageDone && r.Err == ""
}

func (r *Run) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}

	return r.FinishedAt.Sub(r.StartedAt)
}
