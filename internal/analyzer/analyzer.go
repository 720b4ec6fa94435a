package analyzer

import (
	"context"
	"encoding/json"
)

const (
	// CaptionInstruction asks the vision model for a detailed description.
	CaptionInstruction = "<DETAILED_CAPTION>"

	DefaultMIMEType = "image/jpeg"
)

// Analyzer turns raw image bytes into an opaque inference result.
type Analyzer interface {
	Analyze(ctx context.Context, image []byte) (json.RawMessage, error)
}
