package vision

import (
	"context"
	"fmt"
)

// Captioner turns image bytes into a caption. A nil caption with a nil error
// means the service answered but produced no caption.
type Captioner interface {
	Caption(ctx context.Context, image []byte) (*Caption, error)
}

type Caption struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// String formats the caption the way the web page shows it.
func (c Caption) String() string {
	return fmt.Sprintf("'%s', Confidence: %.4f", c.Text, c.Confidence)
}

type Metadata struct {
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Format string `json:"format,omitempty"`
}

type Description struct {
	Tags     []string  `json:"tags"`
	Captions []Caption `json:"captions"`
}

// Analysis holds either response shape: captionResult comes from Image
// Analysis 4.0, description from the v3.2 analyze API.
type Analysis struct {
	CaptionResult *Caption     `json:"captionResult,omitempty"`
	Description   *Description `json:"description,omitempty"`
	ModelVersion  string       `json:"modelVersion,omitempty"`
	RequestID     string       `json:"requestId,omitempty"`
	Metadata      *Metadata    `json:"metadata,omitempty"`
}

// Caption returns the first caption in the document, or nil.
func (a *Analysis) Caption() *Caption {
	if a == nil {
		return nil
	}
	if a.CaptionResult != nil {
		return a.CaptionResult
	}
	if a.Description != nil && len(a.Description.Captions) > 0 {
		return &a.Description.Captions[0]
	}
	return nil
}

// StatusError is returned when the service answers with anything but 200.
type StatusError struct {
	StatusCode int
	Body       []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("vision service returned status %d: %s", e.StatusCode, e.Body)
}
