// Package convert turns binary documents into plain text, either locally or
// through an external conversion service.
package convert

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Item is one named binary blob submitted for conversion.
type Item struct {
	Name string
	Data []byte
}

// Result carries the outcome for one item: the extracted text, or the error
// that prevented it. A failed item never fails its batch.
type Result struct {
	Text string
	Err  error
}

// Converter converts a batch of named binary documents into plain text. The
// returned slice is index aligned with items.
type Converter interface {
	Convert(ctx context.Context, items []Item) ([]Result, error)
}

// Config selects the conversion backend.
type Config struct {
	Mode    string
	BaseURL string
	Timeout time.Duration
}

// New builds the Converter named by cfg.Mode.
func New(cfg Config) (Converter, error) {
	switch cfg.Mode {
	case "", "builtin":
		return NewBuiltinConverter(), nil
	case "http":
		if cfg.BaseURL == "" {
			return nil, errors.New("conversion service url required in http mode")
		}
		return NewHTTPConverter(cfg.BaseURL, cfg.Timeout), nil
	default:
		return nil, fmt.Errorf("unknown conversion mode %q", cfg.Mode)
	}
}
