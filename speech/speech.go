package speech

import (
	"context"
	"fmt"

	"github.com/utterlabs/utter/fault"
)

// Format is the custom type for the requested audio container
type Format string

// Defining supported output formats
const (
	FormatMP3 Format = "mp3"
	FormatWAV Format = "wav"
	FormatOGG Format = "ogg"
)

// Engine is the custom type for the synthesis engine tier
type Engine string

// Defining supported engines. Neural voices may bill more characters
// than the raw input length.
const (
	EngineStandard Engine = "standard"
	EngineNeural   Engine = "neural"
)

var contentTypes = map[Format]string{
	FormatMP3: "audio/mpeg",
	FormatWAV: "audio/wav",
	FormatOGG: "audio/ogg",
}

// ParseFormat validates a requested format, defaulting to mp3 when empty
func ParseFormat(s string) (Format, error) {
	if s == "" {
		return FormatMP3, nil
	}
	f := Format(s)
	if _, ok := contentTypes[f]; !ok {
		return "", fault.New(fault.KindUnsupportedFormat, fmt.Sprintf("unsupported output format %q", s))
	}
	return f, nil
}

// ParseEngine validates a requested engine, defaulting to standard when empty
func ParseEngine(s string) (Engine, error) {
	switch s {
	case "":
		return EngineStandard, nil
	case string(EngineStandard):
		return EngineStandard, nil
	case string(EngineNeural):
		return EngineNeural, nil
	default:
		return "", fault.New(fault.KindUnsupportedEngine, fmt.Sprintf("unsupported engine %q", s))
	}
}

// ContentType returns the MIME type served for this format
func (f Format) ContentType() string {
	return contentTypes[f]
}

// Request describes one synthesis call to the provider
type Request struct {
	Text    string
	VoiceID string
	Format  Format
	Engine  Engine
}

// Result is the fully materialized provider output. BilledCharacters is the
// provider's authoritative billing count, which the ledger must use at
// commit time; it can differ from len(Text).
type Result struct {
	Audio            []byte
	ContentType      string
	BilledCharacters int64
}

// Synthesizer converts text into audio through an external provider
type Synthesizer interface {
	Synthesize(ctx context.Context, req Request) (*Result, error)
}
