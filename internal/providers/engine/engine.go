// Package engine abstracts streaming transcription+translation services.
// A Bridge is one open session: PCM goes in through SendAudio, results come
// out on Results, which is fed by a single reader goroutine per bridge.
package engine

import (
	"context"
	"strings"
)

const (
	ModeOneWay = "one_way"
	ModeTwoWay = "two_way"
)

type Config struct {
	Mode           string
	SourceLanguage string
	TargetLanguage string
	// LanguageHints are the languages expected in the audio, deduplicated.
	LanguageHints []string
	SampleRate    int
}

type Result struct {
	Transcript  string
	Translation string
	IsFinal     bool
	Speaker     string
	Language    string
}

type Bridge interface {
	SendAudio(pcm []byte) error
	// Finalize asks the engine to flush pending audio as final results.
	Finalize() error
	// Results is closed when the session ends; Err then reports why.
	Results() <-chan Result
	Err() error
	Close() error
}

type Factory interface {
	Open(ctx context.Context, cfg Config) (Bridge, error)
}

// DedupHints lowercases, trims and deduplicates language codes, keeping
// first-seen order.
func DedupHints(langs ...string) []string {
	seen := map[string]bool{}
	out := make([]string, 0, len(langs))
	for _, l := range langs {
		l = strings.ToLower(strings.TrimSpace(l))
		if l == "" || seen[l] {
			continue
		}
		seen[l] = true
		out = append(out, l)
	}
	return out
}

// BaseLanguage reduces a locale such as "en-US" to "en".
func BaseLanguage(code string) string {
	code = strings.ToLower(strings.TrimSpace(code))
	if i := strings.IndexAny(code, "-_"); i > 0 {
		return code[:i]
	}
	return code
}

// TargetFor picks the translation target of a segment spoken in detected.
// In two_way mode speech in either language goes to the other one.
func TargetFor(cfg Config, detected string) string {
	if cfg.Mode != ModeTwoWay {
		return cfg.TargetLanguage
	}
	if BaseLanguage(detected) == BaseLanguage(cfg.TargetLanguage) {
		return cfg.SourceLanguage
	}
	return cfg.TargetLanguage
}
