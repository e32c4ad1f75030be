package tts

import (
	"bytes"
	"context"
)

// Audio is raw PCM s16le mono at SampleRate.
type Audio struct {
	PCM        []byte
	SampleRate int
}

type Synthesizer interface {
	Synthesize(ctx context.Context, text, language, voice string) (Audio, error)
}

const wavHeaderLen = 44

// StripWAVHeader drops a canonical RIFF header if the payload carries one.
func StripWAVHeader(b []byte) []byte {
	if len(b) >= wavHeaderLen && bytes.Equal(b[:4], []byte("RIFF")) && bytes.Equal(b[8:12], []byte("WAVE")) {
		return b[wavHeaderLen:]
	}
	return b
}
