package stt

import "context"

// StreamConfig opens one streaming recognition.
type StreamConfig struct {
	LanguageCode string
	// AlternativeLanguages lets the recognizer pick among several spoken
	// languages.
	AlternativeLanguages []string
	SampleRateHz         int32
}

// Transcript is one recognition update from a stream.
type Transcript struct {
	Text     string
	IsFinal  bool
	Language string
}

// Stream sends PCM in and reports transcripts out. Recv returns io.EOF once
// the provider has flushed everything after CloseSend.
type Stream interface {
	Send(pcm []byte) error
	CloseSend() error
	Recv() (Transcript, error)
}

type Provider interface {
	Stream(ctx context.Context, cfg StreamConfig) (Stream, error)
	Close() error
}
