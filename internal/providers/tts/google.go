package tts

import (
	"context"
	"strings"

	texttospeech "cloud.google.com/go/texttospeech/apiv1"
	"cloud.google.com/go/texttospeech/apiv1/texttospeechpb"
)

type GoogleTTS struct {
	client      *texttospeech.Client
	sampleRate  int
	defaultLang string
}

func NewGoogleTTS(ctx context.Context, sampleRate int, defaultLang string) (*GoogleTTS, error) {
	c, err := texttospeech.NewClient(ctx)
	if err != nil {
		return nil, err
	}
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	if defaultLang == "" {
		defaultLang = "en-US"
	}
	return &GoogleTTS{client: c, sampleRate: sampleRate, defaultLang: defaultLang}, nil
}

func (g *GoogleTTS) Close() error { return g.client.Close() }

// Synthesize renders text with voice (a Google voice name such as
// "es-ES-Neural2-A") or, without one, the default neutral voice of language.
func (g *GoogleTTS) Synthesize(ctx context.Context, text, language, voice string) (Audio, error) {
	lang := languageFor(language, voice, g.defaultLang)
	resp, err := g.client.SynthesizeSpeech(ctx, &texttospeechpb.SynthesizeSpeechRequest{
		Input: &texttospeechpb.SynthesisInput{
			InputSource: &texttospeechpb.SynthesisInput_Text{Text: text},
		},
		Voice: &texttospeechpb.VoiceSelectionParams{
			LanguageCode: lang,
			Name:         voice,
			SsmlGender:   texttospeechpb.SsmlVoiceGender_NEUTRAL,
		},
		AudioConfig: &texttospeechpb.AudioConfig{
			AudioEncoding:   texttospeechpb.AudioEncoding_LINEAR16,
			SampleRateHertz: int32(g.sampleRate),
		},
	})
	if err != nil {
		return Audio{}, err
	}
	return Audio{PCM: StripWAVHeader(resp.GetAudioContent()), SampleRate: g.sampleRate}, nil
}

// languageFor prefers the locale embedded in a voice name ("es-ES-…").
func languageFor(language, voice, fallback string) string {
	if parts := strings.SplitN(voice, "-", 3); len(parts) == 3 && len(parts[0]) == 2 && len(parts[1]) == 2 {
		return parts[0] + "-" + parts[1]
	}
	if language != "" {
		return language
	}
	return fallback
}
