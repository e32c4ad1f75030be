package stt

import (
	"context"

	speech "cloud.google.com/go/speech/apiv1"
	speechpb "cloud.google.com/go/speech/apiv1/speechpb"
)

type GoogleSpeech struct {
	c *speech.Client

	Encoding speechpb.RecognitionConfig_AudioEncoding
}

func NewGoogleSpeech(ctx context.Context) (*GoogleSpeech, error) {
	c, err := speech.NewClient(ctx)
	if err != nil {
		return nil, err
	}
	return &GoogleSpeech{
		c:        c,
		Encoding: speechpb.RecognitionConfig_LINEAR16,
	}, nil
}

func (g *GoogleSpeech) Close() error { return g.c.Close() }

// language example: "en-US", "id-ID"
func (g *GoogleSpeech) Stream(ctx context.Context, cfg StreamConfig) (Stream, error) {
	if cfg.LanguageCode == "" {
		cfg.LanguageCode = "en-US"
	}
	if cfg.SampleRateHz == 0 {
		cfg.SampleRateHz = 16000
	}

	s, err := g.c.StreamingRecognize(ctx)
	if err != nil {
		return nil, err
	}
	err = s.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: &speechpb.StreamingRecognitionConfig{
				Config: &speechpb.RecognitionConfig{
					Encoding:                   g.Encoding,
					SampleRateHertz:            cfg.SampleRateHz,
					AudioChannelCount:          1,
					LanguageCode:               cfg.LanguageCode,
					AlternativeLanguageCodes:   cfg.AlternativeLanguages,
					EnableAutomaticPunctuation: true,
				},
				InterimResults: true,
			},
		},
	})
	if err != nil {
		_ = s.CloseSend()
		return nil, err
	}
	return &googleStream{s: s, lang: cfg.LanguageCode}, nil
}

type googleStream struct {
	s       speechpb.Speech_StreamingRecognizeClient
	lang    string
	pending []Transcript
}

func (g *googleStream) Send(pcm []byte) error {
	return g.s.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{AudioContent: pcm},
	})
}

func (g *googleStream) CloseSend() error { return g.s.CloseSend() }

func (g *googleStream) Recv() (Transcript, error) {
	for len(g.pending) == 0 {
		resp, err := g.s.Recv()
		if err != nil {
			return Transcript{}, err
		}
		if st := resp.GetError(); st != nil && st.GetCode() != 0 {
			return Transcript{}, &StreamError{Code: st.GetCode(), Message: st.GetMessage()}
		}
		for _, r := range resp.GetResults() {
			alts := r.GetAlternatives()
			if len(alts) == 0 || alts[0].GetTranscript() == "" {
				continue
			}
			lang := r.GetLanguageCode()
			if lang == "" {
				lang = g.lang
			}
			g.pending = append(g.pending, Transcript{
				Text:     alts[0].GetTranscript(),
				IsFinal:  r.GetIsFinal(),
				Language: lang,
			})
		}
	}
	t := g.pending[0]
	g.pending = g.pending[1:]
	return t, nil
}

// StreamError is a recognition failure reported inside a response.
type StreamError struct {
	Code    int32
	Message string
}

func (e *StreamError) Error() string { return "speech stream: " + e.Message }
