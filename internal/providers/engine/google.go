package engine

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/yoockh/yoocall/internal/providers/llm"
	"github.com/yoockh/yoocall/internal/providers/stt"
)

// GoogleEngine recognizes speech with a streaming STT provider and
// translates each final segment with an LLM translator.
type GoogleEngine struct {
	STT        stt.Provider
	Translator llm.Translator
}

func (g *GoogleEngine) Open(ctx context.Context, cfg Config) (Bridge, error) {
	if g.STT == nil || g.Translator == nil {
		return nil, errors.New("google engine missing speech or translator")
	}
	ctx, cancel := context.WithCancel(ctx)

	primary := cfg.SourceLanguage
	var alts []string
	for _, h := range cfg.LanguageHints {
		if primary == "" {
			primary = h
			continue
		}
		if BaseLanguage(h) != BaseLanguage(primary) {
			alts = append(alts, h)
		}
	}

	sc := stt.StreamConfig{
		LanguageCode:         primary,
		AlternativeLanguages: alts,
		SampleRateHz:         int32(cfg.SampleRate),
	}
	open := func() (stt.Stream, error) { return g.STT.Stream(ctx, sc) }
	s, err := open()
	if err != nil {
		cancel()
		return nil, err
	}

	b := &googleBridge{
		cfg:        cfg,
		open:       open,
		stream:     s,
		translator: g.Translator,
		ctx:        ctx,
		cancel:     cancel,
		results:    make(chan Result, 64),
	}
	go b.readLoop(s)
	return b, nil
}

// googleBridge chains recognition streams. Finalize half-closes the stream
// taking audio and starts a new one; readLoop drains the closed streams in
// order before moving on, so later audio keeps producing results.
type googleBridge struct {
	cfg        Config
	open       func() (stt.Stream, error)
	translator llm.Translator

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	stream stt.Stream
	// queued streams replaced the one being read, oldest first
	queued []stt.Stream

	results chan Result
	err     error
}

func (b *googleBridge) Results() <-chan Result { return b.results }
func (b *googleBridge) Err() error             { return b.err }

func (b *googleBridge) SendAudio(pcm []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ctx.Err() != nil {
		return errors.New("engine bridge closed")
	}
	return b.stream.Send(pcm)
}

// Finalize makes Google flush the pending segment as final. The bridge
// stays usable.
func (b *googleBridge) Finalize() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ctx.Err() != nil {
		return errors.New("engine bridge closed")
	}
	next, err := b.open()
	if err != nil {
		return err
	}
	prev := b.stream
	b.stream = next
	b.queued = append(b.queued, next)
	return prev.CloseSend()
}

func (b *googleBridge) Close() error {
	b.cancel()
	return nil
}

// advance picks the stream to read after the current one ended cleanly. A
// stream the server closed on its own is replaced so the session survives.
func (b *googleBridge) advance() (stt.Stream, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.queued) > 0 {
		next := b.queued[0]
		b.queued = b.queued[1:]
		return next, nil
	}
	next, err := b.open()
	if err != nil {
		return nil, err
	}
	b.stream = next
	return next, nil
}

func (b *googleBridge) readLoop(cur stt.Stream) {
	defer close(b.results)
	for {
		t, err := cur.Recv()
		if err != nil {
			if b.ctx.Err() != nil {
				return
			}
			if !errors.Is(err, io.EOF) {
				b.err = err
				return
			}
			if cur, err = b.advance(); err != nil {
				if b.ctx.Err() == nil {
					b.err = err
				}
				return
			}
			continue
		}
		r := Result{Transcript: t.Text, IsFinal: t.IsFinal, Language: t.Language}
		if t.IsFinal {
			to := TargetFor(b.cfg, t.Language)
			if to != "" && BaseLanguage(to) != BaseLanguage(t.Language) {
				tr, err := b.translator.Translate(b.ctx, t.Text, t.Language, to)
				if err != nil {
					if b.ctx.Err() == nil {
						b.err = err
					}
					return
				}
				r.Translation = tr
			}
		}
		select {
		case b.results <- r:
		case <-b.ctx.Done():
			return
		}
	}
}
