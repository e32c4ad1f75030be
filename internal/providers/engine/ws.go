package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const writeWait = 10 * time.Second

// WSEngine speaks the token-stream protocol: a JSON config frame, then
// binary PCM frames and {"type":"finalize"} control frames; the server
// answers with token batches.
type WSEngine struct {
	URL    string
	APIKey string
	Model  string
	Dialer *websocket.Dialer
}

type wsConfig struct {
	APIKey        string         `json:"api_key,omitempty"`
	Model         string         `json:"model,omitempty"`
	AudioFormat   string         `json:"audio_format"`
	SampleRate    int            `json:"sample_rate"`
	NumChannels   int            `json:"num_channels"`
	LanguageHints []string       `json:"language_hints,omitempty"`
	Translation   *wsTranslation `json:"translation,omitempty"`
}

type wsTranslation struct {
	Type           string `json:"type"`
	TargetLanguage string `json:"target_language,omitempty"`
	LanguageA      string `json:"language_a,omitempty"`
	LanguageB      string `json:"language_b,omitempty"`
}

type wsToken struct {
	Text              string `json:"text"`
	IsFinal           bool   `json:"is_final"`
	Speaker           string `json:"speaker,omitempty"`
	Language          string `json:"language,omitempty"`
	TranslationStatus string `json:"translation_status,omitempty"`
}

type wsResponse struct {
	Tokens       []wsToken `json:"tokens"`
	Finished     bool      `json:"finished"`
	ErrorCode    int       `json:"error_code,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
}

func (e *WSEngine) Open(ctx context.Context, cfg Config) (Bridge, error) {
	if e.URL == "" {
		return nil, errors.New("engine url is not configured")
	}
	d := e.Dialer
	if d == nil {
		d = websocket.DefaultDialer
	}
	conn, _, err := d.DialContext(ctx, e.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial engine: %w", err)
	}

	first := e.configFrame(cfg)
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(first); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("send engine config: %w", err)
	}

	b := &wsBridge{
		conn:    conn,
		results: make(chan Result, 64),
		closed:  make(chan struct{}),
	}
	go b.readLoop()
	return b, nil
}

func (e *WSEngine) configFrame(cfg Config) wsConfig {
	rate := cfg.SampleRate
	if rate == 0 {
		rate = 16000
	}
	c := wsConfig{
		APIKey:        e.APIKey,
		Model:         e.Model,
		AudioFormat:   "pcm_s16le",
		SampleRate:    rate,
		NumChannels:   1,
		LanguageHints: cfg.LanguageHints,
	}
	switch cfg.Mode {
	case ModeTwoWay:
		c.Translation = &wsTranslation{Type: ModeTwoWay, LanguageA: cfg.SourceLanguage, LanguageB: cfg.TargetLanguage}
	default:
		if cfg.TargetLanguage != "" {
			c.Translation = &wsTranslation{Type: ModeOneWay, TargetLanguage: cfg.TargetLanguage}
		}
	}
	return c
}

type wsBridge struct {
	conn *websocket.Conn
	wmu  sync.Mutex

	results chan Result
	err     error

	closeOnce sync.Once
	closed    chan struct{}
}

func (b *wsBridge) Results() <-chan Result { return b.results }

// Err is only meaningful after Results has been closed.
func (b *wsBridge) Err() error { return b.err }

func (b *wsBridge) SendAudio(pcm []byte) error {
	return b.write(websocket.BinaryMessage, pcm)
}

func (b *wsBridge) Finalize() error {
	return b.write(websocket.TextMessage, []byte(`{"type":"finalize"}`))
}

func (b *wsBridge) write(kind int, data []byte) error {
	b.wmu.Lock()
	defer b.wmu.Unlock()
	select {
	case <-b.closed:
		return errors.New("engine bridge closed")
	default:
	}
	_ = b.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return b.conn.WriteMessage(kind, data)
}

func (b *wsBridge) Close() error {
	var err error
	b.closeOnce.Do(func() {
		b.wmu.Lock()
		close(b.closed)
		_ = b.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		b.wmu.Unlock()
		err = b.conn.Close()
	})
	return err
}

func (b *wsBridge) readLoop() {
	defer close(b.results)
	for {
		_, data, err := b.conn.ReadMessage()
		if err != nil {
			select {
			case <-b.closed:
			default:
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
					b.err = err
				}
			}
			return
		}

		var resp wsResponse
		if err := json.Unmarshal(data, &resp); err != nil {
			b.err = fmt.Errorf("decode engine message: %w", err)
			return
		}
		if resp.ErrorCode != 0 {
			b.err = fmt.Errorf("engine error %d: %s", resp.ErrorCode, resp.ErrorMessage)
			return
		}
		if r, ok := foldTokens(resp.Tokens); ok {
			select {
			case b.results <- r:
			case <-b.closed:
				return
			}
		}
		if resp.Finished {
			return
		}
	}
}

// foldTokens merges one token batch into a single result. Tokens tagged as
// translations build the translation; the rest build the transcript.
func foldTokens(tokens []wsToken) (Result, bool) {
	if len(tokens) == 0 {
		return Result{}, false
	}
	var transcript, translation strings.Builder
	r := Result{IsFinal: true}
	for _, t := range tokens {
		if !t.IsFinal {
			r.IsFinal = false
		}
		if t.TranslationStatus == "translation" {
			translation.WriteString(t.Text)
			continue
		}
		transcript.WriteString(t.Text)
		if r.Speaker == "" {
			r.Speaker = t.Speaker
		}
		if r.Language == "" {
			r.Language = t.Language
		}
	}
	r.Transcript = strings.TrimSpace(transcript.String())
	r.Translation = strings.TrimSpace(translation.String())
	if r.Transcript == "" && r.Translation == "" {
		return Result{}, false
	}
	return r, true
}
