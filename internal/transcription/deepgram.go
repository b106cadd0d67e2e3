package transcription

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	deepgramWSURL = "wss://api.deepgram.com/v1/listen"

	// 100ms of 16 kHz mono linear16 audio.
	audioChunkSize = 3200
)

// DeepgramConfig holds configuration for the Deepgram source.
type DeepgramConfig struct {
	URL            string // defaults to the public listen endpoint
	APIKey         string
	Language       string // e.g. "en"
	Model          string // e.g. "nova-3"
	SampleRate     int    // must match the capture sample rate
	Channels       int
	Punctuate      bool
	Endpointing    int // milliseconds of silence for endpointing, 0 for default
	UtteranceEndMs int // 0 for default
}

func (c DeepgramConfig) listenURL() (string, error) {
	base := c.URL
	if base == "" {
		base = deepgramWSURL
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse deepgram url: %w", err)
	}

	q := u.Query()
	q.Set("encoding", "linear16")
	q.Set("interim_results", "true")
	q.Set("punctuate", strconv.FormatBool(c.Punctuate))
	if c.Model != "" {
		q.Set("model", c.Model)
	}
	if c.Language != "" {
		q.Set("language", c.Language)
	}
	if c.SampleRate > 0 {
		q.Set("sample_rate", strconv.Itoa(c.SampleRate))
	}
	channels := c.Channels
	if channels <= 0 {
		channels = 1
	}
	q.Set("channels", strconv.Itoa(channels))
	if c.Endpointing > 0 {
		q.Set("endpointing", strconv.Itoa(c.Endpointing))
	}
	if c.UtteranceEndMs > 0 {
		q.Set("utterance_end_ms", strconv.Itoa(c.UtteranceEndMs))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// deepgramResponse represents a Deepgram WebSocket response.
type deepgramResponse struct {
	Type    string `json:"type"`
	Channel struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
	IsFinal bool `json:"is_final"`
}

// DeepgramSource transcribes microphone audio with Deepgram's streaming API.
type DeepgramSource struct {
	cfg     DeepgramConfig
	capture Capturer
	dialer  *websocket.Dialer
	logger  zerolog.Logger
}

// NewDeepgramSource creates a source that records from capture.
func NewDeepgramSource(cfg DeepgramConfig, capture Capturer, logger zerolog.Logger) *DeepgramSource {
	return &DeepgramSource{
		cfg:     cfg,
		capture: capture,
		dialer:  websocket.DefaultDialer,
		logger:  logger.With().Str("component", "deepgram").Logger(),
	}
}

// RequestAuthorization grants transcription when an API key is configured
// and the capture backend is usable.
func (s *DeepgramSource) RequestAuthorization(ctx context.Context) Authorization {
	if s.cfg.APIKey == "" {
		s.logger.Info().Msg("no Deepgram API key configured")
		return Denied
	}
	if s.capture == nil {
		return Denied
	}
	if err := s.capture.Available(); err != nil {
		s.logger.Warn().Err(err).Msg("audio capture unavailable")
		return Denied
	}
	return Authorized
}

// Start opens the microphone and connects to Deepgram.
func (s *DeepgramSource) Start(ctx context.Context) (Stream, error) {
	target, err := s.cfg.listenURL()
	if err != nil {
		return nil, err
	}

	audio, err := s.capture.Start(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire microphone: %w", err)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+s.cfg.APIKey)

	conn, _, err := s.dialer.DialContext(ctx, target, headers)
	if err != nil {
		_ = audio.Close()
		return nil, fmt.Errorf("failed to connect to Deepgram: %w", err)
	}

	st := &deepgramStream{
		conn:    conn,
		audio:   audio,
		results: make(chan Snapshot, 16),
		errors:  make(chan error, 1),
		done:    make(chan struct{}),
		logger:  s.logger,
	}

	st.wg.Add(2)
	go st.readLoop()
	go st.writeLoop()

	s.logger.Debug().Str("url", target).Msg("deepgram stream started")
	return st, nil
}

type deepgramStream struct {
	conn      *websocket.Conn
	audio     io.ReadCloser
	results   chan Snapshot
	errors    chan error
	done      chan struct{}
	closeOnce sync.Once
	mu        sync.Mutex // guards writes to conn
	wg        sync.WaitGroup
	finishing atomic.Bool
	logger    zerolog.Logger
}

func (s *deepgramStream) Results() <-chan Snapshot { return s.results }

func (s *deepgramStream) Errors() <-chan error { return s.errors }

// Close stops both loops, ends the Deepgram session and kills the capture.
func (s *deepgramStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)

		s.mu.Lock()
		_ = s.conn.WriteMessage(websocket.TextMessage, []byte(`{"type": "CloseStream"}`))
		s.mu.Unlock()

		err = s.conn.Close()
		if cerr := s.audio.Close(); cerr != nil && err == nil {
			err = cerr
		}

		s.wg.Wait()
		close(s.errors)
	})
	return err
}

func (s *deepgramStream) closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// fail reports err unless the stream is closing. Only the first failure is kept.
func (s *deepgramStream) fail(err error) {
	if s.closed() {
		return
	}
	select {
	case s.errors <- err:
	default:
	}
}

// writeLoop forwards captured audio to Deepgram.
func (s *deepgramStream) writeLoop() {
	defer s.wg.Done()

	buf := make([]byte, audioChunkSize)
	for {
		n, err := s.audio.Read(buf)
		if n > 0 {
			s.mu.Lock()
			werr := s.conn.WriteMessage(websocket.BinaryMessage, buf[:n])
			s.mu.Unlock()
			if werr != nil {
				s.fail(fmt.Errorf("send audio: %w", werr))
				return
			}
		}
		if err == nil {
			continue
		}
		if s.closed() {
			return
		}
		if errors.Is(err, io.EOF) {
			// Capture ended; let Deepgram flush the remaining results.
			s.finishing.Store(true)
			s.mu.Lock()
			_ = s.conn.WriteMessage(websocket.TextMessage, []byte(`{"type": "CloseStream"}`))
			s.mu.Unlock()
			return
		}
		s.fail(fmt.Errorf("read audio: %w", err))
		return
	}
}

// readLoop turns Deepgram results into cumulative snapshots.
func (s *deepgramStream) readLoop() {
	defer s.wg.Done()
	defer close(s.results)

	var committed []string
	for {
		_, msg, err := s.conn.ReadMessage()
		if err != nil {
			if s.closed() || s.finishing.Load() ||
				websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return
			}
			s.fail(fmt.Errorf("read error: %w", err))
			return
		}

		var resp deepgramResponse
		if err := json.Unmarshal(msg, &resp); err != nil {
			s.logger.Warn().Err(err).Msg("failed to parse response")
			continue
		}
		if resp.Type != "Results" {
			continue
		}

		var text string
		if len(resp.Channel.Alternatives) > 0 {
			text = strings.TrimSpace(resp.Channel.Alternatives[0].Transcript)
		}

		parts := committed
		if text != "" {
			parts = append(committed[:len(committed):len(committed)], text)
		}
		if resp.IsFinal && text != "" {
			committed = parts
		}
		if text == "" && !resp.IsFinal {
			continue
		}

		snap := Snapshot{Text: strings.Join(parts, " "), IsFinal: resp.IsFinal}
		select {
		case <-s.done:
			return
		case s.results <- snap:
		}
	}
}
