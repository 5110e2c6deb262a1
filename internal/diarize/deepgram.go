package diarize

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"

	api "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	listen "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"
	"github.com/rs/zerolog"
)

// liveSocket is the slice of the Deepgram live client the adapter uses.
type liveSocket interface {
	Connect() bool
	Stop()
	io.Writer
}

// Deepgram adapts the Deepgram live transcription WebSocket to the Client
// capability. Deepgram has no native voice-profile enrollment, so
// EnrollProfile hands back a placeholder id and leaves profile-to-speaker
// association to the matching phase.
type Deepgram struct {
	apiKey     string
	sampleRate int
	log        zerolog.Logger

	mu     sync.Mutex
	cb     *deepgramCallback
	sock   liveSocket
	cancel context.CancelFunc
	closed bool
}

// NewDeepgram returns an unconnected adapter for one session.
func NewDeepgram(apiKey string, sampleRate int, log zerolog.Logger) *Deepgram {
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	return &Deepgram{apiKey: apiKey, sampleRate: sampleRate, log: log}
}

// DeepgramFactory returns a Factory producing one adapter per session, each
// delivering recognition events to that session's handler.
func DeepgramFactory(apiKey string, sampleRate int, log zerolog.Logger) Factory {
	return func(sessionID string, h Handler) (Client, error) {
		dg := NewDeepgram(apiKey, sampleRate, log.With().Str("session_id", sessionID).Logger())
		dg.SetHandler(h)
		return dg, nil
	}
}

// SetHandler wires the receiver of recognition events. Must be called before
// StartTranscription.
func (d *Deepgram) SetHandler(h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cb = &deepgramCallback{owner: d, handler: h}
}

// StartTranscription connects the live recognizer socket. The stream outlives
// the caller's context; StopTranscription or Close tears it down.
func (d *Deepgram) StartTranscription(_ context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return errors.New("deepgram client is closed")
	}
	if d.sock != nil {
		return nil
	}
	if d.apiKey == "" {
		return errors.New("deepgram api key is not configured")
	}
	if d.cb == nil {
		return errors.New("no recognition handler set")
	}

	cOptions := &interfaces.ClientOptions{EnableKeepAlive: true}
	tOptions := &interfaces.LiveTranscriptionOptions{
		Model:       "nova-2",
		Language:    "en-US",
		Diarize:     true,
		Punctuate:   true,
		SmartFormat: true,
		Encoding:    "linear16",
		SampleRate:  d.sampleRate,
		Channels:    1,
	}

	runCtx, cancel := context.WithCancel(context.Background())
	dgClient, err := listen.NewWSUsingCallback(runCtx, d.apiKey, cOptions, tOptions, d.cb)
	if err != nil {
		cancel()
		return fmt.Errorf("create deepgram live client: %w", err)
	}
	if ok := dgClient.Connect(); !ok {
		cancel()
		return errors.New("deepgram connect failed")
	}

	d.sock = dgClient
	d.cancel = cancel
	return nil
}

func (d *Deepgram) StopTranscription(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopLocked()
	return nil
}

func (d *Deepgram) stopLocked() {
	if d.sock != nil {
		d.sock.Stop()
		d.sock = nil
	}
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
}

func (d *Deepgram) PushAudio(chunk []byte) error {
	d.mu.Lock()
	sock := d.sock
	d.mu.Unlock()

	if sock == nil {
		return errors.New("transcription is not running")
	}
	if _, err := sock.Write(chunk); err != nil {
		return fmt.Errorf("push audio to deepgram: %w", err)
	}
	return nil
}

func (d *Deepgram) EnrollProfile(_ context.Context, p Profile) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return "", errors.New("deepgram client is closed")
	}
	return "pending:" + p.ID, nil
}

func (d *Deepgram) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.closed = true
	d.stopLocked()
	return nil
}

func (d *Deepgram) isClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

// deepgramCallback translates Deepgram live responses into Results. Events
// arriving after Close are discarded.
type deepgramCallback struct {
	owner   *Deepgram
	handler Handler
}

func (c *deepgramCallback) Message(mr *api.MessageResponse) error {
	if c.owner.isClosed() || c.handler == nil {
		return nil
	}
	for _, res := range resultsFromMessage(mr) {
		c.handler.HandleTranscription(res)
	}
	return nil
}

func (c *deepgramCallback) Open(*api.OpenResponse) error {
	c.owner.log.Debug().Msg("connected to deepgram")
	return nil
}

func (c *deepgramCallback) Metadata(*api.MetadataResponse) error { return nil }

func (c *deepgramCallback) SpeechStarted(*api.SpeechStartedResponse) error { return nil }

func (c *deepgramCallback) UtteranceEnd(*api.UtteranceEndResponse) error { return nil }

func (c *deepgramCallback) Close(*api.CloseResponse) error {
	c.owner.log.Debug().Msg("disconnected from deepgram")
	return nil
}

func (c *deepgramCallback) Error(er *api.ErrorResponse) error {
	c.owner.log.Error().Str("code", er.ErrCode).Str("description", er.Description).Msg("deepgram error")
	return nil
}

func (c *deepgramCallback) UnhandledEvent([]byte) error { return nil }

// resultsFromMessage splits one response into per-speaker results, grouping
// consecutive words by their speaker tag.
func resultsFromMessage(mr *api.MessageResponse) []Result {
	if len(mr.Channel.Alternatives) == 0 {
		return nil
	}
	alt := mr.Channel.Alternatives[0]

	if len(alt.Words) == 0 {
		return nil
	}

	var out []Result
	current := Result{
		SpeakerID:  speakerTag(alt.Words[0].Speaker),
		Text:       alt.Words[0].PunctuatedWord,
		StartTime:  alt.Words[0].Start,
		EndTime:    alt.Words[0].End,
		Confidence: alt.Confidence,
		IsFinal:    mr.IsFinal,
	}

	for _, w := range alt.Words[1:] {
		tag := speakerTag(w.Speaker)
		if tag == current.SpeakerID {
			current.Text += " " + w.PunctuatedWord
			current.EndTime = w.End
			continue
		}
		out = append(out, current)
		current = Result{
			SpeakerID:  tag,
			Text:       w.PunctuatedWord,
			StartTime:  w.Start,
			EndTime:    w.End,
			Confidence: alt.Confidence,
			IsFinal:    mr.IsFinal,
		}
	}

	return append(out, current)
}

func speakerTag(speaker *int) string {
	if speaker == nil {
		return "unknown"
	}
	return "dg:" + strconv.Itoa(*speaker)
}
