package stt

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
	api "github.com/deepgram/deepgram-go-sdk/pkg/api/listen/v1/websocket/interfaces"
	"github.com/deepgram/deepgram-go-sdk/pkg/client/interfaces"
	"github.com/deepgram/deepgram-go-sdk/pkg/client/listen"
	listenv1ws "github.com/deepgram/deepgram-go-sdk/pkg/client/listen/v1/websocket"

	"murmur/event"
)

// DeepgramEngine opens live transcription connections against the
// Deepgram streaming API.
type DeepgramEngine struct {
	token  string
	logger *log.Logger
}

func NewDeepgramEngine(token string, logger *log.Logger) (*DeepgramEngine, error) {
	if token == "" {
		return nil, fmt.Errorf("deepgram api key is empty")
	}
	return &DeepgramEngine{token: token, logger: logger}, nil
}

func (e *DeepgramEngine) Open(
	ctx context.Context,
	cfg Config,
	sink event.Sink,
) (Conn, error) {
	cOptions := &interfaces.ClientOptions{
		EnableKeepAlive: true,
	}
	tOptions := &interfaces.LiveTranscriptionOptions{
		Model:          cfg.Model,
		Language:       cfg.Language,
		Punctuate:      cfg.Punctuate,
		Encoding:       "linear16",
		Channels:       cfg.Channels,
		SampleRate:     cfg.SampleRate,
		SmartFormat:    cfg.SmartFormat,
		InterimResults: cfg.InterimResults,
		UtteranceEndMs: "1000",
		VadEvents:      true,
	}

	conn := &deepgramConn{
		sink:   sink,
		logger: e.logger,
		audioBuffer: make(
			chan []byte,
			100,
		), // Adjust buffer size as needed
	}

	client, err := listen.NewWebSocket(
		ctx,
		e.token,
		cOptions,
		tOptions,
		conn,
	)
	if err != nil {
		return nil, fmt.Errorf(
			"error creating LiveTranscription connection: %w",
			err,
		)
	}

	conn.client = client

	go conn.client.Connect()

	return conn, nil
}

// deepgramConn adapts the SDK's push-style callbacks into canonical
// events on the bound sink. Every callback runs on the SDK's own
// goroutine; the sink must tolerate concurrent emits and teardown.
type deepgramConn struct {
	client      *listenv1ws.Client
	sink        event.Sink
	logger      *log.Logger
	audioBuffer chan []byte

	mu     sync.Mutex
	closed bool
}

func (c *deepgramConn) SendAudio(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("connection finished")
	}
	select {
	case c.audioBuffer <- data:
		return nil
	default:
		return fmt.Errorf("audio buffer full")
	}
}

func (c *deepgramConn) Finish(ctx context.Context) error {
	c.closeBuffer()
	done := make(chan struct{})
	go func() {
		c.client.Stop()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *deepgramConn) closeBuffer() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.audioBuffer)
	}
}

func (c *deepgramConn) Open(ocr *api.OpenResponse) error {
	c.logger.Info("open", "kind", "deepgram")
	go func() {
		for data := range c.audioBuffer {
			if err := c.client.WriteBinary(data); err != nil {
				c.logger.Error("failed to write audio data", "error", err)
			}
		}
	}()
	return nil
}

func (c *deepgramConn) Message(mr *api.MessageResponse) error {
	if len(mr.Channel.Alternatives) == 0 {
		return nil
	}

	transcript := strings.TrimSpace(mr.Channel.Alternatives[0].Transcript)

	// An empty hypothesis carries no information.
	if len(transcript) == 0 {
		return nil
	}

	confidence := mr.Channel.Alternatives[0].Confidence

	if mr.IsFinal {
		c.logger.Info("hear", "txt", transcript, "confidence", confidence)
		c.sink.Emit(event.Final(transcript, confidence))
	} else {
		c.logger.Debug("hear", "tmp", transcript, "confidence", confidence)
		c.sink.Emit(event.Token(transcript, confidence))
	}

	return nil
}

func (c *deepgramConn) SpeechStarted(
	ssr *api.SpeechStartedResponse,
) error {
	c.logger.Debug("speech start", "timestamp", ssr.Timestamp)
	c.sink.Emit(event.SpeechStart("speech detected"))
	return nil
}

func (c *deepgramConn) UtteranceEnd(ur *api.UtteranceEndResponse) error {
	c.logger.Debug("utterance end", "timestamp", ur.LastWordEnd)
	c.sink.Emit(event.SpeechEnd("utterance ended"))
	return nil
}

func (c *deepgramConn) Error(er *api.ErrorResponse) error {
	c.logger.Error("error", "type", er.Type, "description", er.Description)
	c.sink.Emit(event.Error(er.Description))
	return nil
}

func (c *deepgramConn) Close(ocr *api.CloseResponse) error {
	c.logger.Info("closed", "reason", ocr.Type)
	c.closeBuffer()
	return nil
}

func (c *deepgramConn) Metadata(md *api.MetadataResponse) error {
	c.logger.Debug("metadata", "metadata", md)
	return nil
}

func (c *deepgramConn) UnhandledEvent(byData []byte) error {
	// Forward compatibility: unknown engine messages are ignored.
	c.logger.Debug("unhandled event", "data", string(byData))
	return nil
}
