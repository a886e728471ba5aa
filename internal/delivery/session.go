// Package delivery runs one message at a time through synthesis, MP3
// transcoding and device upload, and publishes the state of that run.
package delivery

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/echoglove/voice-bridge/internal/audio"
	"github.com/echoglove/voice-bridge/internal/device"
	"github.com/echoglove/voice-bridge/internal/observability"
	"github.com/echoglove/voice-bridge/internal/tts"
)

// Uploader sends a finished MP3 file to a device
type Uploader interface {
	Upload(ctx context.Context, address string, audioBytes []byte) error
}

// EncoderFactory builds a fresh encoder for one message
type EncoderFactory func(params audio.EncoderParams) (audio.FrameEncoder, error)

// Options configures a Session
type Options struct {
	Synthesizer   tts.Synthesizer
	Uploader      Uploader
	NewEncoder    EncoderFactory      // default audio.NewFrameEncoder
	EncoderParams audio.EncoderParams // default audio.DefaultEncoderParams
	DisplayDelay  time.Duration       // how long Playing/Error stay current
	Timeout       time.Duration       // bounds synthesis through upload; 0 is unbounded
}

// Status is a snapshot of the session
type Status struct {
	State      State     `json:"state"`
	DeliveryID string    `json:"delivery_id,omitempty"`
	Device     string    `json:"device,omitempty"`
	Bucket     string    `json:"bucket,omitempty"`
	Message    string    `json:"message,omitempty"`
	Since      time.Time `json:"since"`
}

// Session accepts one delivery at a time. Requests that arrive while a
// delivery is in flight, or while its terminal state is still displayed,
// are rejected with ErrBusy.
type Session struct {
	synth        tts.Synthesizer
	uploader     Uploader
	newEncoder   EncoderFactory
	params       audio.EncoderParams
	displayDelay time.Duration
	timeout      time.Duration
	logger       zerolog.Logger

	mu       sync.Mutex
	status   Status
	active   *run
	subs     map[int]chan Transition
	nextSub  int
	inFlight sync.WaitGroup
}

// run is the state of one accepted delivery
type run struct {
	id      string
	device  string
	out     chan Transition
	metrics *observability.Metrics
	logger  zerolog.Logger
}

// NewSession creates an idle session
func NewSession(opts Options) (*Session, error) {
	if opts.Synthesizer == nil {
		return nil, errors.New("delivery session requires a synthesizer")
	}
	if opts.Uploader == nil {
		return nil, errors.New("delivery session requires an uploader")
	}
	if opts.NewEncoder == nil {
		opts.NewEncoder = audio.NewFrameEncoder
	}
	if opts.EncoderParams == (audio.EncoderParams{}) {
		opts.EncoderParams = audio.DefaultEncoderParams()
	}
	if err := opts.EncoderParams.Validate(); err != nil {
		return nil, err
	}
	if opts.DisplayDelay < 0 {
		opts.DisplayDelay = 0
	}

	return &Session{
		synth:        opts.Synthesizer,
		uploader:     opts.Uploader,
		newEncoder:   opts.NewEncoder,
		params:       opts.EncoderParams,
		displayDelay: opts.DisplayDelay,
		timeout:      opts.Timeout,
		logger:       observability.GetLogger().With().Str("component", "delivery").Logger(),
		status:       Status{State: StateIdle, Since: time.Now()},
		subs:         make(map[int]chan Transition),
	}, nil
}

// Deliver starts speaking text on the device at address. The returned
// channel carries every transition of this delivery, Converting first and
// Idle last, and is closed after Idle. The delivery is not cancelled when
// ctx is; it is bounded by the session timeout instead.
func (s *Session) Deliver(ctx context.Context, text, address string) (<-chan Transition, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyMessage
	}
	address = strings.TrimSpace(address)
	if _, err := device.BaseURL(address); err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.status.State != StateIdle {
		current := s.status
		s.mu.Unlock()
		observability.RecordDeliveryRejected()
		s.logger.Warn().
			Str("state", current.State.String()).
			Str("delivery_id", current.DeliveryID).
			Msg("Delivery rejected, session busy")
		return nil, ErrBusy
	}

	id := observability.NewDeliveryID()
	r := &run{
		id:      id,
		device:  address,
		out:     make(chan Transition, len(stateNames)),
		metrics: observability.NewDeliveryMetrics(id),
		logger:  observability.WithDeliveryID(id).With().Str("device", address).Logger(),
	}
	s.active = r
	s.inFlight.Add(1)
	s.transitionLocked(r, StateConverting, nil)
	s.mu.Unlock()

	r.metrics.RecordDeliveryStart()
	r.logger.Info().Int("text_len", len(text)).Msg("Delivery accepted")

	runCtx := context.WithoutCancel(ctx)
	cancel := context.CancelFunc(func() {})
	if s.timeout > 0 {
		runCtx, cancel = context.WithTimeout(runCtx, s.timeout)
	}

	go func() {
		defer s.inFlight.Done()
		defer cancel()
		s.execute(runCtx, r, text)
	}()

	return r.out, nil
}

// Current returns a snapshot of the session state
func (s *Session) Current() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Subscribe returns a channel of every transition of every delivery, and a
// function that ends the subscription. Slow subscribers miss transitions
// rather than stall deliveries.
func (s *Session) Subscribe() (<-chan Transition, func()) {
	ch := make(chan Transition, 16)

	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
			close(ch)
		})
	}
}

// Wait blocks until no pipeline is running or ctx is done. A terminal state
// may still be on display when it returns.
func (s *Session) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.inFlight.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// advance moves the active delivery to a non-terminal state
func (s *Session) advance(r *run, state State) {
	s.mu.Lock()
	s.transitionLocked(r, state, nil)
	s.mu.Unlock()
}

// finish moves the delivery to Playing or Error and schedules the return to
// Idle after the display delay.
func (s *Session) finish(r *run, err error) {
	state := StatePlaying
	outcome := StatePlaying.String()

	var de *Error
	if err != nil {
		if !errors.As(err, &de) {
			de = newError(StageUpload, err)
		}
		state = StateError
		outcome = de.Bucket.String()
		r.logger.Error().
			Err(de.Err).
			Str("stage", string(de.Stage)).
			Str("bucket", de.Bucket.String()).
			Msg("Delivery failed")
	} else {
		r.logger.Info().Msg("Audio is playing on device")
	}
	r.metrics.RecordDeliveryEnd(outcome)

	s.mu.Lock()
	s.transitionLocked(r, state, de)
	time.AfterFunc(s.displayDelay, func() { s.revert(r) })
	s.mu.Unlock()
}

func (s *Session) revert(r *run) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active != r {
		return
	}
	s.transitionLocked(r, StateIdle, nil)
	s.active = nil
	close(r.out)
}

// transitionLocked records and publishes a state change. Caller holds mu.
func (s *Session) transitionLocked(r *run, state State, de *Error) {
	t := Transition{
		DeliveryID: r.id,
		State:      state,
		Device:     r.device,
		At:         time.Now(),
	}
	if de != nil {
		t.Bucket = de.Bucket.String()
		t.Message = de.UserMessage()
		t.Err = de
	}

	s.status = Status{
		State:      state,
		DeliveryID: r.id,
		Device:     r.device,
		Bucket:     t.Bucket,
		Message:    t.Message,
		Since:      t.At,
	}
	if state == StateIdle {
		s.status = Status{State: StateIdle, Since: t.At}
	}

	r.logger.Debug().Str("state", state.String()).Msg("Delivery state changed")

	// out holds every transition a delivery can make
	r.out <- t
	for _, ch := range s.subs {
		select {
		case ch <- t:
		default:
		}
	}
}
