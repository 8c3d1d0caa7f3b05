package device

import (
	"context"
	"sync"

	"codeberg.org/mutker/cgmbridge/internal/errors"
	"codeberg.org/mutker/cgmbridge/internal/message"
)

// Recorder keeps sent messages in memory.
type Recorder struct {
	mu       sync.Mutex
	sent     []message.Message
	requests chan struct{}
	configs  chan []byte
	err      error
}

func NewRecorder() *Recorder {
	return &Recorder{
		requests: make(chan struct{}, 1),
		configs:  make(chan []byte, configBacklog),
	}
}

func (r *Recorder) Send(ctx context.Context, m message.Message) error {
	if err := ctx.Err(); err != nil {
		return errors.New().Wrap(ErrSendFailed, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, m)

	return nil
}

// Fail makes every following Send return err. A nil err restores normal
// recording.
func (r *Recorder) Fail(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.err = err
}

// Sent returns a copy of everything sent so far.
func (r *Recorder) Sent() []message.Message {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]message.Message(nil), r.sent...)
}

// Request simulates the watch asking for data.
func (r *Recorder) Request() {
	select {
	case r.requests <- struct{}{}:
	default:
	}
}

func (r *Recorder) Requests() <-chan struct{} {
	return r.requests
}

// Configure simulates the watch's settings page saving raw.
func (r *Recorder) Configure(raw []byte) {
	r.configs <- raw
}

func (r *Recorder) Configs() <-chan []byte {
	return r.configs
}

func (*Recorder) Close() error {
	return nil
}
