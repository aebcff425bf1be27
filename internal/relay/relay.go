// Package relay re-frames an upstream SSE byte stream into client SSE frames.
//
// Upstream chunks are not aligned with frame boundaries, so bytes are buffered
// and only complete lines are processed; the trailing fragment waits for the
// next chunk or for Close.
package relay

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/nurture-app/nurture-backend/internal/logger"
)

type State int

const (
	Streaming State = iota
	FlushingTail
	Closed
	Errored
)

func (s State) String() string {
	switch s {
	case Streaming:
		return "STREAMING"
	case FlushingTail:
		return "FLUSHING_TAIL"
	case Closed:
		return "CLOSED"
	case Errored:
		return "ERROR"
	}
	return "UNKNOWN"
}

const (
	doneSentinel = "[DONE]"
	readBufSize  = 4096
)

var doneFrame = []byte("data: " + doneSentinel + "\n\n")

// Result is what the relay learned from the upstream payloads.
type Result struct {
	Answer         string
	ConversationID string
	MessageID      string
	// Terminal is set once message_end or [DONE] has been seen.
	Terminal bool
}

// upstreamPayload holds the fields the relay inspects. Everything else is
// forwarded untouched.
type upstreamPayload struct {
	Event          string `json:"event"`
	Answer         string `json:"answer"`
	ConversationID string `json:"conversation_id"`
	MessageID      string `json:"message_id"`
}

type Relay struct {
	w          io.Writer
	flusher    http.Flusher
	onTerminal func(Result)
	log        *logger.Logger

	buf    []byte
	state  State
	answer strings.Builder
	result Result
	once   sync.Once
}

// New returns a relay writing frames to w. If w is an http.Flusher every frame
// is flushed as soon as it is written. onTerminal, when non-nil, is called
// exactly once, the first time a terminal signal is observed.
func New(w io.Writer, onTerminal func(Result), log *logger.Logger) *Relay {
	if log == nil {
		log = logger.NewNop()
	}
	f, _ := w.(http.Flusher)
	return &Relay{
		w:          w,
		flusher:    f,
		onTerminal: onTerminal,
		log:        log.With("component", "Relay"),
		state:      Streaming,
	}
}

func (r *Relay) State() State {
	return r.state
}

// Result returns a snapshot of what has been accumulated so far.
func (r *Relay) Result() Result {
	res := r.result
	res.Answer = r.answer.String()
	return res
}

// Feed buffers chunk and forwards every line it completes.
func (r *Relay) Feed(chunk []byte) error {
	if r.state != Streaming {
		return nil
	}
	r.buf = append(r.buf, chunk...)
	for {
		i := bytes.IndexByte(r.buf, '\n')
		if i < 0 {
			break
		}
		line := string(r.buf[:i])
		r.buf = r.buf[i+1:]
		if err := r.processLine(line); err != nil {
			return err
		}
	}
	return nil
}

// Close flushes the buffered tail, writes the closing [DONE] frame and moves
// the relay to CLOSED.
func (r *Relay) Close() error {
	if r.state != Streaming {
		return nil
	}
	r.state = FlushingTail
	if len(r.buf) > 0 {
		tail := string(r.buf)
		r.buf = nil
		if err := r.processLine(tail); err != nil {
			r.state = Closed
			return err
		}
	}
	r.state = Closed
	return r.write(doneFrame)
}

// Fail emits a single error frame and closes the relay. It is a no-op once the
// relay has left STREAMING.
func (r *Relay) Fail(cause error) error {
	if r.state != Streaming {
		return nil
	}
	r.state = Errored
	r.buf = nil
	msg := "upstream stream failed"
	if cause != nil {
		msg = cause.Error()
	}
	payload, _ := json.Marshal(map[string]string{"error": msg})
	frame := make([]byte, 0, len(payload)+24)
	frame = append(frame, "event: error\ndata: "...)
	frame = append(frame, payload...)
	frame = append(frame, "\n\n"...)
	err := r.write(frame)
	r.state = Closed
	return err
}

// Run copies src through the relay until EOF or a read error. EOF closes the
// relay normally; any other error goes through Fail.
func (r *Relay) Run(src io.Reader) error {
	chunk := make([]byte, readBufSize)
	for {
		n, err := src.Read(chunk)
		if n > 0 {
			if werr := r.Feed(chunk[:n]); werr != nil {
				r.log.Warn("client write failed, abandoning stream", "error", werr)
				r.state = Closed
				return werr
			}
		}
		if errors.Is(err, io.EOF) {
			return r.Close()
		}
		if err != nil {
			r.log.Warn("upstream read failed", "error", err)
			if ferr := r.Fail(err); ferr != nil {
				return ferr
			}
			return err
		}
	}
}

func (r *Relay) processLine(line string) error {
	line = strings.TrimRight(line, "\r")
	if !strings.HasPrefix(line, "data:") {
		// Blank separators, comments and event:/id: lines carry nothing the
		// client needs; the payload itself names its event.
		return nil
	}
	payload := strings.TrimSpace(line[len("data:"):])
	if payload == "" {
		return nil
	}
	if payload == doneSentinel {
		r.markTerminal()
		return nil
	}

	var compact bytes.Buffer
	if err := json.Compact(&compact, []byte(payload)); err != nil {
		r.log.Debug("forwarding undecodable payload verbatim", "error", err)
		return r.writeData([]byte(payload))
	}
	r.inspect(compact.Bytes())
	return r.writeData(compact.Bytes())
}

func (r *Relay) inspect(raw []byte) {
	var p upstreamPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		// Valid JSON that is not an object, e.g. an array or a bare string.
		return
	}
	if p.ConversationID != "" && r.result.ConversationID == "" {
		r.result.ConversationID = p.ConversationID
	}
	if p.MessageID != "" && r.result.MessageID == "" {
		r.result.MessageID = p.MessageID
	}
	switch p.Event {
	case "message", "agent_message":
		r.answer.WriteString(p.Answer)
	case "message_end":
		r.markTerminal()
	}
}

func (r *Relay) markTerminal() {
	r.result.Terminal = true
	r.once.Do(func() {
		if r.onTerminal != nil {
			r.onTerminal(r.Result())
		}
	})
}

func (r *Relay) writeData(payload []byte) error {
	frame := make([]byte, 0, len(payload)+8)
	frame = append(frame, "data: "...)
	frame = append(frame, payload...)
	frame = append(frame, "\n\n"...)
	return r.write(frame)
}

func (r *Relay) write(frame []byte) error {
	if _, err := r.w.Write(frame); err != nil {
		return err
	}
	if r.flusher != nil {
		r.flusher.Flush()
	}
	return nil
}
