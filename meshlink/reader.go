// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package meshlink

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
)

// DefaultInboxSize is the number of responses buffered between the reader
// goroutine and the caller before the reader blocks.
const DefaultInboxSize = 64

// reader owns the inbound stream of one connection. Responses go to inbox
// in arrival order, events go to the observer. On a fatal error a synthetic
// error response is pushed and inbox is closed.
type reader struct {
	r        io.Reader
	inbox    chan *Response
	done     chan struct{} // closed by the owner to release a blocked push
	finished chan struct{} // closed when the loop has returned
	observer Observer
	logger   *slog.Logger
	stopOnce sync.Once

	received atomic.Int64 // bytes read, headers included
	err      error        // fatal error; valid after finished is closed
}

func newReader(r io.Reader, inboxSize int, observer Observer, logger *slog.Logger) *reader {
	if inboxSize <= 0 {
		inboxSize = DefaultInboxSize
	}
	return &reader{
		r:        r,
		inbox:    make(chan *Response, inboxSize),
		done:     make(chan struct{}),
		finished: make(chan struct{}),
		observer: observer,
		logger:   logger,
	}
}

func (rd *reader) start() {
	go rd.loop()
}

func (rd *reader) loop() {
	defer close(rd.finished)
	defer close(rd.inbox)
	for {
		frame, err := ReadFrame(rd.r)
		if err != nil {
			rd.fail(err)
			return
		}
		rd.received.Add(int64(frameHeaderSize + len(frame.Payload)))

		switch frame.Type {
		case FrameResponse:
			resp, err := DecodeResponse(frame.Payload)
			if err != nil {
				rd.fail(err)
				return
			}
			if !rd.push(resp) {
				return
			}
		case FrameEvent:
			rd.dispatch(frame.Payload)
		default:
			rd.logger.Warn("ignoring frame of unknown type", "type", frame.Type, "bytes", len(frame.Payload))
		}
	}
}

func (rd *reader) fail(err error) {
	rd.err = err
	select {
	case <-rd.done:
		// Owner is tearing down; the error is expected.
		rd.logger.Debug("reader stopped", "err", err)
		return
	default:
	}
	if errors.Is(err, ErrStreamClosed) {
		rd.logger.Warn("engine stream closed", "err", err)
	} else {
		rd.logger.Error("engine stream failed", "err", err)
	}
	rd.push(connectionErrorResponse(err))
}

func (rd *reader) push(resp *Response) bool {
	select {
	case rd.inbox <- resp:
		return true
	case <-rd.done:
		return false
	}
}

func (rd *reader) dispatch(payload []byte) {
	ev, err := DecodeEvent(payload)
	if err != nil {
		rd.logger.Warn("ignoring malformed event", "err", err)
		return
	}
	if rd.observer == nil {
		return
	}
	defer func() {
		if rv := recover(); rv != nil {
			rd.logger.Error("event observer panic", "err", rv)
		}
	}()
	switch ev.Type {
	case EventProgress:
		rd.observer.OnProgress(ev.Progress, ev.Status)
	case EventLog:
		rd.observer.OnLog(LogLevel(ev.Level), ev.Message)
	}
}

// stop releases the loop if it is blocked on a full inbox. The loop itself
// ends once the underlying stream is closed.
func (rd *reader) stop() {
	rd.stopOnce.Do(func() { close(rd.done) })
}
