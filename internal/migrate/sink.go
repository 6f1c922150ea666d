package migrate

import (
	"fmt"
	"net"
	"time"
)

// sink pipelines commands to the destination. Commands accumulate in a
// buffer; once maxPipeline commands are pending the buffer is written out and
// the replies drained in one round trip. Sends are paced so the slot transfer
// does not saturate the destination.
type sink struct {
	conn        net.Conn
	reader      *replyReader
	canceled    func() bool
	maxPipeline int
	interval    time.Duration

	buf      []byte
	pending  int
	lastSend time.Time

	// Flushes and commands sent, for the caller's counters.
	flushes  uint64
	commands uint64
}

// newSink wires a sink to an established destination connection. maxSpeed is
// commands per second; zero disables pacing. canceled is polled at every
// flush so an operator stop lands between pipelines.
func newSink(conn net.Conn, maxPipeline, maxSpeed int, canceled func() bool) *sink {
	if maxPipeline <= 0 {
		maxPipeline = 1
	}
	var interval time.Duration
	if maxSpeed > 0 {
		us := int64(maxPipeline) * 1e6 / int64(maxSpeed)
		if us < 1 {
			us = 1
		}
		interval = time.Duration(us) * time.Microsecond
	}
	return &sink{
		conn:        conn,
		reader:      newReplyReader(conn),
		canceled:    canceled,
		maxPipeline: maxPipeline,
		interval:    interval,
	}
}

// push enqueues one encoded command, flushing when the pipeline fills.
func (s *sink) push(cmd []byte) error {
	s.buf = append(s.buf, cmd...)
	s.pending++
	if s.pending >= s.maxPipeline {
		return s.flush(false)
	}
	return nil
}

// pushArgs encodes and enqueues one command.
func (s *sink) pushArgs(args ...[]byte) error {
	return s.push(AppendCommand(nil, args...))
}

// call flushes anything pending, then sends one command and waits for its
// reply outside the pipeline. Used for the control commands framing the
// transfer.
func (s *sink) call(args ...[]byte) error {
	if s.pending > 0 {
		if err := s.flush(true); err != nil {
			return err
		}
	}
	if err := s.conn.SetWriteDeadline(time.Now().Add(recvTimeout)); err != nil {
		return fmt.Errorf("%w: %v", ErrNetworkIO, err)
	}
	if _, err := s.conn.Write(AppendCommand(nil, args...)); err != nil {
		return fmt.Errorf("%w: %v", ErrNetworkIO, err)
	}
	return s.reader.readReply()
}

// isCanceled reports whether the operator asked the transfer to stop.
func (s *sink) isCanceled() bool {
	return s.canceled != nil && s.canceled()
}

// flush writes the pending pipeline and drains its replies. Without force a
// partially filled pipeline stays buffered. Sends are spaced at least
// interval apart; only the remainder since the previous send is slept, so a
// slow round trip already counts toward the pacing.
func (s *sink) flush(force bool) error {
	if s.isCanceled() {
		return ErrCanceled
	}
	if s.pending == 0 {
		return nil
	}
	if !force && s.pending < s.maxPipeline {
		return nil
	}
	if s.interval > 0 && !s.lastSend.IsZero() {
		if wait := s.interval - time.Since(s.lastSend); wait > 0 {
			time.Sleep(wait)
		}
	}
	if err := s.conn.SetWriteDeadline(time.Now().Add(recvTimeout)); err != nil {
		return fmt.Errorf("%w: %v", ErrNetworkIO, err)
	}
	if _, err := s.conn.Write(s.buf); err != nil {
		return fmt.Errorf("%w: %v", ErrNetworkIO, err)
	}
	s.lastSend = time.Now()
	if err := s.reader.drainReplies(s.pending); err != nil {
		return err
	}
	s.flushes++
	s.commands += uint64(s.pending)
	s.buf = s.buf[:0]
	s.pending = 0
	return nil
}
