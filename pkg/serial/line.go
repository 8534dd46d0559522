package serial

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"sync"
)

// Conn is the byte transport under a LineConn. *Port satisfies it; tests
// substitute an in-memory implementation.
type Conn interface {
	Read(buf []byte) (int, error)
	Write(buf []byte) (int, error)
	Close() error
}

// maxLineLength bounds the receive buffer. A telegram with every defined
// key is under 120 bytes; anything this long is a framing failure.
const maxLineLength = 4096

// ErrLineTooLong is returned when the peer sends more than maxLineLength
// bytes without a newline.
var ErrLineTooLong = errors.New("serial: line too long")

// LineConn frames a byte stream into newline-terminated lines. Telegrams
// travel one per line; trailing \r is stripped so CRLF peers work too.
type LineConn struct {
	mu     sync.Mutex
	conn   Conn
	buf    []byte
	lines  []string
	closed bool
}

// NewLineConn wraps conn with line framing.
func NewLineConn(conn Conn) *LineConn {
	return &LineConn{conn: conn}
}

// SendLine writes one line to the peer, appending the newline terminator.
func (lc *LineConn) SendLine(line string) error {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	if lc.closed {
		return ErrClosed
	}

	out := []byte(line + "\n")
	for len(out) > 0 {
		n, err := lc.conn.Write(out)
		if err != nil {
			return err
		}
		out = out[n:]
	}
	return nil
}

// PollLine returns the next complete line if one is available. A timeout
// on the underlying read is not an error; it returns ("", false, nil) so
// the caller's poll loop simply tries again next period.
func (lc *LineConn) PollLine() (string, bool, error) {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	if lc.closed {
		return "", false, ErrClosed
	}

	if line, ok := lc.popLine(); ok {
		return line, true, nil
	}

	var chunk [512]byte
	n, err := lc.conn.Read(chunk[:])
	if n > 0 {
		lc.buf = append(lc.buf, chunk[:n]...)
		lc.splitLines()
	}
	if err != nil {
		if errors.Is(err, ErrTimeout) {
			err = nil
		} else if errors.Is(err, io.EOF) && n > 0 {
			// Deliver what arrived with the EOF; the next poll reports it.
			err = nil
		}
		if err != nil {
			return "", false, err
		}
	}

	line, ok := lc.popLine()
	return line, ok, nil
}

// splitLines moves complete lines from buf into the ready queue.
func (lc *LineConn) splitLines() {
	for {
		idx := bytes.IndexByte(lc.buf, '\n')
		if idx < 0 {
			break
		}
		line := strings.TrimSuffix(string(lc.buf[:idx]), "\r")
		lc.buf = lc.buf[idx+1:]
		lc.lines = append(lc.lines, line)
	}
}

func (lc *LineConn) popLine() (string, bool) {
	if len(lc.buf) > maxLineLength {
		// Discard the runaway partial line rather than grow forever.
		lc.buf = lc.buf[:0]
	}
	if len(lc.lines) == 0 {
		return "", false
	}
	line := lc.lines[0]
	lc.lines = lc.lines[1:]
	return line, true
}

// Close closes the underlying transport. Safe to call twice.
func (lc *LineConn) Close() error {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	if lc.closed {
		return nil
	}
	lc.closed = true
	return lc.conn.Close()
}
