// Package network owns the game listener and the line-framed client transport.
package network

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// ErrLineTooLong is returned by ReadLine when a client sends a line larger than
// the configured limit.
var ErrLineTooLong = errors.New("line exceeds maximum length")

// ErrClosed is returned by WriteLine after Close.
var ErrClosed = errors.New("connection closed")

// Conn wraps a TCP connection with newline framing. Reads are expected from a
// single goroutine; writes may come from any goroutine and are serialised so
// that each line reaches the wire whole.
type Conn struct {
	id     string
	raw    net.Conn
	reader *bufio.Reader
	mu     sync.Mutex
	closed atomic.Bool

	readTimeout  time.Duration
	writeTimeout time.Duration
	maxLine      int
}

// NewConn wraps a raw TCP connection.
//
// Precondition: raw must be a valid, open network connection; maxLine must be > 0.
// Postcondition: Returns a Conn with a fresh session id, ready for reading and writing.
func NewConn(raw net.Conn, readTimeout, writeTimeout time.Duration, maxLine int) *Conn {
	return &Conn{
		id:           uuid.NewString(),
		raw:          raw,
		reader:       bufio.NewReaderSize(raw, 64*1024),
		readTimeout:  readTimeout,
		writeTimeout: writeTimeout,
		maxLine:      maxLine,
	}
}

// ID returns the session id assigned when the connection was accepted.
func (c *Conn) ID() string {
	return c.id
}

// ReadLine blocks until a full line is available and returns it without the
// trailing \n or \r\n.
//
// Postcondition: Returns the next line, or an error (io.EOF, a timeout, ErrLineTooLong).
func (c *Conn) ReadLine() (string, error) {
	if c.readTimeout > 0 {
		_ = c.raw.SetReadDeadline(time.Now().Add(c.readTimeout))
	}

	var line bytes.Buffer
	for {
		chunk, err := c.reader.ReadSlice('\n')
		// Room for content plus a \r\n terminator; exact length is checked after trimming.
		if line.Len()+len(chunk) > c.maxLine+2 {
			return "", ErrLineTooLong
		}
		line.Write(chunk)
		if err == nil {
			break
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if errors.Is(err, io.EOF) && line.Len() > 0 {
			// Peer closed mid-line; the partial frame is discarded.
			return "", io.ErrUnexpectedEOF
		}
		return "", err
	}

	text := bytes.TrimRight(line.Bytes(), "\r\n")
	if len(text) > c.maxLine {
		return "", ErrLineTooLong
	}
	return string(text), nil
}

// WriteLine sends text followed by \n as a single write.
//
// Precondition: text must not contain newline characters.
// Postcondition: The whole line is written, or an error is returned and nothing
// else is interleaved with the partial write.
func (c *Conn) WriteLine(text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return ErrClosed
	}
	if c.writeTimeout > 0 {
		_ = c.raw.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	buf := make([]byte, 0, len(text)+1)
	buf = append(buf, text...)
	buf = append(buf, '\n')
	_, err := c.raw.Write(buf)
	return err
}

// Close closes the underlying TCP connection. Safe to call more than once and
// from any goroutine; a blocked ReadLine returns with an error.
func (c *Conn) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	return c.raw.Close()
}

// IsClosed reports whether Close has been called.
func (c *Conn) IsClosed() bool {
	return c.closed.Load()
}

// RemoteAddr returns the remote network address of the client.
func (c *Conn) RemoteAddr() net.Addr {
	return c.raw.RemoteAddr()
}

// RemoteIP returns the host part of the remote address.
func (c *Conn) RemoteIP() string {
	addr := c.raw.RemoteAddr().String()
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
