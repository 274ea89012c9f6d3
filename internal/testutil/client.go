package testutil

import (
	"bufio"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/cory-johannsen/colony/internal/protocol"
)

// PacketClient is a line-protocol test client for integration testing.
type PacketClient struct {
	conn   net.Conn
	reader *bufio.Reader
	t      *testing.T
}

// NewPacketClient dials the given address and returns a test client.
//
// Precondition: addr must be a valid "host:port" string with a listening server.
// Postcondition: Returns a connected PacketClient or fails the test.
func NewPacketClient(t *testing.T, addr string) *PacketClient {
	t.Helper()
	start := time.Now()

	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		t.Fatalf("connecting to %s: %v [%s]", addr, err, time.Since(start))
	}
	t.Cleanup(func() {
		conn.Close()
	})

	t.Logf("packet client connected to %s [%s]", addr, time.Since(start))
	return &PacketClient{
		conn:   conn,
		reader: bufio.NewReader(conn),
		t:      t,
	}
}

// Send encodes p and writes it as one line.
func (c *PacketClient) Send(p protocol.Packet) {
	c.t.Helper()
	line, err := protocol.Encode(p)
	if err != nil {
		c.t.Fatalf("encoding %s: %v", p.Command, err)
	}
	c.SendRaw(line)
}

// SendPayload wraps payload in a packet for command and sends it.
func (c *PacketClient) SendPayload(command string, payload any) {
	c.t.Helper()
	p, err := protocol.NewPacket(command, payload)
	if err != nil {
		c.t.Fatalf("building %s: %v", command, err)
	}
	c.Send(p)
}

// SendRaw writes text followed by a newline.
func (c *PacketClient) SendRaw(text string) {
	c.t.Helper()
	_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if _, err := io.WriteString(c.conn, text+"\n"); err != nil {
		c.t.Fatalf("sending %q: %v", text, err)
	}
}

// Receive reads and decodes the next packet, failing the test on timeout.
func (c *PacketClient) Receive(timeout time.Duration) protocol.Packet {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(timeout))
	line, err := c.reader.ReadString('\n')
	if err != nil {
		c.t.Fatalf("reading packet: got %q, error: %v", line, err)
	}
	p, err := protocol.Decode(line)
	if err != nil {
		c.t.Fatalf("decoding %q: %v", line, err)
	}
	return p
}

// ReceiveCommand reads packets until one with the given command arrives.
func (c *PacketClient) ReceiveCommand(command string, timeout time.Duration) protocol.Packet {
	c.t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			c.t.Fatalf("no %s within %s", command, timeout)
		}
		if p := c.Receive(remaining); p.Command == command {
			return p
		}
	}
}

// ExpectClosed waits for the server to close the connection, skipping any
// packets still in flight.
func (c *PacketClient) ExpectClosed(timeout time.Duration) {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(timeout))
	for {
		_, err := c.reader.ReadString('\n')
		if err == nil {
			continue
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			c.t.Fatalf("connection still open after %s", timeout)
		}
		return
	}
}

// Close closes the underlying connection.
func (c *PacketClient) Close() {
	c.conn.Close()
}
