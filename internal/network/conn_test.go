package network

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func pipeConn(t *testing.T, maxLine int) (*Conn, net.Conn) {
	t.Helper()
	server, client := net.Pipe()
	t.Cleanup(func() {
		server.Close()
		client.Close()
	})
	return NewConn(server, 2*time.Second, 2*time.Second, maxLine), client
}

func TestConn_ReadLine(t *testing.T) {
	conn, client := pipeConn(t, 1024)

	go func() {
		_, _ = client.Write([]byte("first\nsecond\r\nthird\n"))
	}()

	for _, want := range []string{"first", "second", "third"} {
		line, err := conn.ReadLine()
		require.NoError(t, err)
		assert.Equal(t, want, line)
	}
}

func TestConn_ReadLineEOF(t *testing.T) {
	conn, client := pipeConn(t, 1024)
	go client.Close()

	_, err := conn.ReadLine()
	assert.ErrorIs(t, err, io.EOF)
}

func TestConn_ReadLinePartialFrameOnClose(t *testing.T) {
	conn, client := pipeConn(t, 1024)
	go func() {
		_, _ = client.Write([]byte("half a pack"))
		client.Close()
	}()

	_, err := conn.ReadLine()
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestConn_ReadLineTooLong(t *testing.T) {
	conn, client := pipeConn(t, 16)
	go func() {
		_, _ = client.Write([]byte(strings.Repeat("x", 64) + "\n"))
	}()

	_, err := conn.ReadLine()
	assert.ErrorIs(t, err, ErrLineTooLong)
}

func TestConn_ReadLineLimitExcludesTerminator(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr error
	}{
		{name: "lf at limit", input: strings.Repeat("a", 16) + "\n", want: strings.Repeat("a", 16)},
		{name: "crlf at limit", input: strings.Repeat("b", 16) + "\r\n", want: strings.Repeat("b", 16)},
		{name: "lf over limit", input: strings.Repeat("c", 17) + "\n", wantErr: ErrLineTooLong},
		{name: "crlf over limit", input: strings.Repeat("d", 17) + "\r\n", wantErr: ErrLineTooLong},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn, client := pipeConn(t, 16)
			go func() {
				_, _ = client.Write([]byte(tt.input))
			}()

			line, err := conn.ReadLine()
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, line)
		})
	}
}

func TestConn_ReadLineLongerThanBuffer(t *testing.T) {
	conn, client := pipeConn(t, 1<<20)
	payload := strings.Repeat("y", 200*1024)
	go func() {
		_, _ = client.Write([]byte(payload + "\n"))
	}()

	line, err := conn.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, payload, line)
}

func TestConn_WriteLine(t *testing.T) {
	conn, client := pipeConn(t, 1024)
	reader := bufio.NewReader(client)

	go func() {
		_ = conn.WriteLine("hello")
	}()

	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "hello\n", line)
}

func TestConn_WriteAfterClose(t *testing.T) {
	conn, _ := pipeConn(t, 1024)
	require.NoError(t, conn.Close())
	require.NoError(t, conn.Close(), "close is idempotent")
	assert.True(t, conn.IsClosed())
	assert.ErrorIs(t, conn.WriteLine("late"), ErrClosed)
}

func TestConn_ConcurrentWritersProduceWholeLines(t *testing.T) {
	conn, client := pipeConn(t, 1024)
	const writers = 8
	const perWriter = 50

	var wg sync.WaitGroup
	wg.Add(writers)
	for w := 0; w < writers; w++ {
		go func(w int) {
			defer wg.Done()
			body := strings.Repeat(fmt.Sprintf("%d", w), 300)
			for i := 0; i < perWriter; i++ {
				_ = conn.WriteLine(body)
			}
		}(w)
	}

	reader := bufio.NewReader(client)
	for i := 0; i < writers*perWriter; i++ {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimSuffix(line, "\n")
		require.Len(t, line, 300)
		assert.Equal(t, strings.Repeat(line[:1], 300), line, "line %d was interleaved", i)
	}
	wg.Wait()
}

func TestConn_IDIsUnique(t *testing.T) {
	a, _ := pipeConn(t, 1024)
	b, _ := pipeConn(t, 1024)
	assert.NotEmpty(t, a.ID())
	assert.NotEqual(t, a.ID(), b.ID())
}

func TestPropertyReadLineStripsLineEnding(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		text := rapid.StringMatching(`[a-zA-Z0-9 {}":,]{0,200}`).Draw(rt, "text")
		ending := rapid.SampledFrom([]string{"\n", "\r\n"}).Draw(rt, "ending")

		server, client := net.Pipe()
		defer server.Close()
		defer client.Close()
		conn := NewConn(server, time.Second, time.Second, 4096)

		go func() {
			_, _ = client.Write([]byte(text + ending))
		}()
		line, err := conn.ReadLine()
		if err != nil {
			rt.Fatalf("read: %v", err)
		}
		if line != text {
			rt.Fatalf("got %q, want %q", line, text)
		}
	})
}
