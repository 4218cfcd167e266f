package tcp

import (
	"bytes"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// listenPipe runs a line-framed reader on one end of a pipe and returns the
// other end plus a func that waits for the reader and lists what it delivered
func listenPipe(t *testing.T, cfg ReaderConfig, logs io.Writer) (net.Conn, func() []string) {
	t.Helper()
	server, client := net.Pipe()
	t.Cleanup(func() { client.Close() })

	logger := slog.New(slog.NewJSONHandler(logs, nil))
	peer := NewPeerConnection(server, cfg, logger)

	var mu sync.Mutex
	var got []string
	done := make(chan struct{})
	go func() {
		defer close(done)
		peer.Listen(func(in Inbound) bool {
			mu.Lock()
			defer mu.Unlock()
			got = append(got, string(in.Data))
			return true
		})
	}()

	wait := func() []string {
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("reader did not finish")
		}
		mu.Lock()
		defer mu.Unlock()
		return got
	}
	return client, wait
}

func TestReadLines_SkipsOversizedLineAcrossBufferRefills(t *testing.T) {
	var logs bytes.Buffer
	client, wait := listenPipe(t, ReaderConfig{Framing: FramingLine, MaxMessageSize: 1024}, &logs)

	long := strings.Repeat("y", 1024*1024)
	go func() {
		client.Write([]byte("Rob|BEAT|<a/>\n"))
		client.Write([]byte(long))
		client.Write([]byte("\nRob|BEAT|<b/>\n"))
		client.Close()
	}()

	assert.Equal(t, []string{"Rob|BEAT|<a/>", "Rob|BEAT|<b/>"}, wait())
	assert.Equal(t, 1, strings.Count(logs.String(), `"msg":"message_too_large"`))
	assert.Contains(t, logs.String(), `"size":1048577`)
}

func TestReadLines_LineAtTheLimitIsKept(t *testing.T) {
	var logs bytes.Buffer
	client, wait := listenPipe(t, ReaderConfig{Framing: FramingLine, MaxMessageSize: 16}, &logs)

	exact := "Rob|BEAT|<1234/>" // 16 bytes
	require.Len(t, exact, 16)
	go func() {
		client.Write([]byte(exact + "\r\n"))
		client.Write([]byte(exact + "x\n"))
		client.Write([]byte("Rob|BEAT|<c/>"))
		client.Close()
	}()

	assert.Equal(t, []string{exact, "Rob|BEAT|<c/>"}, wait())
	assert.Equal(t, 1, strings.Count(logs.String(), `"msg":"message_too_large"`))
}

func TestReadLines_OversizedTailAtEOF(t *testing.T) {
	var logs bytes.Buffer
	client, wait := listenPipe(t, ReaderConfig{Framing: FramingLine, MaxMessageSize: 8}, &logs)

	go func() {
		client.Write([]byte("Rob|BEAT|<far too long/>"))
		client.Close()
	}()

	assert.Empty(t, wait())
	assert.Contains(t, logs.String(), `"msg":"message_too_large"`)
	assert.Contains(t, logs.String(), `"msg":"client_disconnected"`)
}
