package sender

import (
	"context"
	"io"
	"net"
	"sync"
	"testing"
	"time"
	"unicode"

	"beatrelay/internal/microservices/tcp"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFoldASCII(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Þórður", "Thordur"},
		{"ÆSIR æsir", "AeSIR aesir"},
		{"Ölvir Ýr Íris Úlfur Éljagangur", "Olvir Yr Iris Ulfur Eljagangur"},
		{"Ðóra á", "Dora a"},
		{"café naïve", "cafe naive"},
		{`<speech id="s1">Halló</speech>`, `<speech id="s1">Hallo</speech>`},
		{"plain ascii", "plain ascii"},
		{"Straße Søren Œuvre Łódź", "Strasse Soren Oeuvre Lodz"},
		{"こんにちは ok", "????? ok"},
	}
	for _, tc := range cases {
		got := FoldASCII(tc.in)
		assert.Equal(t, tc.want, got, tc.in)
		for _, r := range got {
			assert.LessOrEqual(t, r, rune(unicode.MaxASCII), tc.in)
		}
	}
}

// acceptOne returns the bytes of the first connection made to the listener
func acceptOne(t *testing.T) (string, <-chan []byte) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	got := make(chan []byte, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		data, _ := io.ReadAll(conn)
		got <- data
	}()
	return ln.Addr().String(), got
}

func TestWriter_Send(t *testing.T) {
	addr, got := acceptOne(t)

	w := NewWriter(addr, WithTimeout(time.Second))
	require.NoError(t, w.Send(context.Background(), "Rob", `<speech>Góðan dag</speech>`))

	select {
	case data := <-got:
		assert.Equal(t, "Rob|BEAT|<speech>Godan dag</speech>", string(data))
	case <-time.After(2 * time.Second):
		t.Fatal("server never received the block")
	}
}

func TestWriter_SendOptions(t *testing.T) {
	addr, got := acceptOne(t)

	w := NewWriter(addr, WithLineTerminator(), WithoutFolding())
	require.NoError(t, w.Send(context.Background(), "", "Þ"))

	select {
	case data := <-got:
		assert.Equal(t, "|BEAT|Þ\n", string(data))
	case <-time.After(2 * time.Second):
		t.Fatal("server never received the block")
	}
}

func TestWriter_Errors(t *testing.T) {
	t.Run("EmptyPayload", func(t *testing.T) {
		w := NewWriter("127.0.0.1:1")
		assert.ErrorIs(t, w.Send(context.Background(), "Rob", ""), ErrEmptyPayload)
	})

	t.Run("NobodyListening", func(t *testing.T) {
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		addr := ln.Addr().String()
		ln.Close()

		w := NewWriter(addr, WithTimeout(500*time.Millisecond))
		err = w.Send(context.Background(), "Rob", "<walk/>")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "cannot send BML block")
	})
}

type capture struct {
	mu       sync.Mutex
	payloads []string
}

func (c *capture) ApplyBehavior(ctx context.Context, payload string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.payloads = append(c.payloads, payload)
	return nil
}

func (c *capture) snapshot() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.payloads...)
}

func TestWriter_EndToEndWithDispatcher(t *testing.T) {
	rob := &capture{}
	reg, err := tcp.NewRegistry(map[string]tcp.Target{"Rob": rob})
	require.NoError(t, err)

	cfg := tcp.DefaultConfig()
	cfg.Addr = "127.0.0.1:0"
	cfg.Reader.Framing = tcp.FramingStream
	d, err := tcp.NewDispatcher(reg, cfg)
	require.NoError(t, err)
	d.Start()
	defer d.Stop()

	w := NewWriter(d.Addr().String())
	require.NoError(t, w.Send(context.Background(), "Rob", `<gaze target="Camera"/>`))
	require.NoError(t, w.Send(context.Background(), "Rob", `<speech>Já</speech>`))

	ctx := context.Background()
	require.Eventually(t, func() bool {
		d.Tick(ctx)
		return len(rob.snapshot()) == 2
	}, 2*time.Second, 10*time.Millisecond)

	assert.ElementsMatch(t, []string{`<gaze target="Camera"/>`, `<speech>Ja</speech>`}, rob.snapshot())
}
