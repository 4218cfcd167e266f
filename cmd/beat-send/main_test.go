package main

import (
	"bytes"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// collect accepts n connections and returns what each one sent
func collect(t *testing.T, n int) (string, <-chan string) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	got := make(chan string, n)
	go func() {
		for i := 0; i < n; i++ {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			data, _ := io.ReadAll(conn)
			conn.Close()
			got <- string(data)
		}
	}()
	return ln.Addr().String(), got
}

func receive(t *testing.T, got <-chan string) string {
	t.Helper()
	select {
	case s := <-got:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("nothing received")
		return ""
	}
}

func TestRun_SendsStdinAsOneBlock(t *testing.T) {
	addr, got := collect(t, 1)

	stdin := strings.NewReader("<speech>Góðan daginn</speech>\n")
	require.NoError(t, run([]string{"--addr", addr, "-s", "Rob"}, stdin, io.Discard))

	assert.Equal(t, "Rob|BEAT|<speech>Godan daginn</speech>", receive(t, got))
}

func TestRun_EachLine(t *testing.T) {
	addr, got := collect(t, 2)

	stdin := strings.NewReader("<gaze/>\n\n<head type=\"NOD\"/>\n")
	require.NoError(t, run([]string{"--addr", addr, "--speaker", "SuperHumanoid", "--each-line", "--newline", "--no-fold"}, stdin, io.Discard))

	assert.Equal(t, "SuperHumanoid|BEAT|<gaze/>\n", receive(t, got))
	assert.Equal(t, "SuperHumanoid|BEAT|<head type=\"NOD\"/>\n", receive(t, got))
}

func TestRun_Errors(t *testing.T) {
	var stderr bytes.Buffer

	err := run([]string{"--addr", "127.0.0.1:1"}, strings.NewReader("<x/>"), &stderr)
	assert.ErrorContains(t, err, "--speaker")

	err = run([]string{"-s", "Rob"}, strings.NewReader("\n"), &stderr)
	assert.Error(t, err)

	err = run([]string{"-s", "Rob", "--file", "/does/not/exist.bml"}, strings.NewReader(""), &stderr)
	assert.Error(t, err)

	err = run([]string{"--bogus"}, strings.NewReader(""), &stderr)
	assert.Error(t, err)
}

func TestReadBlocks(t *testing.T) {
	blocks, err := readBlocks(strings.NewReader("<a/>\r\n"), false)
	require.NoError(t, err)
	assert.Equal(t, []string{"<a/>"}, blocks)

	blocks, err = readBlocks(strings.NewReader(" <a/> \n<b/>"), true)
	require.NoError(t, err)
	assert.Equal(t, []string{"<a/>", "<b/>"}, blocks)

	blocks, err = readBlocks(strings.NewReader(""), false)
	require.NoError(t, err)
	assert.Empty(t, blocks)
}
