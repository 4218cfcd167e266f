// beat-send writes BML blocks to a BEAT dispatcher, one connection per block,
// the way an OpenBEAT generator does.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"beatrelay/internal/sender"

	"github.com/spf13/pflag"
)

func main() {
	if err := run(os.Args[1:], os.Stdin, os.Stderr); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdin io.Reader, stderr io.Writer) error {
	var (
		addr     string
		speaker  string
		file     string
		eachLine bool
		newline  bool
		noFold   bool
		timeout  time.Duration
		verbose  bool
	)

	flagSet := pflag.NewFlagSet("beat-send", pflag.ContinueOnError)
	flagSet.SetOutput(stderr)
	flagSet.StringVarP(&addr, "addr", "a", "127.0.0.1:15000", "dispatcher address")
	flagSet.StringVarP(&speaker, "speaker", "s", "", "character key the block is routed to")
	flagSet.StringVarP(&file, "file", "f", "-", "file holding the BML block, - for stdin")
	flagSet.BoolVar(&eachLine, "each-line", false, "send every non-empty input line as its own block")
	flagSet.BoolVar(&newline, "newline", false, "terminate blocks with a newline, for line framing")
	flagSet.BoolVar(&noFold, "no-fold", false, "send the payload bytes without ASCII folding")
	flagSet.DurationVar(&timeout, "timeout", 5*time.Second, "dial and write timeout per block")
	flagSet.BoolVarP(&verbose, "verbose", "v", false, "log every block sent")

	if err := flagSet.Parse(args); err != nil {
		return err
	}
	if speaker == "" {
		return errors.New("--speaker is required")
	}

	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	opts := []sender.Option{sender.WithTimeout(timeout), sender.WithLogger(logger)}
	if newline {
		opts = append(opts, sender.WithLineTerminator())
	}
	if noFold {
		opts = append(opts, sender.WithoutFolding())
	}
	writer := sender.NewWriter(addr, opts...)

	in := stdin
	if file != "-" {
		f, err := os.Open(file)
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}

	blocks, err := readBlocks(in, eachLine)
	if err != nil {
		return err
	}
	if len(blocks) == 0 {
		return sender.ErrEmptyPayload
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	for _, block := range blocks {
		if err := writer.Send(ctx, speaker, block); err != nil {
			return err
		}
	}
	logger.Info("blocks_sent", "count", len(blocks), "addr", addr, "speaker", speaker)
	return nil
}

// readBlocks returns the whole input as one block, or one block per non-empty line
func readBlocks(r io.Reader, eachLine bool) ([]string, error) {
	if !eachLine {
		data, err := io.ReadAll(r)
		if err != nil {
			return nil, err
		}
		block := strings.TrimRight(string(data), "\r\n")
		if block == "" {
			return nil, nil
		}
		return []string{block}, nil
	}

	var blocks []string
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			blocks = append(blocks, line)
		}
	}
	return blocks, scanner.Err()
}
