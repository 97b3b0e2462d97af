package main

import (
	"bufio"
	"bytes"
	"context"
	"flag"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"counterd/counter"
	"counterd/observability"
	"counterd/rpc"
)

// The agent is purely reactive: it owns a private counter, reads one request
// envelope per line on stdin and replies with one envelope per line on stdout.
func main() {
	initial := flag.Int64("initial", 0, "initial counter value")
	level := flag.String("log-level", "info", "log level (logs go to stderr)")
	flag.Parse()

	logger := observability.NewLogger(os.Stderr, "counterd-agent", observability.LogConfig{Level: *level})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dispatcher := rpc.NewDispatcher(counter.NewMemory(*initial), logger, nil)
	if err := serve(ctx, dispatcher, os.Stdin, os.Stdout, logger); err != nil {
		logger.Fatal().Err(err).Msg("agent stopped")
	}
}

func serve(ctx context.Context, d *rpc.Dispatcher, in io.Reader, out io.Writer, logger zerolog.Logger) error {
	r := bufio.NewReaderSize(in, 64*1024)
	w := bufio.NewWriter(out)

	for {
		if ctx.Err() != nil {
			return nil
		}
		line, tooLong, readErr := readLine(r)
		if readErr != nil && readErr != io.EOF {
			return readErr
		}

		var (
			status int
			resp   []byte
		)
		line = bytes.TrimSpace(line)
		switch {
		case tooLong:
			status, resp = d.Reject(rpc.PayloadTooLarge())
		case len(line) > 0:
			status, resp = d.Handle(ctx, line)
		}

		if resp != nil {
			if status >= 400 {
				logger.Warn().Int("status", status).Msg("rejected request")
			}
			if _, err := w.Write(append(resp, '\n')); err != nil {
				return err
			}
			if err := w.Flush(); err != nil {
				return err
			}
		}

		// EOF: the caller closed the pipe
		if readErr == io.EOF {
			return nil
		}
	}
}

// readLine returns the next line without its size ever exceeding
// rpc.MaxPayloadBytes: a longer line is drained up to its newline and
// reported as tooLong.
func readLine(r *bufio.Reader) (line []byte, tooLong bool, err error) {
	for {
		chunk, err := r.ReadSlice('\n')
		if !tooLong && len(line)+len(chunk) > rpc.MaxPayloadBytes+1 {
			tooLong = true
			line = nil
		}
		if !tooLong {
			line = append(line, chunk...)
		}
		if err != bufio.ErrBufferFull {
			return line, tooLong, err
		}
	}
}
