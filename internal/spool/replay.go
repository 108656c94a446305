package spool

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"bazelbsp/internal/pbwire"
)

// Replay feeds every event of a finished spool file to handler, stopping
// early at the last event or when ctx ends. It returns the number of events
// handed over.
func Replay(ctx context.Context, path string, handler FrameHandler) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open spool file: %w", err)
	}
	defer f.Close()

	br := bufio.NewReaderSize(f, readChunkSize)
	count := 0
	for {
		if err := ctx.Err(); err != nil {
			return count, err
		}
		msg, err := readFrame(br)
		if errors.Is(err, io.EOF) {
			return count, nil
		}
		if err != nil {
			return count, fmt.Errorf("read event %d: %w", count+1, err)
		}
		count++
		if handler(msg) {
			return count, nil
		}
	}
}

func readFrame(br *bufio.Reader) ([]byte, error) {
	size, err := binary.ReadUvarint(br)
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("frame length: %w", err)
	}
	if err := pbwire.CheckFrameSize(size); err != nil {
		return nil, err
	}
	// The buffer grows with the data actually present, so a length prefix
	// larger than the rest of the file costs no more than the file itself.
	var msg bytes.Buffer
	if _, err := io.CopyN(&msg, br, int64(size)); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return msg.Bytes(), nil
}
