package entry

import (
	"errors"
	"fmt"
	"io"
	"os"
)

type ReplayHandler func(*Record) error

// Replay streams every record in dir through fn and returns the last
// sequence seen. Sequences must strictly increase across segments. A torn
// final frame in a segment (crash during write) ends that segment; damage
// anywhere else is an error.
func Replay(dir string, fn ReplayHandler) (lastSeq uint64, err error) {
	files, err := listSegments(dir)
	if err != nil {
		return 0, err
	}

	for _, path := range files {
		lastSeq, err = replaySegment(path, lastSeq, fn)
		if err != nil {
			return lastSeq, err
		}
	}
	return lastSeq, nil
}

func replaySegment(path string, lastSeq uint64, fn ReplayHandler) (uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return lastSeq, err
	}
	defer f.Close()

	for {
		rec, err := readRecord(f)
		switch {
		case err == nil:
		case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
			return lastSeq, nil
		case errors.Is(err, ErrCorrupt):
			if _, next := readRecord(f); errors.Is(next, io.EOF) {
				return lastSeq, nil
			}
			return lastSeq, fmt.Errorf("%s: %w", path, err)
		default:
			return lastSeq, fmt.Errorf("%s: %w", path, err)
		}

		if rec.Seq <= lastSeq {
			return lastSeq, fmt.Errorf("%s: %w: %d after %d", path, ErrOutOfOrder, rec.Seq, lastSeq)
		}
		lastSeq = rec.Seq

		if err := fn(rec); err != nil {
			return lastSeq, err
		}
	}
}
