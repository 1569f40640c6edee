package journal

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

var ErrCorrupt = errors.New("journal record corrupt")

type ReplayHandler func(*Record) error

// Replay feeds every record with Seq > after to fn, in order, and returns
// the highest sequence seen. A record cut short at the end of a segment is
// treated as the end of that segment.
func Replay(dir string, after uint64, fn ReplayHandler) (lastSeq uint64, err error) {
	files, err := segments(dir)
	if err != nil {
		return 0, err
	}
	lastSeq = after

	var prev uint64
	for _, path := range files {
		if err := replaySegment(path, func(rec *Record) error {
			if prev != 0 && rec.Seq <= prev {
				return fmt.Errorf("journal: non-monotonic seq %d after %d in %s", rec.Seq, prev, path)
			}
			prev = rec.Seq
			if rec.Seq <= after {
				return nil
			}
			lastSeq = rec.Seq
			return fn(rec)
		}); err != nil {
			return lastSeq, err
		}
	}
	return lastSeq, nil
}

func replaySegment(path string, fn ReplayHandler) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	r := bufio.NewReader(f)
	for {
		rec, err := readRecord(r)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil
			}
			return fmt.Errorf("%s: %w", path, err)
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
}

func readRecord(r io.Reader) (*Record, error) {
	header := make([]byte, headerSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}

	t := RecordType(header[0])
	seq := binary.BigEndian.Uint64(header[1:9])
	ts := binary.BigEndian.Uint64(header[9:17])
	l := binary.BigEndian.Uint32(header[17:21])

	data := make([]byte, int(l)+crcSize)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, err
	}

	payload := data[:l]
	crc := binary.BigEndian.Uint32(data[l:])

	if checksum(append(header, payload...)) != crc {
		return nil, fmt.Errorf("%w: crc mismatch at seq %d", ErrCorrupt, seq)
	}

	return &Record{
		Type: t,
		Seq:  seq,
		Time: int64(ts),
		Data: payload,
	}, nil
}

// lastSeqInSegment is the highest sequence number readable from a
// segment, using the same reader as replay.
func lastSeqInSegment(path string) (uint64, error) {
	var last uint64
	err := replaySegment(path, func(rec *Record) error {
		last = max(last, rec.Seq)
		return nil
	})
	return last, err
}
