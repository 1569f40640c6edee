package journal

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"sync"
)

var ErrClosed = errors.New("journal closed")

type Config struct {
	Dir         string
	SegmentSize int64
	// Sync fsyncs after every append.
	Sync bool
}

// Journal is safe for concurrent Append; records land in call order.
type Journal struct {
	mu       sync.Mutex
	dir      string
	segSize  int64
	sync     bool
	current  *segment
	segIndex int
	closed   bool
}

// Open starts a fresh segment after any that already exist, so a torn
// tail left by a crash is never appended to.
func Open(cfg Config) (*Journal, error) {
	if cfg.SegmentSize <= 0 {
		cfg.SegmentSize = 64 << 20
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, err
	}

	files, err := segments(cfg.Dir)
	if err != nil {
		return nil, err
	}
	next := 0
	if len(files) > 0 {
		last, err := segmentIndex(files[len(files)-1])
		if err != nil {
			return nil, fmt.Errorf("journal: bad segment name %s: %w", files[len(files)-1], err)
		}
		next = last + 1
	}

	seg, err := openSegment(cfg.Dir, next)
	if err != nil {
		return nil, err
	}
	return &Journal{
		dir:      cfg.Dir,
		segSize:  cfg.SegmentSize,
		sync:     cfg.Sync,
		current:  seg,
		segIndex: next,
	}, nil
}

func encode(r *Record) []byte {
	payloadLen := uint32(len(r.Data))
	buf := make([]byte, headerSize+int(payloadLen)+crcSize)

	buf[0] = byte(r.Type)
	binary.BigEndian.PutUint64(buf[1:9], r.Seq)
	binary.BigEndian.PutUint64(buf[9:17], uint64(r.Time))
	binary.BigEndian.PutUint32(buf[17:21], payloadLen)
	copy(buf[headerSize:], r.Data)

	crc := checksum(buf[:headerSize+int(payloadLen)])
	binary.BigEndian.PutUint32(buf[headerSize+int(payloadLen):], crc)
	return buf
}

func (j *Journal) Append(r *Record) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return ErrClosed
	}

	if err := j.current.append(encode(r)); err != nil {
		return fmt.Errorf("journal: append seq %d: %w", r.Seq, err)
	}
	if j.sync {
		if err := j.current.sync(); err != nil {
			return fmt.Errorf("journal: sync: %w", err)
		}
	}
	if j.current.offset >= j.segSize {
		return j.rotate()
	}
	return nil
}

func (j *Journal) rotate() error {
	if err := j.current.sync(); err != nil {
		return err
	}
	_ = j.current.close()
	j.segIndex++

	seg, err := openSegment(j.dir, j.segIndex)
	if err != nil {
		return err
	}
	j.current = seg
	return nil
}

// TruncateBefore deletes closed segments whose records are all at or
// below seq. The active segment is never removed.
func (j *Journal) TruncateBefore(seq uint64) error {
	j.mu.Lock()
	active := j.current.path
	j.mu.Unlock()

	files, err := segments(j.dir)
	if err != nil {
		return err
	}
	for _, path := range files {
		if path == active {
			continue
		}
		maxSeq, err := lastSeqInSegment(path)
		if err != nil {
			return err
		}
		if maxSeq <= seq {
			if err := os.Remove(path); err != nil {
				return err
			}
		}
	}
	return nil
}

func (j *Journal) Dir() string {
	return j.dir
}

func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return nil
	}
	j.closed = true
	if err := j.current.sync(); err != nil {
		_ = j.current.close()
		return err
	}
	return j.current.close()
}
