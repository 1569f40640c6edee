// Package outbox persists executed trades until the broadcaster has
// handed them to Kafka. Entries move NEW -> SENT -> ACKED; acked entries
// are deleted.
package outbox

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/cockroachdb/pebble"
)

type State uint8

const (
	StateNew State = iota
	StateSent
	StateAcked
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "NEW"
	case StateSent:
		return "SENT"
	case StateAcked:
		return "ACKED"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

var ErrBadRecord = errors.New("invalid outbox record")

type Record struct {
	Seq         uint64
	State       State
	Retries     uint32
	LastAttempt int64
	Key         []byte
	Payload     []byte
}

// [state:1][retries:4][lastAttempt:8][keyLen:2][key][payload]
const fixedSize = 1 + 4 + 8 + 2

func encodeRecord(r *Record) []byte {
	buf := make([]byte, fixedSize+len(r.Key)+len(r.Payload))
	buf[0] = byte(r.State)
	binary.BigEndian.PutUint32(buf[1:5], r.Retries)
	binary.BigEndian.PutUint64(buf[5:13], uint64(r.LastAttempt))
	binary.BigEndian.PutUint16(buf[13:15], uint16(len(r.Key)))
	copy(buf[fixedSize:], r.Key)
	copy(buf[fixedSize+len(r.Key):], r.Payload)
	return buf
}

func decodeRecord(seq uint64, b []byte) (*Record, error) {
	if len(b) < fixedSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrBadRecord, len(b))
	}
	kl := int(binary.BigEndian.Uint16(b[13:15]))
	if len(b) < fixedSize+kl {
		return nil, fmt.Errorf("%w: key overruns value", ErrBadRecord)
	}
	return &Record{
		Seq:         seq,
		State:       State(b[0]),
		Retries:     binary.BigEndian.Uint32(b[1:5]),
		LastAttempt: int64(binary.BigEndian.Uint64(b[5:13])),
		Key:         bytes.Clone(b[fixedSize : fixedSize+kl]),
		Payload:     bytes.Clone(b[fixedSize+kl:]),
	}, nil
}

type Outbox struct {
	db  *pebble.DB
	now func() time.Time
}

func Open(dir string) (*Outbox, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("outbox: open %s: %w", dir, err)
	}
	return &Outbox{db: db, now: time.Now}, nil
}

func (o *Outbox) Close() error {
	return o.db.Close()
}

// Put stores a new entry. Existing entries under seq are overwritten.
func (o *Outbox) Put(seq uint64, key, payload []byte) error {
	rec := &Record{Seq: seq, State: StateNew, Key: key, Payload: payload}
	return o.db.Set(keyFor(seq), encodeRecord(rec), pebble.Sync)
}

// PutBatch stores several entries atomically.
func (o *Outbox) PutBatch(recs []*Record) error {
	b := o.db.NewBatch()
	defer b.Close()
	for _, r := range recs {
		r.State = StateNew
		if err := b.Set(keyFor(r.Seq), encodeRecord(r), nil); err != nil {
			return err
		}
	}
	return b.Commit(pebble.Sync)
}

func (o *Outbox) Get(seq uint64) (*Record, error) {
	val, closer, err := o.db.Get(keyFor(seq))
	if err != nil {
		return nil, err
	}
	defer closer.Close()
	return decodeRecord(seq, val)
}

// MarkSent records a delivery attempt.
func (o *Outbox) MarkSent(seq uint64) error {
	return o.update(seq, func(r *Record) {
		r.State = StateSent
		r.LastAttempt = o.now().UnixNano()
	})
}

func (o *Outbox) MarkFailed(seq uint64) error {
	return o.update(seq, func(r *Record) {
		r.State = StateFailed
		r.Retries++
		r.LastAttempt = o.now().UnixNano()
	})
}

// MarkAcked removes a delivered entry.
func (o *Outbox) MarkAcked(seq uint64) error {
	return o.db.Delete(keyFor(seq), pebble.Sync)
}

func (o *Outbox) update(seq uint64, fn func(*Record)) error {
	rec, err := o.Get(seq)
	if err != nil {
		return err
	}
	fn(rec)
	return o.db.Set(keyFor(seq), encodeRecord(rec), pebble.Sync)
}

// ScanPending visits every undelivered entry in sequence order.
func (o *Outbox) ScanPending(fn func(*Record) error) error {
	iter, err := o.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(keyPrefix),
		UpperBound: []byte(keyPrefix + "~"),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		seq, err := parseKey(iter.Key())
		if err != nil {
			return err
		}
		rec, err := decodeRecord(seq, iter.Value())
		if err != nil {
			return err
		}
		if rec.State == StateAcked {
			continue
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return iter.Error()
}

// Pending counts undelivered entries.
func (o *Outbox) Pending() (int, error) {
	n := 0
	err := o.ScanPending(func(*Record) error {
		n++
		return nil
	})
	return n, err
}

const keyPrefix = "trade/"

func keyFor(seq uint64) []byte {
	return []byte(fmt.Sprintf(keyPrefix+"%020d", seq))
}

func parseKey(b []byte) (uint64, error) {
	var seq uint64
	_, err := fmt.Sscanf(string(bytes.TrimPrefix(b, []byte(keyPrefix))), "%d", &seq)
	return seq, err
}

// LastSeq returns the highest sequence stored, or 0 when empty.
func (o *Outbox) LastSeq() (uint64, error) {
	iter, err := o.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(keyPrefix),
		UpperBound: []byte(keyPrefix + "~"),
	})
	if err != nil {
		return 0, err
	}
	defer iter.Close()
	if !iter.Last() {
		return 0, iter.Error()
	}
	return parseKey(iter.Key())
}
