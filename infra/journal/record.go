package journal

import (
	"hash/crc32"
	"time"
)

type RecordType uint8

const (
	RecordSubmit RecordType = iota + 1
	RecordCancel
	RecordSpreadConfig
)

func (t RecordType) String() string {
	switch t {
	case RecordSubmit:
		return "submit"
	case RecordCancel:
		return "cancel"
	case RecordSpreadConfig:
		return "spread-config"
	default:
		return "unknown"
	}
}

type Record struct {
	Type RecordType
	Seq  uint64
	Time int64
	Data []byte
}

func NewRecord(t RecordType, seq uint64, at time.Time, data []byte) *Record {
	return &Record{
		Type: t,
		Seq:  seq,
		Time: at.UnixNano(),
		Data: data,
	}
}

// At returns the record time.
func (r *Record) At() time.Time {
	return time.Unix(0, r.Time).UTC()
}

const (
	headerSize = 1 + 8 + 8 + 4
	crcSize    = 4
)

func checksum(data []byte) uint32 {
	return crc32.ChecksumIEEE(data)
}
