package entry

import (
	"encoding/binary"
	"errors"
	"hash/crc32"
	"io"
)

type RecordType uint8

const (
	RecordCommand RecordType = iota + 1
)

// Record is one framed log entry. Seq is the command id.
type Record struct {
	Type RecordType
	Seq  uint64
	Time int64
	Data []byte
}

// Frame: [type:1][seq:8][time:8][len:4][payload][crc:4]
const headerSize = 1 + 8 + 8 + 4

var ErrCorrupt = errors.New("corrupt wal record")

func encodeRecord(r *Record) []byte {
	payloadLen := uint32(len(r.Data))
	buf := make([]byte, headerSize+int(payloadLen)+4)

	buf[0] = byte(r.Type)
	binary.BigEndian.PutUint64(buf[1:9], r.Seq)
	binary.BigEndian.PutUint64(buf[9:17], uint64(r.Time))
	binary.BigEndian.PutUint32(buf[17:21], payloadLen)
	copy(buf[headerSize:], r.Data)

	crc := crc32.ChecksumIEEE(buf[:headerSize+int(payloadLen)])
	binary.BigEndian.PutUint32(buf[headerSize+int(payloadLen):], crc)
	return buf
}

// readRecord returns io.EOF at a clean segment end and io.ErrUnexpectedEOF
// for a partially written frame.
func readRecord(r io.Reader) (*Record, error) {
	header := make([]byte, headerSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}

	l := binary.BigEndian.Uint32(header[17:21])
	data := make([]byte, int(l)+4)
	if _, err := io.ReadFull(r, data); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}

	payload := data[:l]
	sum := binary.BigEndian.Uint32(data[l:])
	h := crc32.NewIEEE()
	h.Write(header)
	h.Write(payload)
	if h.Sum32() != sum {
		return nil, ErrCorrupt
	}

	return &Record{
		Type: RecordType(header[0]),
		Seq:  binary.BigEndian.Uint64(header[1:9]),
		Time: int64(binary.BigEndian.Uint64(header[9:17])),
		Data: payload,
	}, nil
}
