package snapshot

import (
	"bytes"
	"compress/gzip"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"

	"google.golang.org/protobuf/encoding/protowire"
)

const codecVersion = 1

// Envelope field numbers.
const (
	fieldVersion   protowire.Number = 1
	fieldCommandID protowire.Number = 2
	fieldSymbol    protowire.Number = 3
	fieldCreatedAt protowire.Number = 4
	fieldChecksum  protowire.Number = 5
	fieldBody      protowire.Number = 6
)

// Header is the envelope metadata, readable without inflating the body.
type Header struct {
	Version   uint64
	CommandID uint64
	Symbol    string
	CreatedAt int64
	Checksum  []byte
}

// Encode wraps the gzip'd JSON body in a protobuf-wire envelope carrying the
// sha256 of the uncompressed body.
func Encode(s *Snapshot) ([]byte, error) {
	body, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	sum := sha256.Sum256(body)

	var zbuf bytes.Buffer
	zw := gzip.NewWriter(&zbuf)
	if _, err := zw.Write(body); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}

	var b []byte
	b = protowire.AppendTag(b, fieldVersion, protowire.VarintType)
	b = protowire.AppendVarint(b, codecVersion)
	b = protowire.AppendTag(b, fieldCommandID, protowire.VarintType)
	b = protowire.AppendVarint(b, s.CommandID)
	if s.Symbol != "" {
		b = protowire.AppendTag(b, fieldSymbol, protowire.BytesType)
		b = protowire.AppendString(b, s.Symbol)
	}
	b = protowire.AppendTag(b, fieldCreatedAt, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(s.CreatedAt))
	b = protowire.AppendTag(b, fieldChecksum, protowire.BytesType)
	b = protowire.AppendBytes(b, sum[:])
	b = protowire.AppendTag(b, fieldBody, protowire.BytesType)
	b = protowire.AppendBytes(b, zbuf.Bytes())
	return b, nil
}

// Decode verifies the checksum and returns the snapshot.
func Decode(b []byte) (*Snapshot, error) {
	h, zbody, err := decodeEnvelope(b)
	if err != nil {
		return nil, err
	}
	if h.Version != codecVersion {
		return nil, fmt.Errorf("%w: codec version %d", ErrInvalidSnapshot, h.Version)
	}

	zr, err := gzip.NewReader(bytes.NewReader(zbody))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSnapshot, err)
	}
	body, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSnapshot, err)
	}

	sum := sha256.Sum256(body)
	if !bytes.Equal(sum[:], h.Checksum) {
		return nil, fmt.Errorf("%w: checksum mismatch at command %d", ErrInvalidSnapshot, h.CommandID)
	}

	var s Snapshot
	if err := json.Unmarshal(body, &s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSnapshot, err)
	}
	if s.CommandID != h.CommandID || s.Symbol != h.Symbol {
		return nil, fmt.Errorf("%w: header does not match body", ErrInvalidSnapshot)
	}
	return &s, nil
}

// DecodeHeader reads only the envelope metadata.
func DecodeHeader(b []byte) (Header, error) {
	h, _, err := decodeEnvelope(b)
	return h, err
}

func decodeEnvelope(b []byte) (Header, []byte, error) {
	var (
		h    Header
		body []byte
	)
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return h, nil, fmt.Errorf("%w: %v", ErrInvalidSnapshot, protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case typ == protowire.VarintType && (num == fieldVersion || num == fieldCommandID || num == fieldCreatedAt):
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return h, nil, fmt.Errorf("%w: %v", ErrInvalidSnapshot, protowire.ParseError(n))
			}
			b = b[n:]
			switch num {
			case fieldVersion:
				h.Version = v
			case fieldCommandID:
				h.CommandID = v
			case fieldCreatedAt:
				h.CreatedAt = int64(v)
			}
		case typ == protowire.BytesType && (num == fieldSymbol || num == fieldChecksum || num == fieldBody):
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return h, nil, fmt.Errorf("%w: %v", ErrInvalidSnapshot, protowire.ParseError(n))
			}
			b = b[n:]
			switch num {
			case fieldSymbol:
				h.Symbol = string(v)
			case fieldChecksum:
				h.Checksum = v
			case fieldBody:
				body = v
			}
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return h, nil, fmt.Errorf("%w: %v", ErrInvalidSnapshot, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	if body == nil {
		return h, nil, fmt.Errorf("%w: missing body", ErrInvalidSnapshot)
	}
	return h, body, nil
}
