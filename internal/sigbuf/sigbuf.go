// Package sigbuf builds the canonical byte buffers that ed25519 signatures
// are computed over. Every signed object in this protocol (move-tokens,
// reset terms, responses, receipts, commits) is serialized the same way: a
// domain-separation tag first, then fixed-order fields, with variable-length
// components length-prefixed by an 8-byte big-endian count.
package sigbuf

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"

	"github.com/go-errors/errors"
)

// Tag identifies the kind of object a signature buffer was built for. Each
// tag is the sha256 of an ASCII domain-separation constant, truncated to
// nothing (the full 32 bytes are used) — this matches the "domain-separation
// tag (hash of an ASCII constant...)" wording of spec.md §4.1.
type Tag [32]byte

func makeTag(constant string) Tag {
	return Tag(sha256.Sum256([]byte(constant)))
}

var (
	// TagMoveToken domain-separates the MoveToken signature buffer.
	TagMoveToken = makeTag("MOVE_TOKEN")

	// TagResetTerms domain-separates the inconsistency reset-terms buffer.
	TagResetTerms = makeTag("RESET_TERMS")

	// TagResponse domain-separates the McResponse signature buffer.
	TagResponse = makeTag("FUND_SUCCESS")

	// TagCancel domain-separates the McCancel (failure) signature buffer.
	TagCancel = makeTag("FUND_CANCEL")

	// TagReceipt domain-separates the buyer-facing Receipt signature buffer.
	TagReceipt = makeTag("FUND_RECEIPT")

	// TagCommit domain-separates the seller-facing Commit signature buffer.
	TagCommit = makeTag("FUND_COMMIT")
)

// ErrTruncated is returned by Reader methods when the remaining buffer is
// shorter than a length prefix claims.
var ErrTruncated = errors.New("sigbuf: length prefix exceeds remaining buffer")

// ErrUnknownTag is returned when a buffer begins with a tag this node does
// not recognise.
var ErrUnknownTag = errors.New("sigbuf: unknown domain-separation tag")

// Size limits guard against a hostile peer claiming an absurd length prefix
// and causing an unbounded allocation.
const maxComponentLen = 1 << 20

// Writer accumulates a canonical signature buffer. All integer helpers are
// big-endian fixed-width; all variable-length helpers are prefixed by an
// 8-byte big-endian count, per spec.md §4.1.
type Writer struct {
	buf bytes.Buffer
}

// NewWriter starts a new signature buffer stamped with tag.
func NewWriter(tag Tag) *Writer {
	w := &Writer{}
	w.buf.Write(tag[:])
	return w
}

// Bytes returns the accumulated canonical buffer.
func (w *Writer) Bytes() []byte { return w.buf.Bytes() }

// PutUint8 appends a single byte.
func (w *Writer) PutUint8(v uint8) *Writer {
	w.buf.WriteByte(v)
	return w
}

// PutUint64 appends a fixed-width 8-byte big-endian integer.
func (w *Writer) PutUint64(v uint64) *Writer {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	w.buf.Write(b[:])
	return w
}

// PutUint128 appends a 128-bit unsigned integer as two big-endian uint64
// halves (high half first), matching the "Integers are big-endian,
// fixed-width" rule of spec.md §4.1 for the McBalance/McRequest u128 fields.
func (w *Writer) PutUint128(hi, lo uint64) *Writer {
	w.PutUint64(hi)
	w.PutUint64(lo)
	return w
}

// PutFixed appends raw fixed-width bytes (public keys, hashes, signatures)
// without a length prefix — their width is implied by the field's kind.
func (w *Writer) PutFixed(b []byte) *Writer {
	w.buf.Write(b)
	return w
}

// PutVarBytes appends a variable-length byte string, 8-byte length-prefixed.
func (w *Writer) PutVarBytes(b []byte) *Writer {
	w.PutUint64(uint64(len(b)))
	w.buf.Write(b)
	return w
}

// PutVarCount appends only the 8-byte length prefix for a nested sequence
// (e.g. a route); the caller then appends each element with PutFixed/PutVarBytes.
func (w *Writer) PutVarCount(n int) *Writer {
	w.PutUint64(uint64(n))
	return w
}

// PutBool appends a single-byte boolean.
func (w *Writer) PutBool(v bool) *Writer {
	if v {
		return w.PutUint8(1)
	}
	return w.PutUint8(0)
}

// Reader parses a canonical signature buffer produced by Writer. It is used
// when a peer's claimed reset-terms or move-token fields must be
// reconstructed from stored state to verify a signature bit-for-bit.
type Reader struct {
	b   []byte
	off int
}

// NewReader wraps b for sequential reads and verifies the leading tag.
func NewReader(b []byte, want Tag) (*Reader, error) {
	if len(b) < len(want) || !bytes.Equal(b[:len(want)], want[:]) {
		return nil, ErrUnknownTag
	}
	return &Reader{b: b, off: len(want)}, nil
}

func (r *Reader) remaining() int { return len(r.b) - r.off }

// ReadFixed reads n raw bytes.
func (r *Reader) ReadFixed(n int) ([]byte, error) {
	if r.remaining() < n {
		return nil, ErrTruncated
	}
	out := r.b[r.off : r.off+n]
	r.off += n
	return out, nil
}

// ReadUint64 reads a fixed-width 8-byte big-endian integer.
func (r *Reader) ReadUint64() (uint64, error) {
	b, err := r.ReadFixed(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}

// ReadUint128 reads a 128-bit unsigned integer as two big-endian halves.
func (r *Reader) ReadUint128() (hi uint64, lo uint64, err error) {
	hi, err = r.ReadUint64()
	if err != nil {
		return 0, 0, err
	}
	lo, err = r.ReadUint64()
	return hi, lo, err
}

// ReadVarBytes reads a length-prefixed variable-length byte string, rejecting
// a claimed length that exceeds what remains in the buffer.
func (r *Reader) ReadVarBytes() ([]byte, error) {
	n, err := r.ReadUint64()
	if err != nil {
		return nil, err
	}
	if n > maxComponentLen || int(n) > r.remaining() {
		return nil, ErrTruncated
	}
	return r.ReadFixed(int(n))
}
