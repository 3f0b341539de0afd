package wire

import (
	"encoding/binary"
	"fmt"
	"io"
	"math/big"

	"github.com/go-errors/errors"
	"github.com/meshcredit/fundd/internal/mutualcredit"
)

// MaxMessagePayload bounds any single message's encoded payload, following
// the teacher's lnwire.MaxMessagePayload guard against a hostile peer
// claiming an unbounded length.
const MaxMessagePayload = 1 << 20

// ErrMessageTooLarge is returned by WriteMessage/ReadMessage when the
// encoded payload exceeds MaxMessagePayload.
var ErrMessageTooLarge = errors.New("wire: message payload exceeds maximum")

// ErrUnknownMessageType is returned by ReadMessage for an unrecognised type.
var ErrUnknownMessageType = errors.New("wire: unknown message type")

func makeEmptyMessage(t MessageType) (Message, error) {
	switch t {
	case MsgMoveTokenRequest:
		return &MoveTokenRequest{}, nil
	case MsgInconsistencyError:
		return &InconsistencyError{}, nil
	case MsgRelaysUpdate:
		return &RelaysUpdate{}, nil
	case MsgKeepAlive:
		return &KeepAlive{}, nil
	case MsgRequestToken:
		return &RequestToken{}, nil
	default:
		return nil, errors.Wrap(fmt.Errorf("%w: %d", ErrUnknownMessageType, t), 0)
	}
}

// WriteMessage writes the 4-byte big-endian length prefix, the 2-byte
// message type, then the encoded payload, per spec.md §6.
func WriteMessage(w io.Writer, msg Message) (int, error) {
	var payload bufWriter
	if err := msg.Encode(&payload); err != nil {
		return 0, err
	}
	if len(payload.b) > MaxMessagePayload {
		return 0, ErrMessageTooLarge
	}

	var hdr [6]byte
	binary.BigEndian.PutUint32(hdr[0:4], uint32(len(payload.b)+2))
	binary.BigEndian.PutUint16(hdr[4:6], uint16(msg.MsgType()))

	n, err := w.Write(hdr[:])
	if err != nil {
		return n, err
	}
	n2, err := w.Write(payload.b)
	return n + n2, err
}

// ReadMessage reads one length-prefixed message from r.
func ReadMessage(r io.Reader) (Message, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	total := binary.BigEndian.Uint32(lenBuf[:])
	if total < 2 || total > MaxMessagePayload {
		return nil, ErrMessageTooLarge
	}

	body := make([]byte, total)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}

	msgType := MessageType(binary.BigEndian.Uint16(body[0:2]))
	msg, err := makeEmptyMessage(msgType)
	if err != nil {
		return nil, err
	}
	if err := msg.Decode(bytesReader(body[2:])); err != nil {
		return nil, err
	}
	return msg, nil
}

// bufWriter is a minimal growable byte sink, avoiding a bytes.Buffer import
// cycle concern while keeping the same semantics.
type bufWriter struct{ b []byte }

func (b *bufWriter) Write(p []byte) (int, error) {
	b.b = append(b.b, p...)
	return len(p), nil
}

func bytesReader(b []byte) *byteReader { return &byteReader{b: b} }

type byteReader struct {
	b   []byte
	off int
}

func (r *byteReader) Read(p []byte) (int, error) {
	if r.off >= len(r.b) {
		return 0, io.EOF
	}
	n := copy(p, r.b[r.off:])
	r.off += n
	return n, nil
}

// --- element helpers, in the style of lnwire's writeElements/readElements ---

func writeUint8(w io.Writer, v uint8) error {
	_, err := w.Write([]byte{v})
	return err
}

func readUint8(r io.Reader) (uint8, error) {
	var b [1]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return b[0], nil
}

func writeUint64(w io.Writer, v uint64) error {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	_, err := w.Write(b[:])
	return err
}

func readUint64(r io.Reader) (uint64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b[:]), nil
}

func writeFixed(w io.Writer, b []byte) error {
	_, err := w.Write(b)
	return err
}

func readFixed(r io.Reader, n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	return b, nil
}

func writeVarBytes(w io.Writer, b []byte) error {
	if err := writeUint64(w, uint64(len(b))); err != nil {
		return err
	}
	return writeFixed(w, b)
}

func readVarBytes(r io.Reader) ([]byte, error) {
	n, err := readUint64(r)
	if err != nil {
		return nil, err
	}
	if n > MaxMessagePayload {
		return nil, ErrMessageTooLarge
	}
	return readFixed(r, int(n))
}

func writeBool(w io.Writer, v bool) error {
	if v {
		return writeUint8(w, 1)
	}
	return writeUint8(w, 0)
}

func readBool(r io.Reader) (bool, error) {
	v, err := readUint8(r)
	return v == 1, err
}

// writeUint128 writes a non-negative big.Int in exactly 16 bytes, matching
// spec.md §4.1's "fixed-width" rule for u128 fields (DestPayment, FeesTaken,
// move_token_counter, SetRemoteMaxDebt's amount). Values wider than 128 bits
// are rejected by the caller before reaching the wire.
func writeUint128(w io.Writer, v *big.Int) error {
	b := v.Bytes()
	if len(b) > 16 {
		return errors.New("wire: value does not fit in 128 bits")
	}
	var buf [16]byte
	copy(buf[16-len(b):], b)
	return writeFixed(w, buf[:])
}

func readUint128(r io.Reader) (*big.Int, error) {
	b, err := readFixed(r, 16)
	if err != nil {
		return nil, err
	}
	return new(big.Int).SetBytes(b), nil
}

// writeInt128 writes a signed value (the Balance field) as a sign byte
// followed by the 16-byte magnitude.
func writeInt128(w io.Writer, v *big.Int) error {
	sign := uint8(0)
	if v.Sign() < 0 {
		sign = 1
	}
	if err := writeUint8(w, sign); err != nil {
		return err
	}
	return writeUint128(w, new(big.Int).Abs(v))
}

func readInt128(r io.Reader) (*big.Int, error) {
	sign, err := readUint8(r)
	if err != nil {
		return nil, err
	}
	mag, err := readUint128(r)
	if err != nil {
		return nil, err
	}
	if sign == 1 {
		mag.Neg(mag)
	}
	return mag, nil
}

func writePublicKey(w io.Writer, pk mutualcredit.PublicKey) error {
	return writeFixed(w, pk[:])
}

func readPublicKey(r io.Reader) (mutualcredit.PublicKey, error) {
	var pk mutualcredit.PublicKey
	b, err := readFixed(r, 32)
	if err != nil {
		return pk, err
	}
	copy(pk[:], b)
	return pk, nil
}

func writeRequestID(w io.Writer, id mutualcredit.RequestID) error {
	return writeFixed(w, id[:])
}

func readRequestID(r io.Reader) (mutualcredit.RequestID, error) {
	var id mutualcredit.RequestID
	b, err := readFixed(r, 16)
	if err != nil {
		return id, err
	}
	copy(id[:], b)
	return id, nil
}

func writeHash32(w io.Writer, h mutualcredit.Hash32) error {
	return writeFixed(w, h[:])
}

func readHash32(r io.Reader) (mutualcredit.Hash32, error) {
	var h mutualcredit.Hash32
	b, err := readFixed(r, 32)
	if err != nil {
		return h, err
	}
	copy(h[:], b)
	return h, nil
}
