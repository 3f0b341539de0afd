package wire

import (
	"io"

	"github.com/meshcredit/fundd/internal/mutualcredit"
)

// Encode writes a ResetTerms per spec.md §4.3.
func (rt *ResetTerms) Encode(w io.Writer) error {
	if err := writeUint64(w, rt.InconsistencyCounter); err != nil {
		return err
	}
	if err := writeUint64(w, uint64(len(rt.BalancesForReset))); err != nil {
		return err
	}
	for _, b := range rt.BalancesForReset {
		if err := writeVarBytes(w, []byte(b.Currency)); err != nil {
			return err
		}
		if err := writeInt128(w, b.Balance); err != nil {
			return err
		}
	}
	return writeFixed(w, rt.ResetToken[:])
}

// Decode reads a ResetTerms written by Encode.
func (rt *ResetTerms) Decode(r io.Reader) error {
	var err error
	rt.InconsistencyCounter, err = readUint64(r)
	if err != nil {
		return err
	}

	n, err := readUint64(r)
	if err != nil {
		return err
	}
	rt.BalancesForReset = make([]BalanceForReset, n)
	for i := range rt.BalancesForReset {
		cur, err := readVarBytes(r)
		if err != nil {
			return err
		}
		rt.BalancesForReset[i].Currency = mutualcredit.Currency(cur)
		rt.BalancesForReset[i].Balance, err = readInt128(r)
		if err != nil {
			return err
		}
	}

	tok, err := readFixed(r, 64)
	if err != nil {
		return err
	}
	copy(rt.ResetToken[:], tok)
	return nil
}

// Encode writes a MoveTokenRequest: the nested move-token body followed by
// the token_wanted flag (spec.md §6).
func (m *MoveTokenRequest) Encode(w io.Writer) error {
	if err := m.MoveToken.Encode(w); err != nil {
		return err
	}
	return writeBool(w, m.TokenWanted)
}

// Decode reads a MoveTokenRequest written by Encode.
func (m *MoveTokenRequest) Decode(r io.Reader) error {
	if err := m.MoveToken.Decode(r); err != nil {
		return err
	}
	var err error
	m.TokenWanted, err = readBool(r)
	return err
}

// Encode writes an InconsistencyError.
func (m *InconsistencyError) Encode(w io.Writer) error {
	return m.Terms.Encode(w)
}

// Decode reads an InconsistencyError written by Encode.
func (m *InconsistencyError) Decode(r io.Reader) error {
	return m.Terms.Decode(r)
}

// Encode writes a RelaysUpdate as a bare relay list.
func (m *RelaysUpdate) Encode(w io.Writer) error {
	return encodeRelayList(w, m.Relays)
}

// Decode reads a RelaysUpdate written by Encode.
func (m *RelaysUpdate) Decode(r io.Reader) error {
	relays, err := decodeRelayList(r)
	if err != nil {
		return err
	}
	m.Relays = relays
	return nil
}

// Encode writes a KeepAlive, which carries no payload.
func (m *KeepAlive) Encode(w io.Writer) error { return nil }

// Decode reads a KeepAlive, which carries no payload.
func (m *KeepAlive) Decode(r io.Reader) error { return nil }

// Encode writes a RequestToken.
func (m *RequestToken) Encode(w io.Writer) error {
	return writeFixed(w, m.LastHash[:])
}

// Decode reads a RequestToken written by Encode.
func (m *RequestToken) Decode(r io.Reader) error {
	b, err := readFixed(r, 64)
	if err != nil {
		return err
	}
	copy(m.LastHash[:], b)
	return nil
}
