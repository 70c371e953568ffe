// Copyright 2018 The go-klaytn Authors
// This file is part of the go-klaytn library.
//
// The go-klaytn library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-klaytn library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-klaytn library. If not, see <http://www.gnu.org/licenses/>.
//
// This file is derived from original_source/transaction.py.

package types

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/joaomontenegro/chaind/common"
	"github.com/joaomontenegro/chaind/crypto"
)

// Transaction is an account-to-account transfer of value. Its identity is
// the hash of from, to, amount and nonce; the nonce exists only to keep two
// otherwise-identical transfers from colliding on hash (spec.md §3).
type Transaction struct {
	FromAddr  common.Address
	ToAddr    common.Address
	Amount    uint32
	Nonce     uint32
	Signature []byte // common.SignLen bytes once signed, nil until then

	// TimeAdded is set by the mempool when the transaction is accepted,
	// not part of the wire encoding.
	TimeAdded int64
}

// NewTransaction builds an unsigned transfer of amount from fromAddr to
// toAddr. Callers must call Sign before the transaction is usable anywhere
// (Encode refuses to serialize an unsigned transaction).
func NewTransaction(fromAddr, toAddr common.Address, amount, nonce uint32) *Transaction {
	return &Transaction{
		FromAddr: fromAddr,
		ToAddr:   toAddr,
		Amount:   amount,
		Nonce:    nonce,
	}
}

// Hash is the transaction's identity: SHA-256(from || to || amount || nonce).
func (tx *Transaction) Hash() common.Hash {
	return crypto.Hash(
		tx.FromAddr[:],
		tx.ToAddr[:],
		common.PutUint32(tx.Amount),
		common.PutUint32(tx.Nonce),
	)
}

// Sign signs the transaction's hash under priv and stores the signature.
func (tx *Transaction) Sign(priv *ecdsa.PrivateKey) error {
	sig, err := crypto.Sign(tx.Hash(), priv)
	if err != nil {
		return err
	}
	tx.Signature = sig
	return nil
}

// ValidateSignature reports whether Signature verifies against Hash() under
// FromAddr. A transaction with no signature is never valid.
func (tx *Transaction) ValidateSignature() bool {
	if len(tx.Signature) != common.SignLen {
		return false
	}
	return crypto.VerifySignature(tx.FromAddr, tx.Hash(), tx.Signature)
}

// Equal compares transactions by hash, their identity per spec.md §4.2.
func (tx *Transaction) Equal(other *Transaction) bool {
	if tx == nil || other == nil {
		return tx == other
	}
	return tx.Hash() == other.Hash()
}

func (tx *Transaction) String() string {
	return fmt.Sprintf("Tx{%s, f:%s, t:%s, a:%d, n:%d}",
		tx.Hash().Hex()[:8], tx.FromAddr.Hex()[:8], tx.ToAddr.Hex()[:8], tx.Amount, tx.Nonce)
}

// EncodedTxLen is the fixed size of an encoded transaction: two addresses,
// two uint32s, and a signature.
const EncodedTxLen = common.AddrLen + common.AddrLen + common.IntLen + common.IntLen + common.SignLen

// Encode serializes the transaction as from || to || amount || nonce ||
// signature, exactly EncodedTxLen bytes. Fails if the transaction hasn't
// been signed yet.
func (tx *Transaction) Encode() ([]byte, error) {
	if len(tx.Signature) != common.SignLen {
		return nil, fmt.Errorf("cannot encode unsigned transaction")
	}
	out := make([]byte, 0, EncodedTxLen)
	out = append(out, tx.FromAddr[:]...)
	out = append(out, tx.ToAddr[:]...)
	out = append(out, common.PutUint32(tx.Amount)...)
	out = append(out, common.PutUint32(tx.Nonce)...)
	out = append(out, tx.Signature...)
	return out, nil
}

// DecodeTransaction parses a transaction from its Encode form. It rejects
// short input but does not itself validate the signature; per spec.md
// §4.2, callers must call ValidateSignature before trusting the result.
func DecodeTransaction(b []byte) (*Transaction, error) {
	if len(b) < EncodedTxLen {
		return nil, fmt.Errorf("transaction encoding too short: got %d bytes, want %d", len(b), EncodedTxLen)
	}
	tx := &Transaction{}
	off := 0
	tx.FromAddr = common.BytesToAddress(b[off : off+common.AddrLen])
	off += common.AddrLen
	tx.ToAddr = common.BytesToAddress(b[off : off+common.AddrLen])
	off += common.AddrLen
	tx.Amount = common.Uint32(b[off : off+common.IntLen])
	off += common.IntLen
	tx.Nonce = common.Uint32(b[off : off+common.IntLen])
	off += common.IntLen
	tx.Signature = append([]byte(nil), b[off:off+common.SignLen]...)
	return tx, nil
}
