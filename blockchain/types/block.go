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
// This file is derived from original_source/block.py, hardened to hash
// every contained transaction instead of just the transaction count.

package types

import (
	"encoding/binary"
	"fmt"

	"github.com/joaomontenegro/chaind/common"
	"github.com/joaomontenegro/chaind/crypto"

	"crypto/ecdsa"
)

// Block is a parent-linked container of transactions. ParentHash is nil for
// the genesis block; every other block's parent must exist in the engine's
// block set before the block can be committed (spec.md §3 invariant 1).
type Block struct {
	ParentHash   *common.Hash
	Nonce        uint32
	Timestamp    uint32
	Miner        common.Address
	Signature    []byte
	Transactions []*Transaction

	// Derived metadata, set on commit (spec.md §3) rather than carried on
	// the wire.
	Height    uint64
	TimeAdded int64
	Balances  map[common.Address]uint32

	// ByteSize is set by Decode to the number of bytes the block consumed,
	// so a caller unpacking several variable-length blocks back to back
	// knows where the next one starts.
	ByteSize int
}

// NewBlock builds an unsigned, unmined block. The caller still has to run
// the proof-of-work search and sign it before it is valid.
func NewBlock(parent *common.Hash, txs []*Transaction, timestamp uint32, miner common.Address) *Block {
	return &Block{
		ParentHash:   parent,
		Timestamp:    timestamp,
		Miner:        miner,
		Transactions: txs,
	}
}

// Hash is the block's identity:
// SHA-256(parent || tx_count || timestamp(8B) || nonce || tx_hash_1 || ... || tx_hash_n).
// The timestamp is widened to 8 bytes for hashing only; its wire encoding
// (Encode) stays 4 bytes like every other chaind integer field.
func (b *Block) Hash() common.Hash {
	var parent common.Hash
	if b.ParentHash != nil {
		parent = *b.ParentHash
	}

	parts := make([][]byte, 0, 4+len(b.Transactions))
	parts = append(parts, parent[:])
	parts = append(parts, common.PutUint32(uint32(len(b.Transactions))))

	ts8 := make([]byte, 8)
	binary.BigEndian.PutUint64(ts8, uint64(b.Timestamp))
	parts = append(parts, ts8)

	parts = append(parts, common.PutUint32(b.Nonce))

	for _, tx := range b.Transactions {
		h := tx.Hash()
		parts = append(parts, h[:])
	}

	return crypto.Hash(parts...)
}

// Sign signs the block's current hash under priv, the miner's key.
func (b *Block) Sign(priv *ecdsa.PrivateKey) error {
	sig, err := crypto.Sign(b.Hash(), priv)
	if err != nil {
		return err
	}
	b.Signature = sig
	return nil
}

// ValidateSignature reports whether Signature verifies against Hash() under
// Miner.
func (b *Block) ValidateSignature() bool {
	if len(b.Signature) != common.SignLen {
		return false
	}
	return crypto.VerifySignature(b.Miner, b.Hash(), b.Signature)
}

// Equal compares blocks by hash, their identity per spec.md §4.3.
func (b *Block) Equal(other *Block) bool {
	if b == nil || other == nil {
		return b == other
	}
	return b.Hash() == other.Hash()
}

func (b *Block) String() string {
	p := "ROOT"
	if b.ParentHash != nil {
		p = b.ParentHash.Hex()[:8]
	}
	return fmt.Sprintf("Block{%s, p:%s, m:%s, t:%d, tx:%d, n:%d, h:%d}",
		b.Hash().Hex()[:8], p, b.Miner.Hex()[:8], b.Timestamp, len(b.Transactions), b.Nonce, b.Height)
}

// Encode serializes the block as parent || nonce || timestamp || miner ||
// signature || tx_count || each encoded transaction, per spec.md §4.3. An
// all-zero parent means "none" on the wire. Fails if the block hasn't been
// signed.
func (b *Block) Encode() ([]byte, error) {
	if len(b.Signature) != common.SignLen {
		return nil, fmt.Errorf("cannot encode unsigned block")
	}

	out := make([]byte, 0, common.HashLen+common.IntLen+common.IntLen+common.AddrLen+common.SignLen+common.IntLen+len(b.Transactions)*EncodedTxLen)

	if b.ParentHash != nil {
		out = append(out, b.ParentHash[:]...)
	} else {
		out = append(out, make([]byte, common.HashLen)...)
	}
	out = append(out, common.PutUint32(b.Nonce)...)
	out = append(out, common.PutUint32(b.Timestamp)...)
	out = append(out, b.Miner[:]...)
	out = append(out, b.Signature...)
	out = append(out, common.PutUint32(uint32(len(b.Transactions)))...)

	for _, tx := range b.Transactions {
		txBytes, err := tx.Encode()
		if err != nil {
			return nil, fmt.Errorf("encoding transaction %s: %w", tx.Hash().Hex()[:8], err)
		}
		out = append(out, txBytes...)
	}

	return out, nil
}

// blockHeaderLen is the fixed portion of Encode preceding the transaction
// list: parent + nonce + timestamp + miner + signature + tx_count.
const blockHeaderLen = common.HashLen + common.IntLen + common.IntLen + common.AddrLen + common.SignLen + common.IntLen

// DecodeBlock parses a block from its Encode form. ByteSize is set to the
// number of bytes actually consumed. Returns nil if the block's signature
// does not verify, per spec.md §4.3 ("returns nil if its signature does not
// verify").
func DecodeBlock(b []byte) (*Block, error) {
	if len(b) < blockHeaderLen {
		return nil, fmt.Errorf("block encoding too short: got %d bytes, want at least %d", len(b), blockHeaderLen)
	}

	off := 0
	parentBytes := b[off : off+common.HashLen]
	off += common.HashLen

	nonce := common.Uint32(b[off : off+common.IntLen])
	off += common.IntLen

	timestamp := common.Uint32(b[off : off+common.IntLen])
	off += common.IntLen

	miner := common.BytesToAddress(b[off : off+common.AddrLen])
	off += common.AddrLen

	signature := append([]byte(nil), b[off:off+common.SignLen]...)
	off += common.SignLen

	numTx := common.Uint32(b[off : off+common.IntLen])
	off += common.IntLen

	txs := make([]*Transaction, 0, numTx)
	for i := uint32(0); i < numTx; i++ {
		if off+EncodedTxLen > len(b) {
			return nil, fmt.Errorf("block encoding truncated while decoding transaction %d of %d", i, numTx)
		}
		tx, err := DecodeTransaction(b[off : off+EncodedTxLen])
		if err != nil {
			return nil, fmt.Errorf("decoding transaction %d of %d: %w", i, numTx, err)
		}
		txs = append(txs, tx)
		off += EncodedTxLen
	}

	blk := &Block{
		Nonce:        nonce,
		Timestamp:    timestamp,
		Miner:        miner,
		Transactions: txs,
		ByteSize:     off,
	}

	zero := common.Hash{}
	parentHash := common.BytesToHash(parentBytes)
	if parentHash != zero {
		blk.ParentHash = &parentHash
	}

	blk.Signature = signature
	if !blk.ValidateSignature() {
		return nil, nil
	}

	return blk, nil
}
