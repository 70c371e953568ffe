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

// Package common holds the fixed-width codec primitives shared by every
// chaind package: addresses, hashes, and the big-endian integer encoding
// the wire protocol and the block/transaction codecs both build on.
package common

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
)

// Fixed-width constants for the wire protocol and the block/transaction
// codecs, ported from original_source/utils.py's INT_BYTE_LEN/ADDR_BYTE_LEN/
// SIGN_BYTE_LEN/HASH_BYTE_LEN/MSGTYPE_BYTE_LEN.
const (
	IntLen     = 4  // big-endian uint32
	AddrLen    = 64 // raw public key bytes
	SignLen    = 64 // ECDSA signature bytes
	HashLen    = 32 // SHA-256 digest bytes
	MsgTypeLen = 12 // wire message type, space-padded ASCII
)

// Address is a raw public key, the account identity used throughout chaind.
type Address [AddrLen]byte

// Hash is a SHA-256 digest, used for both transaction and block identity.
type Hash [HashLen]byte

// BytesToAddress copies b into an Address. The caller must pass exactly
// AddrLen bytes; chaind never receives addresses from an untrusted length
// source without going through Decode, which checks lengths first.
func BytesToAddress(b []byte) (a Address) {
	copy(a[:], b)
	return a
}

// BytesToHash copies b into a Hash.
func BytesToHash(b []byte) (h Hash) {
	copy(h[:], b)
	return h
}

// Hex returns the lowercase hex encoding of the address.
func (a Address) Hex() string { return hex.EncodeToString(a[:]) }

// Hex returns the lowercase hex encoding of the hash.
func (h Hash) Hex() string { return hex.EncodeToString(h[:]) }

func (a Address) String() string { return a.Hex() }
func (h Hash) String() string    { return h.Hex() }

// IsZero reports whether every byte is zero, the all-zero encoding this
// codebase uses on the wire for "no parent"/"no address".
func (h Hash) IsZero() bool {
	for _, b := range h {
		if b != 0 {
			return false
		}
	}
	return true
}

// AddressFromHex parses a hex-encoded address string. It rejects any input
// whose decoded length isn't exactly AddrLen bytes, per spec.md §4.1
// ("rejects non-ADDR_LEN*2-character input").
func AddressFromHex(s string) (Address, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return Address{}, fmt.Errorf("invalid address hex: %w", err)
	}
	if len(b) != AddrLen {
		return Address{}, fmt.Errorf("invalid address length: got %d bytes, want %d", len(b), AddrLen)
	}
	return BytesToAddress(b), nil
}

// HashFromHex parses a hex-encoded hash string of exactly HashLen bytes.
func HashFromHex(s string) (Hash, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return Hash{}, fmt.Errorf("invalid hash hex: %w", err)
	}
	if len(b) != HashLen {
		return Hash{}, fmt.Errorf("invalid hash length: got %d bytes, want %d", len(b), HashLen)
	}
	return BytesToHash(b), nil
}

// PutUint32 writes v big-endian into a freshly allocated IntLen-byte slice,
// the encoding original_source/utils.py calls IntToBytes.
func PutUint32(v uint32) []byte {
	b := make([]byte, IntLen)
	binary.BigEndian.PutUint32(b, v)
	return b
}

// Uint32 reads a big-endian uint32 from the front of b. The caller must
// guarantee len(b) >= IntLen; every wire/codec call site checks lengths
// before calling this.
func Uint32(b []byte) uint32 {
	return binary.BigEndian.Uint32(b)
}
