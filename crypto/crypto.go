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

// Package crypto is the external ECDSA-over-secp256k1 provider spec.md §1/§4.1
// names: key generation, signing, and signature verification. Every other
// chaind package reaches addresses and signatures as raw bytes only through
// this package's boundary.
package crypto

import (
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"

	"github.com/btcsuite/btcd/btcec/v2"

	"github.com/joaomontenegro/chaind/common"
	"github.com/joaomontenegro/chaind/log"
)

var logger = log.NewModuleLogger(log.Crypto)

// S256 returns the secp256k1 curve chaind signs and verifies over.
func S256() *btcec.KoblitzCurve {
	return btcec.S256()
}

// GenerateKey produces a fresh secp256k1 keypair.
func GenerateKey() (*ecdsa.PrivateKey, error) {
	return ecdsa.GenerateKey(S256(), rand.Reader)
}

// Hash returns the SHA-256 digest of data, the hashing primitive spec.md
// §4.1 names for both transaction and block identity.
func Hash(data ...[]byte) common.Hash {
	h := sha256.New()
	for _, d := range data {
		h.Write(d)
	}
	var out common.Hash
	copy(out[:], h.Sum(nil))
	return out
}

// PubkeyToAddress encodes a public key as the 64-byte raw point (X||Y,
// without the uncompressed-point prefix byte) spec.md §4.1 calls an address.
func PubkeyToAddress(pub ecdsa.PublicKey) common.Address {
	var addr common.Address
	xb := pub.X.Bytes()
	yb := pub.Y.Bytes()
	copy(addr[32-len(xb):32], xb)
	copy(addr[64-len(yb):64], yb)
	return addr
}

// AddressToPubkey recovers the public key point from its 64-byte encoding.
// Returns an error if the point does not lie on the curve (a malformed or
// tampered address), which callers treat as a verification failure.
func AddressToPubkey(addr common.Address) (*ecdsa.PublicKey, error) {
	x := new(big.Int).SetBytes(addr[:32])
	y := new(big.Int).SetBytes(addr[32:64])
	curve := S256()
	if !curve.IsOnCurve(x, y) {
		return nil, fmt.Errorf("address is not a point on secp256k1")
	}
	return &ecdsa.PublicKey{Curve: curve, X: x, Y: y}, nil
}

// Sign produces a 64-byte signature (32-byte r || 32-byte s) of hash under
// priv, the fixed SIGN_LEN encoding spec.md §3/§4.1 requires.
func Sign(hash common.Hash, priv *ecdsa.PrivateKey) ([]byte, error) {
	r, s, err := ecdsa.Sign(rand.Reader, priv, hash[:])
	if err != nil {
		return nil, err
	}
	sig := make([]byte, common.SignLen)
	rb := r.Bytes()
	sb := s.Bytes()
	copy(sig[32-len(rb):32], rb)
	copy(sig[64-len(sb):64], sb)
	return sig, nil
}

// VerifySignature checks sig against hash under the public key encoded by
// addr. Any malformed input (wrong-length signature, off-curve address) is
// swallowed and reported as false, per spec.md §4.1 ("verification returns
// boolean, swallowing malformed-signature errors as false").
func VerifySignature(addr common.Address, hash common.Hash, sig []byte) bool {
	if len(sig) != common.SignLen {
		return false
	}
	pub, err := AddressToPubkey(addr)
	if err != nil {
		logger.Debug("signature verification against invalid address", "err", err)
		return false
	}
	r := new(big.Int).SetBytes(sig[:32])
	s := new(big.Int).SetBytes(sig[32:64])
	return ecdsa.Verify(pub, hash[:], r, s)
}

// PrivateKeyToHex and PrivateKeyFromHex round-trip a private key the way
// the `genkeys` CLI command (spec.md §6) prints and re-reads one.
func PrivateKeyToHex(priv *ecdsa.PrivateKey) string {
	b := priv.D.Bytes()
	padded := make([]byte, 32)
	copy(padded[32-len(b):], b)
	return hex.EncodeToString(padded)
}

func PrivateKeyFromHex(s string) (*ecdsa.PrivateKey, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid private key hex: %w", err)
	}
	curve := S256()
	priv := new(ecdsa.PrivateKey)
	priv.PublicKey.Curve = curve
	priv.D = new(big.Int).SetBytes(b)
	priv.PublicKey.X, priv.PublicKey.Y = curve.ScalarBaseMult(b)
	return priv, nil
}

// PublicKeyToHex and PublicKeyFromHex round-trip the 64-byte raw address
// encoding to and from hex, matching original_source/utils.py's
// AddrStrToBytes/BytesToAddrStr.
func PublicKeyToHex(addr common.Address) string {
	return addr.Hex()
}

func PublicKeyFromHex(s string) (common.Address, error) {
	return common.AddressFromHex(s)
}
