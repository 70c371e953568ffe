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

package blockchain

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joaomontenegro/chaind/blockchain/types"
	"github.com/joaomontenegro/chaind/common"
	"github.com/joaomontenegro/chaind/crypto"
)

// keyFromSeed deterministically derives a keypair from seed, the way the
// concrete end-to-end scenarios key their addresses off SHA-256(seed).
func keyFromSeed(t *testing.T, seed string) (*ecdsa.PrivateKey, common.Address) {
	t.Helper()
	digest := sha256.Sum256([]byte(seed))
	priv, err := crypto.PrivateKeyFromHex(hex.EncodeToString(digest[:]))
	require.NoError(t, err)
	return priv, crypto.PubkeyToAddress(priv.PublicKey)
}

func newSignedTx(t *testing.T, priv *ecdsa.PrivateKey, from, to common.Address, amount, nonce uint32) *types.Transaction {
	t.Helper()
	tx := types.NewTransaction(from, to, amount, nonce)
	require.NoError(t, tx.Sign(priv))
	return tx
}

func mustMine(t *testing.T, bc *Blockchain, miner common.Address, priv *ecdsa.PrivateKey) *types.Block {
	t.Helper()
	b := bc.Mine(miner, priv, DefaultMaxTxPerBlock, nil)
	require.NotNil(t, b)
	return b
}

// mineGenesis builds and solves a parentless block holding only the reward
// transaction. Mine returns nil on an empty mempool, so a genesis block with
// no user transactions is assembled by hand.
func mineGenesis(t *testing.T, bc *Blockchain, miner common.Address, priv *ecdsa.PrivateKey) *types.Block {
	t.Helper()
	reward := newSignedTx(t, priv, miner, miner, DefaultReward, 0)
	b := types.NewBlock(nil, []*types.Transaction{reward}, 1, miner)
	for !bc.powMatches(b.Hash()) {
		b.Nonce++
	}
	require.NoError(t, b.Sign(priv))
	return b
}

func TestAddTransaction_SignatureInvalid(t *testing.T) {
	bc := NewBlockchain(1)
	_, from := keyFromSeed(t, "from")
	_, to := keyFromSeed(t, "to")

	tx := types.NewTransaction(from, to, 1, 0)
	assert.False(t, bc.AddTransaction(tx), "unsigned transaction must be rejected")
}

func TestAddTransaction_DoubleInsertIsIdempotent(t *testing.T) {
	bc := NewBlockchain(1)
	privFrom, from := keyFromSeed(t, "from")
	_, to := keyFromSeed(t, "to")

	tx := newSignedTx(t, privFrom, from, to, 1, 0)

	assert.True(t, bc.AddTransaction(tx))
	assert.Len(t, bc.GetMempoolTransactions(), 1)

	assert.True(t, bc.AddTransaction(tx))
	assert.Len(t, bc.GetMempoolTransactions(), 1, "re-adding the same tx must not grow the mempool")
}

func TestMine_EmptyMempoolReturnsNil(t *testing.T) {
	bc := NewBlockchain(1)
	privMiner, miner := keyFromSeed(t, "miner")

	assert.Nil(t, bc.Mine(miner, privMiner, DefaultMaxTxPerBlock, nil))
}

func TestMine_ProducesValidPow(t *testing.T) {
	bc := NewBlockchain(2)
	privMiner, miner := keyFromSeed(t, "miner")
	privFrom, from := keyFromSeed(t, "from")

	tx := newSignedTx(t, privFrom, from, miner, 1, 0)
	require.True(t, bc.AddTransaction(tx))

	b := mustMine(t, bc, miner, privMiner)
	assert.True(t, bc.powMatches(b.Hash()))
	assert.True(t, b.ValidateSignature())
}

func TestMine_OverspendingTxReturnsToMempoolTail(t *testing.T) {
	bc := NewBlockchain(1)
	privMiner, miner := keyFromSeed(t, "miner")
	privA1, a1 := keyFromSeed(t, "a1")
	_, a2 := keyFromSeed(t, "a2")

	overspend := newSignedTx(t, privA1, a1, a2, 10, 0)
	require.True(t, bc.AddTransaction(overspend))

	b := mustMine(t, bc, miner, privMiner)
	require.Len(t, b.Transactions, 1, "only the reward tx should make it into the block")
	assert.True(t, b.Transactions[0].FromAddr == b.Transactions[0].ToAddr)

	mempool := bc.GetMempoolTransactions()
	require.Len(t, mempool, 1)
	assert.True(t, mempool[0].Equal(overspend))
}

func TestAddBlock_EqualHeightKeepsFirstArrivalHead(t *testing.T) {
	bc := NewBlockchain(1)
	privMiner, miner := keyFromSeed(t, "miner")

	first := mineGenesis(t, bc, miner, privMiner)
	require.True(t, bc.AddBlock(first))

	firstHash, ok := bc.GetHighestBlockHash()
	require.True(t, ok)
	assert.Equal(t, first.Hash(), firstHash)

	// A second, independently-built genesis block competes at the same
	// height; the first-arrival rule keeps the original head.
	second := types.NewBlock(nil, []*types.Transaction{first.Transactions[0]}, first.Timestamp+1, miner)
	for !bc.powMatches(second.Hash()) {
		second.Nonce++
	}
	require.NoError(t, second.Sign(privMiner))
	require.NotEqual(t, first.Hash(), second.Hash())

	assert.True(t, bc.AddBlock(second))

	stillFirst, ok := bc.GetHighestBlockHash()
	require.True(t, ok)
	assert.Equal(t, firstHash, stillFirst)
}

func TestAddBlock_HigherBlockBecomesHead(t *testing.T) {
	bc := NewBlockchain(1)
	privMiner, miner := keyFromSeed(t, "miner")

	genesis := mineGenesis(t, bc, miner, privMiner)
	require.True(t, bc.AddBlock(genesis))

	privA1, a1 := keyFromSeed(t, "a1")
	tx := newSignedTx(t, privA1, a1, miner, 0, 0)
	require.True(t, bc.AddTransaction(tx))

	child := mustMine(t, bc, miner, privMiner)
	require.True(t, bc.AddBlock(child))

	head, ok := bc.GetHighestBlockHash()
	require.True(t, ok)
	assert.Equal(t, child.Hash(), head)
	assert.Equal(t, uint64(2), bc.GetHeight())
}

func TestAddBlock_OrphanIsBufferedThenFlushed(t *testing.T) {
	bc := NewBlockchain(1)
	privMiner, miner := keyFromSeed(t, "miner")

	genesis := mineGenesis(t, bc, miner, privMiner)

	privA1, a1 := keyFromSeed(t, "a1")
	tx := newSignedTx(t, privA1, a1, miner, 0, 0)
	genesisHash := genesis.Hash()
	child := types.NewBlock(&genesisHash, []*types.Transaction{tx}, genesis.Timestamp+1, miner)
	for !bc.powMatches(child.Hash()) {
		child.Nonce++
	}
	require.NoError(t, child.Sign(privMiner))

	// Child arrives before its parent: must be buffered, not committed.
	assert.False(t, bc.AddBlock(child))
	assert.False(t, bc.HasBlock(child.Hash()))

	require.True(t, bc.AddBlock(genesis))
	assert.True(t, bc.HasBlock(child.Hash()), "buffered orphan must flush once its parent commits")
	head, _ := bc.GetHighestBlockHash()
	assert.Equal(t, child.Hash(), head)
}

func TestScenario_GenesisAndTwoChildBlocks(t *testing.T) {
	bc := NewBlockchain(2)
	privMiner, miner := keyFromSeed(t, "miner")

	privA1, a1 := keyFromSeed(t, "a1")
	_, a2 := keyFromSeed(t, "a2")
	_, a3 := keyFromSeed(t, "a3")
	privA3, _ := keyFromSeed(t, "a3")
	_, a4 := keyFromSeed(t, "a4")
	_, a5 := keyFromSeed(t, "a5")

	b0 := mineGenesis(t, bc, miner, privMiner)
	require.True(t, bc.AddBlock(b0))

	t0 := newSignedTx(t, privMiner, miner, a1, 10, 1)
	t1 := newSignedTx(t, privA1, a1, a2, 5, 0)
	t2 := newSignedTx(t, privA1, a1, a3, 4, 1)
	require.True(t, bc.AddTransaction(t0))
	require.True(t, bc.AddTransaction(t1))
	require.True(t, bc.AddTransaction(t2))

	b1 := mustMine(t, bc, miner, privMiner)
	require.True(t, bc.AddBlock(b1))

	t3 := newSignedTx(t, privA3, a3, a4, 1, 0)
	t4 := newSignedTx(t, privA3, a3, a5, 3, 1)
	require.True(t, bc.AddTransaction(t3))
	require.True(t, bc.AddTransaction(t4))

	b2 := mustMine(t, bc, miner, privMiner)
	require.True(t, bc.AddBlock(b2))

	assert.Equal(t, uint32(20), bc.GetBalance(miner))
	assert.Equal(t, uint32(1), bc.GetBalance(a1))
	assert.Equal(t, uint32(5), bc.GetBalance(a2))
	assert.Equal(t, uint32(0), bc.GetBalance(a3))
	assert.Equal(t, uint32(1), bc.GetBalance(a4))
	assert.Equal(t, uint32(3), bc.GetBalance(a5))
}

func TestTransaction_HashChangesWithAnyField(t *testing.T) {
	priv, from := keyFromSeed(t, "from")
	_, to := keyFromSeed(t, "to")

	base := newSignedTx(t, priv, from, to, 1, 0)
	variants := []*types.Transaction{
		types.NewTransaction(to, to, 1, 0),
		types.NewTransaction(from, from, 1, 0),
		types.NewTransaction(from, to, 2, 0),
		types.NewTransaction(from, to, 1, 1),
	}
	for _, v := range variants {
		assert.NotEqual(t, base.Hash(), v.Hash())
	}
}

func TestBlock_EncodeDecodeRoundTrip(t *testing.T) {
	privMiner, miner := keyFromSeed(t, "miner")
	privFrom, from := keyFromSeed(t, "from")

	tx := newSignedTx(t, privFrom, from, miner, 1, 0)
	b := types.NewBlock(nil, []*types.Transaction{tx}, 1234, miner)
	require.NoError(t, b.Sign(privMiner))

	encoded, err := b.Encode()
	require.NoError(t, err)

	decoded, err := types.DecodeBlock(encoded)
	require.NoError(t, err)
	require.NotNil(t, decoded)
	assert.Equal(t, b.Hash(), decoded.Hash())
	assert.Equal(t, len(encoded), decoded.ByteSize)
}
