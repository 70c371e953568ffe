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
// This file is derived from original_source/blockchain.py.

// Package blockchain is the validation, balance-accounting, chain-selection
// and mining engine. Everything here is safe for concurrent use; callers
// never need their own locking around a *Blockchain.
package blockchain

import (
	"container/list"
	"strings"
	"sync"
	"time"

	"github.com/rcrowley/go-metrics"

	"github.com/joaomontenegro/chaind/blockchain/types"
	"github.com/joaomontenegro/chaind/common"
	"github.com/joaomontenegro/chaind/log"

	"crypto/ecdsa"
)

var logger = log.NewModuleLogger(log.Blockchain)

var (
	heightGauge  = metrics.NewRegisteredGauge("blockchain/height", nil)
	mempoolGauge = metrics.NewRegisteredGauge("blockchain/mempool", nil)
	minedCounter = metrics.NewRegisteredCounter("blockchain/blocksmined", nil)
)

// DefaultMaxTxPerBlock is the number of non-reward transactions Mine will
// pack into a block unless the caller asks for fewer/more.
const DefaultMaxTxPerBlock = 10

// DefaultReward is the coinbase amount a mined block's reward transaction
// pays to its miner, absent an explicit override.
const DefaultReward = 10

// sigCacheSize bounds the number of verified-signature hashes remembered so
// a transaction relayed by several peers isn't re-verified on every gossip
// round.
const sigCacheSize = 8192

// Blockchain holds all chain and mempool state for one node. The mempool
// lock and the blocks lock are independent; the only operation that ever
// holds both is AddTransaction, and it always acquires mempool before
// blocks (spec.md §5's fixed acquisition order).
type Blockchain struct {
	blocksMu   sync.Mutex
	blocks     map[common.Hash]*types.Block
	highest    common.Hash
	hasHighest bool

	// orphans buffers blocks whose parent hasn't arrived yet, keyed by the
	// missing parent hash, flushed once that parent commits.
	orphans map[common.Hash][]*types.Block

	mempoolMu    sync.Mutex
	mempool      map[common.Hash]*types.Transaction
	mempoolOrder *list.List
	mempoolElems map[common.Hash]*list.Element

	difficulty int
	reward     uint32

	sigCache common.Cache
}

// NewBlockchain builds an empty engine at the given PoW difficulty (number
// of required leading hex zeros in a block hash).
func NewBlockchain(difficulty int) *Blockchain {
	cache, err := common.NewLRUCache(sigCacheSize)
	if err != nil {
		// A cache is an optimization, not a correctness requirement; fall
		// back to re-verifying every time rather than failing construction.
		logger.Error("failed to build signature cache, verification will not be memoized", "err", err)
	}

	return &Blockchain{
		blocks:       make(map[common.Hash]*types.Block),
		orphans:      make(map[common.Hash][]*types.Block),
		mempool:      make(map[common.Hash]*types.Transaction),
		mempoolOrder: list.New(),
		mempoolElems: make(map[common.Hash]*list.Element),
		difficulty:   difficulty,
		reward:       DefaultReward,
		sigCache:     cache,
	}
}

// SetDifficulty changes the PoW target. Takes effect for blocks validated or
// mined after the call.
func (bc *Blockchain) SetDifficulty(difficulty int) {
	bc.blocksMu.Lock()
	defer bc.blocksMu.Unlock()
	bc.difficulty = difficulty
}

// SetReward changes the coinbase amount future mined blocks pay.
func (bc *Blockchain) SetReward(reward uint32) {
	bc.blocksMu.Lock()
	defer bc.blocksMu.Unlock()
	bc.reward = reward
}

// validTxSignature reports whether tx's signature verifies, memoizing a
// positive result by transaction hash so a tx gossiped by several peers
// isn't re-verified on every round.
func (bc *Blockchain) validTxSignature(tx *types.Transaction) bool {
	h := tx.Hash()
	if bc.sigCache != nil {
		if _, ok := bc.sigCache.Get(h); ok {
			return true
		}
	}
	if !tx.ValidateSignature() {
		return false
	}
	if bc.sigCache != nil {
		bc.sigCache.Add(h, struct{}{})
	}
	return true
}

// AddBlock validates and commits b, returning false on any validation
// failure (spec.md §4.4). Steps run in the order the spec fixes: miner
// signature, parent presence, PoW, transaction signatures, balances, then
// height/head bookkeeping. Mempool cleanup happens after the blocks lock is
// released, never nested inside it, so AddTransaction's mempool-then-blocks
// nesting can never deadlock against this call.
func (bc *Blockchain) AddBlock(b *types.Block) bool {
	if b == nil {
		return false
	}

	committed, confirmedTxs := bc.addBlockLocked(b)
	if !committed {
		return false
	}

	if len(confirmedTxs) > 0 {
		bc.removeFromMempool(confirmedTxs)
	}

	bc.flushOrphans(b.Hash())
	return true
}

func (bc *Blockchain) addBlockLocked(b *types.Block) (bool, []common.Hash) {
	bc.blocksMu.Lock()
	defer bc.blocksMu.Unlock()

	hash := b.Hash()
	if _, ok := bc.blocks[hash]; ok {
		return true, nil // already committed: a silent, idempotent success
	}

	if !b.ValidateSignature() {
		logger.Debug("rejecting block with invalid miner signature", "block", b)
		return false, nil
	}

	var parent *types.Block
	if b.ParentHash != nil {
		var ok bool
		parent, ok = bc.blocks[*b.ParentHash]
		if !ok {
			logger.Debug("buffering block with unknown parent", "block", b)
			bc.orphans[*b.ParentHash] = append(bc.orphans[*b.ParentHash], b)
			return false, nil
		}
	}

	if !bc.validPow(hash) {
		logger.Debug("rejecting block with invalid proof of work", "block", b)
		return false, nil
	}

	for _, tx := range b.Transactions {
		if !bc.validTxSignature(tx) {
			logger.Debug("rejecting block containing an invalid transaction signature", "block", b)
			return false, nil
		}
	}

	chain := bc.getChainLocked(b.ParentHash)
	balances := bc.calculateBalances(b, chain)
	if balances == nil {
		logger.Debug("rejecting block with a transaction that overdraws its sender", "block", b)
		return false, nil
	}

	parentHeight := uint64(0)
	if parent != nil {
		parentHeight = parent.Height
	}

	highestBlock, hasHighest := bc.blocks[bc.highest]
	if !bc.hasHighest || !hasHighest || (parentHeight+1) > highestBlock.Height {
		bc.highest = hash
		bc.hasHighest = true
	}

	b.Height = parentHeight + 1
	b.TimeAdded = time.Now().Unix()
	b.Balances = balances

	bc.blocks[hash] = b
	if bc.highest == hash {
		heightGauge.Update(int64(b.Height))
	}

	confirmed := make([]common.Hash, 0, len(b.Transactions))
	for _, tx := range b.Transactions {
		confirmed = append(confirmed, tx.Hash())
	}
	return true, confirmed
}

// flushOrphans commits, recursively, any previously-buffered block whose
// parent is exactly the block just committed under parentHash.
func (bc *Blockchain) flushOrphans(parentHash common.Hash) {
	bc.blocksMu.Lock()
	pending := bc.orphans[parentHash]
	delete(bc.orphans, parentHash)
	bc.blocksMu.Unlock()

	for _, orphan := range pending {
		bc.AddBlock(orphan)
	}
}

// AddBlocks applies each block in order, continuing past individual
// failures (spec.md §4.4).
func (bc *Blockchain) AddBlocks(blocks []*types.Block) {
	for _, b := range blocks {
		bc.AddBlock(b)
	}
}

// HasBlock reports whether hash is already committed.
func (bc *Blockchain) HasBlock(hash common.Hash) bool {
	bc.blocksMu.Lock()
	defer bc.blocksMu.Unlock()
	_, ok := bc.blocks[hash]
	return ok
}

// GetBlock returns the committed block with the given hash, or nil.
func (bc *Blockchain) GetBlock(hash common.Hash) *types.Block {
	bc.blocksMu.Lock()
	defer bc.blocksMu.Unlock()
	return bc.blocks[hash]
}

// GetHeight returns the current head's height, or 0 if the chain is empty.
func (bc *Blockchain) GetHeight() uint64 {
	bc.blocksMu.Lock()
	defer bc.blocksMu.Unlock()
	if !bc.hasHighest {
		return 0
	}
	if b, ok := bc.blocks[bc.highest]; ok {
		return b.Height
	}
	return 0
}

// GetHighestBlockHash returns the current head's hash and whether a head
// exists at all.
func (bc *Blockchain) GetHighestBlockHash() (common.Hash, bool) {
	bc.blocksMu.Lock()
	defer bc.blocksMu.Unlock()
	return bc.highest, bc.hasHighest
}

// GetHighestBlock returns the current head block, or nil if the chain is
// empty.
func (bc *Blockchain) GetHighestBlock() *types.Block {
	bc.blocksMu.Lock()
	defer bc.blocksMu.Unlock()
	if !bc.hasHighest {
		return nil
	}
	return bc.blocks[bc.highest]
}

// GetChain walks parents from hash back to genesis, returning an ordered
// head-first sequence. Returns nil if any ancestor is missing, and an empty,
// non-nil slice if hash is nil.
func (bc *Blockchain) GetChain(hash *common.Hash) []*types.Block {
	bc.blocksMu.Lock()
	defer bc.blocksMu.Unlock()
	return bc.getChainLocked(hash)
}

// GetHighestChain returns the chain rooted at the current head, or an empty
// slice if there is no head yet.
func (bc *Blockchain) GetHighestChain() []*types.Block {
	bc.blocksMu.Lock()
	defer bc.blocksMu.Unlock()
	if !bc.hasHighest {
		return []*types.Block{}
	}
	h := bc.highest
	return bc.getChainLocked(&h)
}

func (bc *Blockchain) getChainLocked(hash *common.Hash) []*types.Block {
	chain := make([]*types.Block, 0)
	for hash != nil {
		b, ok := bc.blocks[*hash]
		if !ok {
			return nil
		}
		chain = append(chain, b)
		hash = b.ParentHash
	}
	return chain
}

// GetBalance walks the highest chain head-first and returns the first
// recorded balance for addr, or 0 if addr never appears.
func (bc *Blockchain) GetBalance(addr common.Address) uint32 {
	bc.blocksMu.Lock()
	defer bc.blocksMu.Unlock()
	if !bc.hasHighest {
		return 0
	}
	h := bc.highest
	chain := bc.getChainLocked(&h)
	return balanceInChain(addr, chain)
}

// balanceInChain returns the first balances[addr] found walking chain
// head-first, or 0 if addr is never recorded.
func balanceInChain(addr common.Address, chain []*types.Block) uint32 {
	for _, b := range chain {
		if bal, ok := b.Balances[addr]; ok {
			return bal
		}
	}
	return 0
}

// calculateBalances computes the balances map a block would record given
// its parent chain, or nil if any non-reward transaction would overdraw its
// sender. Per spec.md §4.5, a transaction's "to" balance is always
// recomputed from the ancestor chain lookup plus amount — never compounded
// with an earlier same-block update to that same address.
func (bc *Blockchain) calculateBalances(b *types.Block, chain []*types.Block) map[common.Address]uint32 {
	balances := make(map[common.Address]uint32)

	for _, tx := range b.Transactions {
		if tx.FromAddr == tx.ToAddr && tx.FromAddr == b.Miner {
			to := balances[tx.ToAddr]
			if _, ok := balances[tx.ToAddr]; !ok {
				to = balanceInChain(tx.ToAddr, chain)
			}
			balances[tx.ToAddr] = to + tx.Amount
			continue
		}

		fromBal, ok := balances[tx.FromAddr]
		if !ok {
			fromBal = balanceInChain(tx.FromAddr, chain)
		}
		if fromBal < tx.Amount {
			return nil
		}
		balances[tx.FromAddr] = fromBal - tx.Amount
		balances[tx.ToAddr] = balanceInChain(tx.ToAddr, chain) + tx.Amount
	}

	return balances
}

// validPow reports whether hash's lowercase hex representation starts with
// the configured number of zero characters. Caller must hold blocksMu.
func (bc *Blockchain) validPow(hash common.Hash) bool {
	return strings.HasPrefix(hash.Hex(), strings.Repeat("0", bc.difficulty))
}

// removeFromMempool drops every tx hash in hashes from the mempool, if
// present. Acquired independently of the blocks lock, never nested inside
// it, per spec.md §5's mempool-then-blocks acquisition order.
func (bc *Blockchain) removeFromMempool(hashes []common.Hash) {
	bc.mempoolMu.Lock()
	defer bc.mempoolMu.Unlock()
	for _, h := range hashes {
		bc.removeFromMempoolLocked(h)
	}
}

func (bc *Blockchain) removeFromMempoolLocked(h common.Hash) {
	elem, ok := bc.mempoolElems[h]
	if !ok {
		return
	}
	bc.mempoolOrder.Remove(elem)
	delete(bc.mempoolElems, h)
	delete(bc.mempool, h)
	mempoolGauge.Update(int64(bc.mempoolOrder.Len()))
}

// isTxInHighestChainLocked reports whether txHash is confirmed in any block of
// the current highest chain. Caller must hold blocksMu.
func (bc *Blockchain) isTxInHighestChainLocked(txHash common.Hash) bool {
	if !bc.hasHighest {
		return false
	}
	h := bc.highest
	chain := bc.getChainLocked(&h)
	for _, b := range chain {
		for _, tx := range b.Transactions {
			if tx.Hash() == txHash {
				return true
			}
		}
	}
	return false
}

// AddTransaction validates and, unless already confirmed or already queued,
// inserts tx at the mempool's tail. It returns false if tx is already
// confirmed on the highest chain or its signature is invalid, and true
// otherwise (re-adding a queued transaction is an idempotent success). This is the only operation that holds both locks; it always
// acquires the mempool lock first, then the blocks lock, per spec.md §5.
func (bc *Blockchain) AddTransaction(tx *types.Transaction) bool {
	txHash := tx.Hash()

	bc.mempoolMu.Lock()
	defer bc.mempoolMu.Unlock()

	alreadyConfirmed := func() bool {
		bc.blocksMu.Lock()
		defer bc.blocksMu.Unlock()
		return bc.isTxInHighestChainLocked(txHash)
	}()
	if alreadyConfirmed {
		return false
	}

	if !bc.validTxSignature(tx) {
		logger.Debug("rejecting transaction with invalid signature", "tx", tx)
		return false
	}

	if _, ok := bc.mempool[txHash]; !ok {
		tx.TimeAdded = time.Now().Unix()
		bc.mempool[txHash] = tx
		bc.mempoolElems[txHash] = bc.mempoolOrder.PushBack(txHash)
		mempoolGauge.Update(int64(bc.mempoolOrder.Len()))
	}
	return true
}

// HasMempool reports whether the mempool has at least one transaction.
func (bc *Blockchain) HasMempool() bool {
	bc.mempoolMu.Lock()
	defer bc.mempoolMu.Unlock()
	return bc.mempoolOrder.Len() > 0
}

// GetMempoolTransactions returns a snapshot of every pending transaction, in
// FIFO order.
func (bc *Blockchain) GetMempoolTransactions() []*types.Transaction {
	bc.mempoolMu.Lock()
	defer bc.mempoolMu.Unlock()
	out := make([]*types.Transaction, 0, bc.mempoolOrder.Len())
	for e := bc.mempoolOrder.Front(); e != nil; e = e.Next() {
		h := e.Value.(common.Hash)
		out = append(out, bc.mempool[h])
	}
	return out
}

// CleanMempool drops every mempool entry whose TimeAdded is older than
// cutoff.
func (bc *Blockchain) CleanMempool(cutoff int64) {
	bc.mempoolMu.Lock()
	defer bc.mempoolMu.Unlock()

	var next *list.Element
	for e := bc.mempoolOrder.Front(); e != nil; e = next {
		next = e.Next()
		h := e.Value.(common.Hash)
		if tx, ok := bc.mempool[h]; ok && tx.TimeAdded < cutoff {
			bc.mempoolOrder.Remove(e)
			delete(bc.mempoolElems, h)
			delete(bc.mempool, h)
		}
	}
	mempoolGauge.Update(int64(bc.mempoolOrder.Len()))
}

// popMempoolFrontLocked removes and returns the oldest mempool transaction, or
// nil if the mempool is empty. Caller must hold mempoolMu.
func (bc *Blockchain) popMempoolFrontLocked() *types.Transaction {
	e := bc.mempoolOrder.Front()
	if e == nil {
		return nil
	}
	h := e.Value.(common.Hash)
	tx := bc.mempool[h]
	bc.mempoolOrder.Remove(e)
	delete(bc.mempoolElems, h)
	delete(bc.mempool, h)
	return tx
}

// pushMempoolBackLocked re-queues tx at the mempool's tail. Caller must hold
// mempoolMu.
func (bc *Blockchain) pushMempoolBackLocked(tx *types.Transaction) {
	h := tx.Hash()
	if _, ok := bc.mempool[h]; ok {
		return
	}
	bc.mempool[h] = tx
	bc.mempoolElems[h] = bc.mempoolOrder.PushBack(h)
}

// Mine builds, solves PoW for, and signs a new block on top of the current
// head, per spec.md §4.4. It never commits the block; the caller is
// responsible for calling AddBlock (and may discard the result entirely if
// a competing chain has advanced in the meantime). Returns nil if the
// mempool is empty. cancel, if non-nil, is polled between nonce increments
// so a stale mine can be abandoned once a new head makes it moot.
func (bc *Blockchain) Mine(miner common.Address, priv *ecdsa.PrivateKey, maxTx int, cancel <-chan struct{}) *types.Block {
	if !bc.HasMempool() {
		return nil
	}

	parentHash, hasParent := bc.GetHighestBlockHash()
	var parentHashPtr *common.Hash
	var parentBalances map[common.Address]uint32
	if hasParent {
		parentHashPtr = &parentHash
		if parent := bc.GetBlock(parentHash); parent != nil {
			parentBalances = parent.Balances
		}
	}

	rewardTx := types.NewTransaction(miner, miner, bc.reward, 0)
	if err := rewardTx.Sign(priv); err != nil {
		logger.Error("failed to sign reward transaction", "err", err)
		return nil
	}

	txs := []*types.Transaction{rewardTx}
	tmpBalances := map[common.Address]uint32{miner: parentBalances[miner] + bc.reward}

	bc.mempoolMu.Lock()
	var rejected []*types.Transaction
	for len(txs) < maxTx+1 {
		tx := bc.popMempoolFrontLocked()
		if tx == nil {
			break
		}
		if !bc.validTxSignature(tx) {
			continue
		}

		fromBal, ok := tmpBalances[tx.FromAddr]
		if !ok {
			fromBal = parentBalances[tx.FromAddr]
		}
		if fromBal < tx.Amount {
			rejected = append(rejected, tx)
			continue
		}

		toBal, ok := tmpBalances[tx.ToAddr]
		if !ok {
			toBal = parentBalances[tx.ToAddr]
		}

		tmpBalances[tx.FromAddr] = fromBal - tx.Amount
		tmpBalances[tx.ToAddr] = toBal + tx.Amount
		txs = append(txs, tx)
	}
	for _, tx := range rejected {
		bc.pushMempoolBackLocked(tx)
	}
	mempoolGauge.Update(int64(bc.mempoolOrder.Len()))
	bc.mempoolMu.Unlock()

	b := types.NewBlock(parentHashPtr, txs, uint32(time.Now().Unix()), miner)

	for !bc.powMatches(b.Hash()) {
		select {
		case <-cancel:
			return nil
		default:
		}
		b.Nonce++
	}

	if err := b.Sign(priv); err != nil {
		logger.Error("failed to sign mined block", "err", err)
		return nil
	}

	minedCounter.Inc(1)
	return b
}

// powMatches reports whether hash satisfies the current difficulty target.
func (bc *Blockchain) powMatches(hash common.Hash) bool {
	bc.blocksMu.Lock()
	defer bc.blocksMu.Unlock()
	return bc.validPow(hash)
}
