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
// This file is derived from agent.go's CpuAgent start/stop/cancel pattern.

// Package work runs the mining search on its own worker, off the node
// coordinator's main loop, so the coordinator can keep driving peer and
// mempool traffic while a block is being solved.
package work

import (
	"crypto/ecdsa"
	"sync"
	"sync/atomic"

	"github.com/joaomontenegro/chaind/blockchain"
	"github.com/joaomontenegro/chaind/blockchain/types"
	"github.com/joaomontenegro/chaind/common"
	"github.com/joaomontenegro/chaind/log"
)

var logger = log.NewModuleLogger(log.Work)

// Result is what a completed mining round hands back: either a freshly
// mined block, or nil if the round was cancelled or the mempool was empty.
type Result struct {
	Block *types.Block
}

// Miner runs blockchain.Mine on a single background worker at a time,
// mirroring CpuAgent's start/stop/quitCurrentOp shape: Start launches the
// update loop, Begin kicks off one mining round (cancelling any round
// already in flight), and Stop tears the worker down entirely.
type Miner struct {
	mu sync.Mutex

	chain    *blockchain.Blockchain
	miner    common.Address
	priv     *ecdsa.PrivateKey
	maxTx    int
	returnCh chan<- *Result

	beginCh chan struct{}
	stop    chan struct{}
	cancel  chan struct{}

	running int32
}

// NewMiner builds a Miner that solves blocks for miner/priv against chain,
// reporting each completed round (successful or not) on returnCh.
func NewMiner(chain *blockchain.Blockchain, miner common.Address, priv *ecdsa.PrivateKey, maxTx int, returnCh chan<- *Result) *Miner {
	return &Miner{
		chain:    chain,
		miner:    miner,
		priv:     priv,
		maxTx:    maxTx,
		returnCh: returnCh,
		beginCh:  make(chan struct{}, 1),
		stop:     make(chan struct{}),
	}
}

// Start launches the worker goroutine. A no-op if already started.
func (m *Miner) Start() {
	if !atomic.CompareAndSwapInt32(&m.running, 0, 1) {
		return
	}
	go m.loop()
}

// Stop cancels any in-flight round and shuts the worker down. A no-op if
// already stopped.
func (m *Miner) Stop() {
	if !atomic.CompareAndSwapInt32(&m.running, 1, 0) {
		return
	}
	close(m.stop)
}

// Begin requests a new mining round. If a round is already in progress it
// is cancelled first, so the worker never races two PoW searches at once.
func (m *Miner) Begin() {
	select {
	case m.beginCh <- struct{}{}:
	default:
		// A round is already queued to start; no need to queue a second.
	}
}

func (m *Miner) loop() {
	for {
		select {
		case <-m.beginCh:
			m.mu.Lock()
			if m.cancel != nil {
				close(m.cancel)
			}
			m.cancel = make(chan struct{})
			cancel := m.cancel
			m.mu.Unlock()
			go m.mine(cancel)
		case <-m.stop:
			m.mu.Lock()
			if m.cancel != nil {
				close(m.cancel)
				m.cancel = nil
			}
			m.mu.Unlock()
			return
		}
	}
}

func (m *Miner) mine(cancel <-chan struct{}) {
	b := m.chain.Mine(m.miner, m.priv, m.maxTx, cancel)
	if b != nil {
		logger.Info("mined a new block", "hash", b.Hash().Hex()[:8], "height", b.Height, "txs", len(b.Transactions))
	}
	select {
	case m.returnCh <- &Result{Block: b}:
	case <-cancel:
	}
}
