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
// This file is derived from original_source/controller.py.

// Package node is the coordinator: the concurrent state machine that drives
// peer discovery, mempool gossip, chain synchronization, mining, and block
// broadcast from a single main loop.
package node

import (
	"crypto/ecdsa"
	"math/rand"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/pborman/uuid"
	"github.com/pkg/errors"

	"github.com/joaomontenegro/chaind/blockchain"
	"github.com/joaomontenegro/chaind/blockchain/types"
	"github.com/joaomontenegro/chaind/common"
	"github.com/joaomontenegro/chaind/log"
	"github.com/joaomontenegro/chaind/networks/p2p"
	"github.com/joaomontenegro/chaind/params"
	"github.com/joaomontenegro/chaind/rpc"
	"github.com/joaomontenegro/chaind/work"
)

var logger = log.NewModuleLogger(log.Node)

// ErrNoPrivateKeyForMiner is the configuration error spec.md §7 names as
// fatal at startup: a miner address was set without the private key needed
// to sign blocks and reward transactions.
var ErrNoPrivateKeyForMiner = errors.New("miner address configured without a private key")

// Config selects which optional subsystems a Node runs.
type Config struct {
	RunServer  bool
	ServerPort int

	RunRPC bool
	RPCPort int

	MinerAddr common.Address
	MinerPriv *ecdsa.PrivateKey
	IsMiner   bool

	Difficulty int
	Reward     uint32
	MaxTxBlock int
}

// intervalTimer fires once its interval has elapsed since the last Reset,
// the shape original_source/utils.py's Timer gives the main loop.
type intervalTimer struct {
	interval time.Duration
	deadline time.Time
}

// newIntervalTimer builds a timer that is already due on the very first
// call to Due, so the action runs immediately on the first tick.
func newIntervalTimer(interval time.Duration) *intervalTimer {
	return &intervalTimer{interval: interval, deadline: time.Now()}
}

// newDeferredIntervalTimer builds a timer that waits out one full interval
// before its first Due, for actions spec.md §4.8 does not name as
// immediate-on-first-tick.
func newDeferredIntervalTimer(interval time.Duration) *intervalTimer {
	return &intervalTimer{interval: interval, deadline: time.Now().Add(interval)}
}

func (t *intervalTimer) Due(now time.Time) bool {
	return !now.Before(t.deadline)
}

func (t *intervalTimer) Reset(now time.Time) {
	t.deadline = now.Add(t.interval)
}

// Node owns the blockchain engine, the live peer set, the optional listen
// and RPC servers, and the optional miner identity and worker.
type Node struct {
	instanceID string

	cfg   Config
	chain *blockchain.Blockchain

	peersMu sync.Mutex
	peers   []*p2p.Client

	server    *p2p.Server
	rpcServer *rpc.Server

	miner         *work.Miner
	minerResultCh chan *work.Result
	miningRound   bool

	quit chan struct{}
}

// New builds a Node around a fresh blockchain engine configured per cfg. It
// returns ErrNoPrivateKeyForMiner if IsMiner is set without a private key,
// the fatal configuration error spec.md §7 names.
func New(cfg Config) (*Node, error) {
	if cfg.IsMiner && cfg.MinerPriv == nil {
		return nil, ErrNoPrivateKeyForMiner
	}

	difficulty := cfg.Difficulty
	if difficulty == 0 {
		difficulty = params.DefaultDifficulty
	}
	chain := blockchain.NewBlockchain(difficulty)
	if cfg.Reward != 0 {
		chain.SetReward(cfg.Reward)
	}

	maxTx := cfg.MaxTxBlock
	if maxTx == 0 {
		maxTx = params.DefaultMaxTxPerBlock
	}
	cfg.MaxTxBlock = maxTx

	n := &Node{
		instanceID: uuid.New(),
		cfg:        cfg,
		chain:      chain,
		quit:       make(chan struct{}),
	}

	if cfg.IsMiner {
		n.minerResultCh = make(chan *work.Result, 1)
		n.miner = work.NewMiner(chain, cfg.MinerAddr, cfg.MinerPriv, maxTx, n.minerResultCh)
	}

	return n, nil
}

// Blockchain exposes the underlying engine.
func (n *Node) Blockchain() *blockchain.Blockchain { return n.chain }

// GetVersion returns this node's protocol version.
func (n *Node) GetVersion() uint32 { return params.Version }

// ValidateVersion reports whether v matches this node's protocol version.
func (n *Node) ValidateVersion(v uint32) bool { return v == params.Version }

// GetPeerAddrs returns the advertised host:port of every live peer.
func (n *Node) GetPeerAddrs() []string {
	n.peersMu.Lock()
	defer n.peersMu.Unlock()
	addrs := make([]string, 0, len(n.peers))
	for _, p := range n.peers {
		addrs = append(addrs, p.Addr())
	}
	return addrs
}

// AddPeer dials host:port and, if the handshake succeeds, adds it to the
// peer set. Idempotent and self-excluding: refuses to dial an address
// matching our own listen address (spec.md §4.8).
func (n *Node) AddPeer(host string, port int) bool {
	if n.isMe(host, port) {
		return false
	}

	n.peersMu.Lock()
	if n.hasPeerLocked(host, port) {
		n.peersMu.Unlock()
		return false
	}
	n.peersMu.Unlock()

	peer := p2p.NewClient(host, port)
	if !peer.Connect() {
		return false
	}

	peerVersion, ok := peer.Version(params.Version)
	if !ok || !n.ValidateVersion(peerVersion) {
		logger.Debug("rejecting peer with invalid version", "peer", peer)
		peer.Close(n.advertisedAddr())
		return false
	}

	n.peersMu.Lock()
	defer n.peersMu.Unlock()
	if n.hasPeerLocked(host, port) {
		peer.Close(n.advertisedAddr())
		return false
	}
	n.peers = append(n.peers, peer)
	return true
}

// RemovePeer drops host:port from the peer set, if present.
func (n *Node) RemovePeer(host string, port int) {
	n.peersMu.Lock()
	defer n.peersMu.Unlock()
	kept := n.peers[:0]
	for _, p := range n.peers {
		if p.Host == host && p.Port == port {
			continue
		}
		kept = append(kept, p)
	}
	n.peers = kept
}

func (n *Node) hasPeerLocked(host string, port int) bool {
	for _, p := range n.peers {
		if p.Host == host && p.Port == port {
			return true
		}
	}
	return false
}

// isMe reports whether host:port names our own listen address.
func (n *Node) isMe(host string, port int) bool {
	if !n.cfg.RunServer {
		return false
	}
	if port != n.cfg.ServerPort {
		return false
	}
	switch host {
	case "localhost", "127.0.0.1":
		return true
	}
	hostname, err := os.Hostname()
	return err == nil && host == hostname
}

// advertisedAddr returns our "host:port" as told to peers, or "" if we run
// no listen server of our own.
func (n *Node) advertisedAddr() string {
	if !n.cfg.RunServer {
		return ""
	}
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "127.0.0.1"
	}
	return net.JoinHostPort(hostname, strconv.Itoa(n.cfg.ServerPort))
}

// GetMempoolTransactions satisfies p2p.Backend.
func (n *Node) GetMempoolTransactions() []*types.Transaction {
	return n.chain.GetMempoolTransactions()
}

// AddTransaction satisfies p2p.Backend.
func (n *Node) AddTransaction(tx *types.Transaction) bool {
	return n.chain.AddTransaction(tx)
}

// AddBlock satisfies p2p.Backend.
func (n *Node) AddBlock(b *types.Block) bool {
	return n.chain.AddBlock(b)
}

// GetHeight satisfies p2p.Backend.
func (n *Node) GetHeight() uint64 {
	return n.chain.GetHeight()
}

// GetHighestChain satisfies p2p.Backend.
func (n *Node) GetHighestChain() []*types.Block {
	return n.chain.GetHighestChain()
}

// GetBlock satisfies p2p.Backend.
func (n *Node) GetBlock(hash common.Hash) *types.Block {
	return n.chain.GetBlock(hash)
}

// GetBalance satisfies rpc.Backend.
func (n *Node) GetBalance(addr common.Address) uint32 {
	return n.chain.GetBalance(addr)
}

// randomPeer returns a uniformly random live peer, or nil if there are
// none.
func (n *Node) randomPeer() *p2p.Client {
	n.peersMu.Lock()
	defer n.peersMu.Unlock()
	if len(n.peers) == 0 {
		return nil
	}
	return n.peers[rand.Intn(len(n.peers))]
}

// peersSnapshot copies out the current peer list, the preferred pattern for
// iterating without holding the peer lock (spec.md §5).
func (n *Node) peersSnapshot() []*p2p.Client {
	n.peersMu.Lock()
	defer n.peersMu.Unlock()
	out := make([]*p2p.Client, len(n.peers))
	copy(out, n.peers)
	return out
}

// sanitizePeers drops peers that have failed too many consecutive connect
// attempts, reconnecting any that are merely disconnected.
func (n *Node) sanitizePeers() {
	n.peersMu.Lock()
	defer n.peersMu.Unlock()

	kept := n.peers[:0]
	for _, p := range n.peers {
		if !p.IsConnected() {
			if !p.Connect() && p.FailedAttempts > params.MaxConnectFailures {
				logger.Debug("dropping unreachable peer", "peer", p)
				continue
			}
		}
		kept = append(kept, p)
	}
	n.peers = kept
}

// updatePeers is the UpdatePeers timer action (spec.md §4.8): sanitize the
// peer set, seed from the initial address list if empty, then grow toward
// NumPeers by asking each current peer for addresses it knows.
func (n *Node) updatePeers() {
	n.sanitizePeers()

	if len(n.peersSnapshot()) == 0 {
		logger.Debug("no peers, dialing initial addresses")
		for _, addr := range params.InitialAddrs {
			host, port, err := p2p.ParseAddr(addr)
			if err != nil {
				continue
			}
			n.AddPeer(host, port)
		}
	}

	for _, peer := range n.peersSnapshot() {
		if len(n.peersSnapshot()) >= params.NumPeers {
			return
		}
		for _, addr := range peer.GetAddrs(n.advertisedAddr()) {
			host, port, err := p2p.ParseAddr(addr)
			if err != nil {
				continue
			}
			n.AddPeer(host, port)
			if len(n.peersSnapshot()) >= params.NumPeers {
				return
			}
		}
	}
}

// updateMempool is the UpdateMempool timer action: pull a random peer's
// mempool and merge it into ours.
func (n *Node) updateMempool() {
	peer := n.randomPeer()
	if peer == nil || !peer.IsConnected() {
		return
	}
	for _, tx := range peer.GetMempool() {
		n.chain.AddTransaction(tx)
	}
}

// syncBlocks is the SyncBlocks timer action: ask a random peer for its
// chain, and if it's ahead, back-fill the missing suffix.
func (n *Node) syncBlocks() {
	peer := n.randomPeer()
	if peer == nil || !peer.IsConnected() {
		return
	}

	ourHeight := n.chain.GetHeight()
	peerHeight, hashes := peer.SyncBlocks(ourHeight)
	if peerHeight == 0 || len(hashes) == 0 {
		return
	}

	// hashes is head-first; walk from the tail (genesis-ward) toward the
	// head while we already have each hash, to find the highest one we
	// have, then request everything before it.
	knownIdx := len(hashes)
	for i := len(hashes) - 1; i >= 0; i-- {
		if !n.chain.HasBlock(hashes[i]) {
			break
		}
		knownIdx = i
	}
	if knownIdx == 0 {
		return // we already have everything the peer has
	}

	missing := hashes[:knownIdx]
	// Reverse to oldest-first so AddBlocks commits parents before children.
	for i, j := 0, len(missing)-1; i < j; i, j = i+1, j-1 {
		missing[i], missing[j] = missing[j], missing[i]
	}

	blocks := peer.GetBlocks(missing)
	n.chain.AddBlocks(blocks)

	// If our head moved, any mining round already in flight is solving on
	// top of a now-stale parent. Restart it against the new head rather
	// than waiting for it to finish a search that can never commit.
	if n.miner != nil && n.miningRound && n.chain.GetHeight() != ourHeight {
		n.miner.Begin()
	}
}

// cleanMempool is the CleanMempool timer action.
func (n *Node) cleanMempool() {
	cutoff := time.Now().Add(-params.MempoolTTLSeconds * time.Second).Unix()
	n.chain.CleanMempool(cutoff)
}

// broadcastBlock sends AddBlock to every current peer.
func (n *Node) broadcastBlock(b *types.Block) {
	for _, peer := range n.peersSnapshot() {
		if err := peer.AddBlock(b); err != nil {
			logger.Debug("failed to broadcast block to peer", "peer", peer, "err", err)
		}
	}
}

// mine is the mining-branch timer action: if a previous round finished,
// commit and broadcast its result; then, if configured as a miner, no round
// is in flight and the mempool is non-empty, start one.
func (n *Node) mine() {
	if n.miner == nil {
		return
	}

	select {
	case result := <-n.minerResultCh:
		n.miningRound = false
		if result.Block != nil && n.chain.AddBlock(result.Block) {
			n.broadcastBlock(result.Block)
		}
	default:
	}

	if !n.miningRound && n.chain.HasMempool() {
		n.miningRound = true
		n.miner.Begin()
	}
}

// Start runs the node's main loop until Stop is called. Blocks the calling
// goroutine; the listen server and RPC server (if enabled) each run on
// their own goroutine, per spec.md §5's one-thread-per-subsystem model.
func (n *Node) Start() error {
	logger.Info("starting node", "instance", n.instanceID)

	if n.cfg.RunServer {
		n.server = p2p.NewServer(n.cfg.ServerPort, n)
		go func() {
			if err := n.server.Start(); err != nil {
				logger.Error("listen server stopped", "err", err)
			}
		}()
	}

	if n.cfg.RunRPC {
		n.rpcServer = rpc.NewServer(n.cfg.RPCPort, n)
		go func() {
			if err := n.rpcServer.Start(); err != nil {
				logger.Error("rpc server stopped", "err", err)
			}
		}()
	}

	if n.miner != nil {
		n.miner.Start()
	}

	timerPeers := newIntervalTimer(params.UpdatePeersInterval * time.Second)
	timerMempool := newDeferredIntervalTimer(params.UpdateMempoolInterval * time.Second)
	timerClean := newDeferredIntervalTimer(params.CleanMempoolInterval * time.Second)
	timerSync := newIntervalTimer(params.SyncBlocksInterval * time.Second)

	ticker := time.NewTicker(params.MainLoopIntervalMs * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-n.quit:
			if n.server != nil {
				n.server.Stop()
			}
			if n.rpcServer != nil {
				n.rpcServer.Stop()
			}
			if n.miner != nil {
				n.miner.Stop()
			}
			return nil
		case now := <-ticker.C:
			if timerPeers.Due(now) {
				n.updatePeers()
				timerPeers.Reset(now)
			}
			if timerMempool.Due(now) {
				n.updateMempool()
				timerMempool.Reset(now)
			}
			if timerClean.Due(now) {
				n.cleanMempool()
				timerClean.Reset(now)
			}
			if timerSync.Due(now) {
				n.syncBlocks()
				timerSync.Reset(now)
			}
			n.mine()
		}
	}
}

// Stop signals the main loop to exit.
func (n *Node) Stop() {
	close(n.quit)
}
