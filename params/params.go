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
// This file is derived from params/bootnodes.go's network-default-constant
// idiom.

// Package params collects the node-wide defaults: listen ports, bootstrap
// addresses, timer cadences, and the mining defaults.
package params

// Version is this node's protocol version; a peer whose version doesn't
// match is rejected during the handshake (spec.md §4.8 ValidateVersion).
const Version = 1

// InitialAddrs are the peer addresses dialed when a node's peer list is
// empty, the way original_source/controller.go seeds bootstrapping.
var InitialAddrs = []string{
	"127.0.0.1:5001",
	"127.0.0.1:5002",
	"127.0.0.1:5003",
}

// NumPeers is the target peer-set size UpdatePeers tries to reach. Noted in
// spec.md §9 as a cap an implementation may lift; kept as a package
// variable rather than a const for exactly that reason.
var NumPeers = 5

// MaxConnectFailures is how many consecutive failed connect attempts a peer
// tolerates before UpdatePeers drops it.
const MaxConnectFailures = 3

// Default listen ports for the CLI's run modes (spec.md §6).
const (
	DefaultServerPort = 5003
	DefaultRPCNodePort = 5001
	DefaultRPCPort     = 4001
	DefaultMinerPort   = 5002
)

// Main loop timer cadences (spec.md §4.8).
const (
	UpdatePeersInterval   = 5
	UpdateMempoolInterval = 1
	CleanMempoolInterval  = 60
	SyncBlocksInterval    = 10
	MainLoopIntervalMs    = 100
)

// MempoolTTLSeconds is how long a mempool entry survives before
// CleanMempool drops it.
const MempoolTTLSeconds = 3600

// Default mining parameters.
const (
	DefaultDifficulty = 2
	DefaultReward     = 10
	DefaultMaxTxPerBlock = 10
)
