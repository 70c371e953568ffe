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
// This file is derived from original_source/server.py and
// original_source/network.py's Server.

package p2p

import (
	"fmt"
	"net"
	"strconv"

	"github.com/joaomontenegro/chaind/blockchain/types"
	"github.com/joaomontenegro/chaind/common"
)

// Backend is everything the inbound message dispatcher needs from the node
// coordinator. Kept minimal and read/command-oriented so the p2p package
// never has to import the node package (node imports p2p, not the other
// way around).
type Backend interface {
	GetVersion() uint32
	ValidateVersion(v uint32) bool
	GetPeerAddrs() []string
	AddPeer(host string, port int) bool
	RemovePeer(host string, port int)

	GetMempoolTransactions() []*types.Transaction
	AddTransaction(tx *types.Transaction) bool

	AddBlock(b *types.Block) bool
	GetHeight() uint64
	GetHighestChain() []*types.Block
	GetBlock(hash common.Hash) *types.Block
}

// Server is the inbound half of the peer protocol: a listener that spawns
// one goroutine per accepted connection and dispatches each received
// message to the matching handler. An unknown message type is fatal for
// that connection (spec.md §4.7).
type Server struct {
	Port    int
	Backend Backend

	listener net.Listener
	quit     chan struct{}
}

// NewServer builds a Server bound to port, not yet listening.
func NewServer(port int, backend Backend) *Server {
	return &Server{Port: port, Backend: backend, quit: make(chan struct{})}
}

// Start opens the listening socket and accepts connections until Stop is
// called. Blocks the calling goroutine; callers run it in its own
// goroutine, the way the node coordinator runs its listen server.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", net.JoinHostPort("", strconv.Itoa(s.Port)))
	if err != nil {
		return fmt.Errorf("listening on port %d: %w", s.Port, err)
	}
	s.listener = ln
	logger.Info("listening for peers", "port", s.Port)

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-s.quit:
				return nil
			default:
				logger.Debug("accept failed", "err", err)
				continue
			}
		}
		go s.handleConn(conn)
	}
}

// Stop closes the listening socket, unblocking Start.
func (s *Server) Stop() {
	close(s.quit)
	if s.listener != nil {
		s.listener.Close()
	}
}

// handleConn reads and dispatches messages from one connection until it
// closes or a fatal protocol error occurs.
func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()
	addr := conn.RemoteAddr()

	for {
		msgType, payload, err := ReceiveMessage(conn)
		if err != nil {
			logger.Debug("connection closed", "remote", addr, "err", err)
			return
		}

		stop, err := s.dispatch(conn, msgType, payload)
		if err != nil {
			logger.Debug("fatal protocol error, closing connection", "remote", addr, "msgType", msgType, "err", err)
			return
		}
		if stop {
			return
		}
	}
}

// dispatch handles one received message. Returns stop=true once the
// connection (or, for Stop, the whole server) should shut down.
func (s *Server) dispatch(conn net.Conn, msgType MsgType, payload []byte) (stop bool, err error) {
	switch msgType {
	case MsgVersion:
		return false, s.handleVersion(conn, payload)
	case MsgGetAddrs:
		return false, s.handleGetAddrs(conn, payload)
	case MsgGetMempool:
		return false, s.handleGetMempool(conn)
	case MsgAddBlock:
		return false, s.handleAddBlock(payload)
	case MsgSyncBlocks:
		return false, s.handleSyncBlocks(conn, payload)
	case MsgGetBlocks:
		return false, s.handleGetBlocks(conn, payload)
	case MsgClose:
		s.handleClose(payload)
		return true, nil
	case MsgStop:
		s.handleStop(conn)
		return true, nil
	default:
		return true, fmt.Errorf("unknown message type %q", msgType)
	}
}

func (s *Server) handleVersion(conn net.Conn, payload []byte) error {
	if len(payload) < common.IntLen {
		return SendMessage(conn, MsgVersionNO, nil)
	}
	peerVersion := common.Uint32(payload)
	if s.Backend.ValidateVersion(peerVersion) {
		return SendMessage(conn, MsgVersionOK, common.PutUint32(s.Backend.GetVersion()))
	}
	return SendMessage(conn, MsgVersionNO, nil)
}

func (s *Server) handleGetAddrs(conn net.Conn, payload []byte) error {
	addrs := s.Backend.GetPeerAddrs()
	if err := SendMessage(conn, MsgAddrs, joinAddrs(addrs)); err != nil {
		return err
	}
	if len(payload) > 0 {
		host, port, err := ParseAddr(string(payload))
		if err == nil {
			s.Backend.AddPeer(host, port)
		}
	}
	return nil
}

func (s *Server) handleGetMempool(conn net.Conn) error {
	txs := s.Backend.GetMempoolTransactions()
	payload := make([]byte, 0, common.IntLen+len(txs)*types.EncodedTxLen)
	payload = append(payload, common.PutUint32(uint32(len(txs)))...)
	for _, tx := range txs {
		enc, err := tx.Encode()
		if err != nil {
			logger.Debug("skipping unencodable mempool transaction", "tx", tx, "err", err)
			continue
		}
		payload = append(payload, enc...)
	}
	return SendMessage(conn, MsgMempool, payload)
}

func (s *Server) handleAddBlock(payload []byte) error {
	b, err := types.DecodeBlock(payload)
	if err != nil {
		return fmt.Errorf("decoding block: %w", err)
	}
	if b == nil {
		logger.Debug("received block with invalid signature, dropping")
		return nil
	}
	s.Backend.AddBlock(b)
	return nil
}

func (s *Server) handleSyncBlocks(conn net.Conn, payload []byte) error {
	chain := s.Backend.GetHighestChain()
	height := s.Backend.GetHeight()

	out := make([]byte, 0, 2*common.IntLen+len(chain)*common.HashLen)
	out = append(out, common.PutUint32(uint32(height))...)
	out = append(out, common.PutUint32(uint32(len(chain)))...)
	for _, b := range chain {
		h := b.Hash()
		out = append(out, h[:]...)
	}
	return SendMessage(conn, MsgHashes, out)
}

func (s *Server) handleGetBlocks(conn net.Conn, payload []byte) error {
	if len(payload) < common.IntLen {
		return SendMessage(conn, MsgBlocks, common.PutUint32(0))
	}
	count := common.Uint32(payload[:common.IntLen])
	off := common.IntLen

	out := make([]byte, 0)
	numSent := uint32(0)
	for i := uint32(0); i < count; i++ {
		if off+common.HashLen > len(payload) {
			break
		}
		h := common.BytesToHash(payload[off : off+common.HashLen])
		off += common.HashLen

		b := s.Backend.GetBlock(h)
		if b == nil {
			continue
		}
		enc, err := b.Encode()
		if err != nil {
			logger.Debug("skipping unencodable block in GetBlocks response", "hash", h, "err", err)
			continue
		}
		out = append(out, enc...)
		numSent++
	}

	resp := make([]byte, 0, common.IntLen+len(out))
	resp = append(resp, common.PutUint32(numSent)...)
	resp = append(resp, out...)
	return SendMessage(conn, MsgBlocks, resp)
}

func (s *Server) handleClose(payload []byte) {
	if len(payload) == 0 {
		return
	}
	host, port, err := ParseAddr(string(payload))
	if err != nil {
		return
	}
	s.Backend.RemovePeer(host, port)
}

func (s *Server) handleStop(conn net.Conn) {
	if err := SendMessage(conn, MsgBye, nil); err != nil {
		logger.Debug("failed to send Bye on stop", "err", err)
	}
	go s.Stop()
}
