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
// This file is derived from original_source/rpc.py.

// Package rpc is the local operator control plane: a second TCP listener,
// reusing the peer wire framing, that answers Version/AddTx/GetBalance
// requests (spec.md §4.9).
package rpc

import (
	"fmt"
	"net"
	"strconv"

	"github.com/joaomontenegro/chaind/blockchain/types"
	"github.com/joaomontenegro/chaind/common"
	"github.com/joaomontenegro/chaind/log"
	"github.com/joaomontenegro/chaind/networks/p2p"
)

var logger = log.NewModuleLogger(log.RPC)

// Backend is everything the RPC dispatcher needs from the node coordinator.
type Backend interface {
	GetVersion() uint32
	AddTransaction(tx *types.Transaction) bool
	GetBalance(addr common.Address) uint32
}

// Server listens for local operator connections and answers each one with
// the message catalog spec.md §4.9 names.
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

// Start opens the listening socket and serves requests until Stop is
// called. Blocks the calling goroutine.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", net.JoinHostPort("", strconv.Itoa(s.Port)))
	if err != nil {
		return fmt.Errorf("listening on rpc port %d: %w", s.Port, err)
	}
	s.listener = ln
	logger.Info("rpc listening", "port", s.Port)

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-s.quit:
				return nil
			default:
				logger.Debug("rpc accept failed", "err", err)
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

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	for {
		msgType, payload, err := p2p.ReceiveMessage(conn)
		if err != nil {
			logger.Debug("rpc connection closed", "remote", conn.RemoteAddr(), "err", err)
			return
		}
		if err := s.dispatch(conn, msgType, payload); err != nil {
			logger.Debug("rpc fatal protocol error, closing connection", "remote", conn.RemoteAddr(), "msgType", msgType, "err", err)
			return
		}
	}
}

func (s *Server) dispatch(conn net.Conn, msgType p2p.MsgType, payload []byte) error {
	switch msgType {
	case p2p.MsgVersion:
		return p2p.SendMessage(conn, p2p.MsgVersion, common.PutUint32(s.Backend.GetVersion()))

	case p2p.MsgAddTx:
		tx, err := types.DecodeTransaction(payload)
		if err != nil {
			return p2p.SendMessage(conn, p2p.MsgTxNO, nil)
		}
		if s.Backend.AddTransaction(tx) {
			return p2p.SendMessage(conn, p2p.MsgTxOK, nil)
		}
		return p2p.SendMessage(conn, p2p.MsgTxNO, nil)

	case p2p.MsgGetBalance:
		if len(payload) < common.AddrLen {
			return p2p.SendMessage(conn, p2p.MsgNoBalance, nil)
		}
		addr := common.BytesToAddress(payload[:common.AddrLen])
		balance := s.Backend.GetBalance(addr)
		return p2p.SendMessage(conn, p2p.MsgBalance, common.PutUint32(balance))

	default:
		return fmt.Errorf("unknown rpc message type %q", msgType)
	}
}
