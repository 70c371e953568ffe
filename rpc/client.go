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
// This file is derived from original_source/rpc.py's __main__ client calls.

package rpc

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/joaomontenegro/chaind/blockchain/types"
	"github.com/joaomontenegro/chaind/common"
	"github.com/joaomontenegro/chaind/networks/p2p"
)

// connectTimeout bounds how long Client.Connect waits for the TCP handshake,
// the same budget the peer-to-peer client uses.
const connectTimeout = 500 * time.Millisecond

// Client is a one-shot connection to a node's RPC port, used by the operator
// CLI (spec.md §6) to submit transactions and query balances.
type Client struct {
	Host string
	Port int

	conn net.Conn
}

// NewClient builds a Client pointed at host:port. The connection is not
// opened until Connect is called.
func NewClient(host string, port int) *Client {
	return &Client{Host: host, Port: port}
}

// Connect opens the TCP connection.
func (c *Client) Connect() error {
	addr := net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
	conn, err := net.DialTimeout("tcp", addr, connectTimeout)
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", addr, err)
	}
	c.conn = conn
	return nil
}

// Close tears down the connection.
func (c *Client) Close() {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

// Version asks the node for its protocol version.
func (c *Client) Version() (uint32, error) {
	if err := p2p.SendMessage(c.conn, p2p.MsgVersion, nil); err != nil {
		return 0, fmt.Errorf("sending version request: %w", err)
	}
	msgType, payload, err := p2p.ReceiveMessage(c.conn)
	if err != nil {
		return 0, fmt.Errorf("receiving version response: %w", err)
	}
	if msgType != p2p.MsgVersion || len(payload) < common.IntLen {
		return 0, fmt.Errorf("unexpected version response %q", msgType)
	}
	return common.Uint32(payload), nil
}

// AddTransaction submits a signed transaction and reports whether the node
// accepted it.
func (c *Client) AddTransaction(tx *types.Transaction) (bool, error) {
	payload, err := tx.Encode()
	if err != nil {
		return false, fmt.Errorf("encoding transaction: %w", err)
	}
	if err := p2p.SendMessage(c.conn, p2p.MsgAddTx, payload); err != nil {
		return false, fmt.Errorf("sending transaction: %w", err)
	}
	msgType, _, err := p2p.ReceiveMessage(c.conn)
	if err != nil {
		return false, fmt.Errorf("receiving transaction response: %w", err)
	}
	return msgType == p2p.MsgTxOK, nil
}

// GetBalance queries addr's balance. The second return is false if the node
// answered NoBalance, which it does only for a request whose payload is
// shorter than an address; an address never seen on the chain gets a
// balance of 0.
func (c *Client) GetBalance(addr common.Address) (uint32, bool, error) {
	if err := p2p.SendMessage(c.conn, p2p.MsgGetBalance, addr[:]); err != nil {
		return 0, false, fmt.Errorf("sending balance request: %w", err)
	}
	msgType, payload, err := p2p.ReceiveMessage(c.conn)
	if err != nil {
		return 0, false, fmt.Errorf("receiving balance response: %w", err)
	}
	if msgType == p2p.MsgNoBalance {
		return 0, false, nil
	}
	if msgType != p2p.MsgBalance || len(payload) < common.IntLen {
		return 0, false, fmt.Errorf("unexpected balance response %q", msgType)
	}
	return common.Uint32(payload), true, nil
}
