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
// This file is derived from original_source/client.py and
// original_source/network.py's Client.

package p2p

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/joaomontenegro/chaind/blockchain/types"
	"github.com/joaomontenegro/chaind/common"
	"github.com/joaomontenegro/chaind/log"
)

var logger = log.NewModuleLogger(log.P2P)

// connectTimeout bounds how long Connect waits for the TCP handshake,
// spec.md §4.7's "500 ms connect timeout".
const connectTimeout = 500 * time.Millisecond

// Client is the outbound half of a peer link: one-shot request/response
// methods over a single persistent TCP connection. Not safe for concurrent
// use by multiple goroutines issuing different calls at once, since the
// protocol is strictly request/response on one connection (spec.md §5).
type Client struct {
	Host string
	Port int

	conn           net.Conn
	FailedAttempts int
}

// NewClient builds a Client pointed at host:port. The connection is not
// opened until Connect is called.
func NewClient(host string, port int) *Client {
	return &Client{Host: host, Port: port}
}

func (c *Client) String() string {
	return fmt.Sprintf("Client(%s:%d)", c.Host, c.Port)
}

// Addr is this client's "host:port" as advertised to the remote peer.
func (c *Client) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// IsConnected reports whether Connect succeeded and Close hasn't been
// called since.
func (c *Client) IsConnected() bool {
	return c.conn != nil
}

// Connect opens a TCP connection with a 500 ms timeout. On any error it
// bumps FailedAttempts and returns false; on success it resets
// FailedAttempts to 0.
func (c *Client) Connect() bool {
	addr := net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
	conn, err := net.DialTimeout("tcp", addr, connectTimeout)
	if err != nil {
		c.FailedAttempts++
		logger.Debug("failed to connect to peer", "addr", addr, "attempts", c.FailedAttempts, "err", err)
		return false
	}
	c.conn = conn
	c.FailedAttempts = 0
	return true
}

// Close tells the peer our advertised address (so it can drop us from its
// peer list) and tears down the connection. ownAddr is "" if we don't run
// a listen server of our own.
func (c *Client) Close(ownAddr string) {
	if !c.IsConnected() {
		return
	}
	if err := SendMessage(c.conn, MsgClose, []byte(ownAddr)); err != nil {
		logger.Debug("error sending close notice", "peer", c, "err", err)
	}
	c.conn.Close()
	c.conn = nil
}

// Version sends our version and returns the peer's version, or false if
// the handshake failed for any reason.
func (c *Client) Version(ourVersion uint32) (uint32, bool) {
	if err := SendMessage(c.conn, MsgVersion, common.PutUint32(ourVersion)); err != nil {
		logger.Debug("version handshake send failed", "peer", c, "err", err)
		return 0, false
	}
	msgType, payload, err := ReceiveMessage(c.conn)
	if err != nil {
		logger.Debug("version handshake receive failed", "peer", c, "err", err)
		return 0, false
	}
	if msgType != MsgVersionOK || len(payload) < common.IntLen {
		return 0, false
	}
	return common.Uint32(payload), true
}

// GetAddrs asks the peer for addresses it knows about, advertising ourAddr
// (empty if we don't run a listen server) so it can add us as a peer too.
func (c *Client) GetAddrs(ourAddr string) []string {
	if err := SendMessage(c.conn, MsgGetAddrs, []byte(ourAddr)); err != nil {
		logger.Debug("get-addrs send failed", "peer", c, "err", err)
		return nil
	}
	msgType, payload, err := ReceiveMessage(c.conn)
	if err != nil {
		logger.Debug("get-addrs receive failed", "peer", c, "err", err)
		return nil
	}
	if msgType != MsgAddrs {
		return nil
	}
	return splitAddrs(payload)
}

// GetMempool asks the peer for its pending transactions.
func (c *Client) GetMempool() []*types.Transaction {
	if err := SendMessage(c.conn, MsgGetMempool, nil); err != nil {
		logger.Debug("get-mempool send failed", "peer", c, "err", err)
		return nil
	}
	msgType, payload, err := ReceiveMessage(c.conn)
	if err != nil {
		logger.Debug("get-mempool receive failed", "peer", c, "err", err)
		return nil
	}
	if msgType != MsgMempool || len(payload) < common.IntLen {
		return nil
	}

	count := common.Uint32(payload[:common.IntLen])
	off := common.IntLen
	txs := make([]*types.Transaction, 0, count)
	for i := uint32(0); i < count; i++ {
		if off+types.EncodedTxLen > len(payload) {
			logger.Debug("mempool payload truncated", "peer", c, "want", count, "got", i)
			break
		}
		tx, err := types.DecodeTransaction(payload[off : off+types.EncodedTxLen])
		if err != nil {
			logger.Debug("failed to decode mempool transaction", "peer", c, "err", err)
			break
		}
		txs = append(txs, tx)
		off += types.EncodedTxLen
	}
	return txs
}

// AddBlock relays a mined or synced block to the peer, one-way (no
// response is expected).
func (c *Client) AddBlock(b *types.Block) error {
	payload, err := b.Encode()
	if err != nil {
		return fmt.Errorf("encoding block for peer: %w", err)
	}
	return SendMessage(c.conn, MsgAddBlock, payload)
}

// SyncBlocks asks the peer for its height and full head-first hash chain.
// Returns (0, nil) if the peer isn't ahead of ourHeight or if the response
// can't be parsed, per spec.md §4.7.
func (c *Client) SyncBlocks(ourHeight uint64) (uint64, []common.Hash) {
	if err := SendMessage(c.conn, MsgSyncBlocks, common.PutUint32(uint32(ourHeight))); err != nil {
		logger.Debug("sync-blocks send failed", "peer", c, "err", err)
		return 0, nil
	}
	msgType, payload, err := ReceiveMessage(c.conn)
	if err != nil {
		logger.Debug("sync-blocks receive failed", "peer", c, "err", err)
		return 0, nil
	}
	if msgType != MsgHashes || len(payload) < 2*common.IntLen {
		return 0, nil
	}

	peerHeight := uint64(common.Uint32(payload[:common.IntLen]))
	if peerHeight <= ourHeight {
		return 0, nil
	}

	numHashes := common.Uint32(payload[common.IntLen : 2*common.IntLen])
	off := 2 * common.IntLen
	hashes := make([]common.Hash, 0, numHashes)
	for i := uint32(0); i < numHashes; i++ {
		if off+common.HashLen > len(payload) {
			return 0, nil
		}
		hashes = append(hashes, common.BytesToHash(payload[off:off+common.HashLen]))
		off += common.HashLen
	}
	return peerHeight, hashes
}

// GetBlocks requests the full encoding of each hash in order, decoding the
// variable-length response one block at a time using each block's byte
// size to find the next one.
func (c *Client) GetBlocks(hashes []common.Hash) []*types.Block {
	payload := make([]byte, 0, common.IntLen+len(hashes)*common.HashLen)
	payload = append(payload, common.PutUint32(uint32(len(hashes)))...)
	for _, h := range hashes {
		payload = append(payload, h[:]...)
	}

	if err := SendMessage(c.conn, MsgGetBlocks, payload); err != nil {
		logger.Debug("get-blocks send failed", "peer", c, "err", err)
		return nil
	}
	msgType, resp, err := ReceiveMessage(c.conn)
	if err != nil {
		logger.Debug("get-blocks receive failed", "peer", c, "err", err)
		return nil
	}
	if msgType != MsgBlocks || len(resp) < common.IntLen {
		return nil
	}

	numBlocks := common.Uint32(resp[:common.IntLen])
	off := common.IntLen
	blocks := make([]*types.Block, 0, numBlocks)
	for i := uint32(0); i < numBlocks; i++ {
		if off >= len(resp) {
			logger.Debug("blocks payload truncated", "peer", c, "want", numBlocks, "got", i)
			break
		}
		b, err := types.DecodeBlock(resp[off:])
		if err != nil {
			logger.Debug("failed to decode synced block", "peer", c, "err", err)
			break
		}
		if b == nil {
			logger.Debug("synced block failed signature validation", "peer", c)
			break
		}
		blocks = append(blocks, b)
		off += b.ByteSize
	}
	return blocks
}

// ParseAddr splits a "host:port" string, as carried in GetAddrs responses.
func ParseAddr(addr string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(strings.TrimSpace(addr))
	if err != nil {
		return "", 0, fmt.Errorf("invalid peer address %q: %w", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, fmt.Errorf("invalid peer port in %q: %w", addr, err)
	}
	return host, port, nil
}
