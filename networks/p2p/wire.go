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
// This file is derived from original_source/network.py's Socket.Send/Receive.

// Package p2p is the peer-to-peer wire protocol: length-prefixed message
// framing, the outbound Client and inbound Server halves of a peer link,
// and the message catalog both sides speak.
package p2p

import (
	"fmt"
	"io"
	"strings"

	"github.com/joaomontenegro/chaind/common"
)

// MsgType is a fixed-width, space-padded wire message name. Decoding trims
// trailing whitespace; encoding always pads out to common.MsgTypeLen.
type MsgType string

// The full message catalog spec.md §4.7/§4.9 name.
const (
	MsgVersion     MsgType = "Version"
	MsgVersionOK   MsgType = "VersionOK"
	MsgVersionNO   MsgType = "VersionNO"
	MsgGetAddrs    MsgType = "GetAddrs"
	MsgAddrs       MsgType = "Addrs"
	MsgGetMempool  MsgType = "GetMempool"
	MsgMempool     MsgType = "Mempool"
	MsgAddBlock    MsgType = "AddBlock"
	MsgSyncBlocks  MsgType = "SyncBlocks"
	MsgHashes      MsgType = "Hashes"
	MsgGetBlocks   MsgType = "GetBlocks"
	MsgBlocks      MsgType = "Blocks"
	MsgClose       MsgType = "Close"
	MsgStop        MsgType = "Stop"
	MsgBye         MsgType = "Bye!"
	MsgAddTx       MsgType = "AddTx"
	MsgTxOK        MsgType = "TxOK"
	MsgTxNO        MsgType = "TxNO"
	MsgGetBalance  MsgType = "GetBalance"
	MsgBalance     MsgType = "Balance"
	MsgNoBalance   MsgType = "NoBalance"
)

// pad right-pads t with spaces to exactly common.MsgTypeLen bytes, the wire
// encoding of a message type. Truncates an over-long type rather than
// erroring, since every type named above fits comfortably.
func pad(t MsgType) []byte {
	s := string(t)
	if len(s) > common.MsgTypeLen {
		s = s[:common.MsgTypeLen]
	}
	out := make([]byte, common.MsgTypeLen)
	copy(out, s)
	for i := len(s); i < common.MsgTypeLen; i++ {
		out[i] = ' '
	}
	return out
}

// SendMessage writes msgType (space-padded to MsgTypeLen) followed by the
// 4-byte big-endian payload length and the payload itself. A short write is
// continued until the whole frame is sent; a write of 0 bytes is a fatal
// broken-connection error for this socket, per spec.md §4.6.
func SendMessage(w io.Writer, msgType MsgType, payload []byte) error {
	frame := make([]byte, 0, common.MsgTypeLen+common.IntLen+len(payload))
	frame = append(frame, pad(msgType)...)
	frame = append(frame, common.PutUint32(uint32(len(payload)))...)
	frame = append(frame, payload...)

	written := 0
	for written < len(frame) {
		n, err := w.Write(frame[written:])
		if err != nil {
			return fmt.Errorf("sending %s: %w", msgType, err)
		}
		if n == 0 {
			return fmt.Errorf("sending %s: connection broken", msgType)
		}
		written += n
	}
	return nil
}

// ReceiveMessage reads one framed message: a MsgTypeLen-byte type, a 4-byte
// length, then exactly that many payload bytes. Any read of 0 bytes is
// treated as a fatal broken-connection error, per spec.md §4.6.
func ReceiveMessage(r io.Reader) (MsgType, []byte, error) {
	header := make([]byte, common.MsgTypeLen+common.IntLen)
	if err := readFull(r, header); err != nil {
		return "", nil, err
	}

	msgType := strings.TrimRight(string(header[:common.MsgTypeLen]), " ")
	payloadLen := common.Uint32(header[common.MsgTypeLen:])

	payload := make([]byte, payloadLen)
	if payloadLen > 0 {
		if err := readFull(r, payload); err != nil {
			return "", nil, err
		}
	}

	return MsgType(msgType), payload, nil
}

// readFull fills buf completely, erroring on a broken connection (a read
// that returns 0 bytes without an error, or any read error).
func readFull(r io.Reader, buf []byte) error {
	read := 0
	for read < len(buf) {
		n, err := r.Read(buf[read:])
		if n == 0 && err == nil {
			return fmt.Errorf("receiving message: connection broken")
		}
		if err != nil {
			if err == io.EOF && read+n == len(buf) {
				read += n
				break
			}
			return fmt.Errorf("receiving message: %w", err)
		}
		read += n
	}
	return nil
}

// joinAddrs and splitAddrs round-trip the semicolon-joined "host:port" list
// the Addrs message carries.
func joinAddrs(addrs []string) []byte {
	return []byte(strings.Join(addrs, ";"))
}

func splitAddrs(payload []byte) []string {
	if len(payload) == 0 {
		return nil
	}
	return strings.Split(string(payload), ";")
}
