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

package p2p

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joaomontenegro/chaind/common"
)

func TestSendReceiveMessage_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, SendMessage(&buf, MsgGetAddrs, []byte("127.0.0.1:5001")))

	msgType, payload, err := ReceiveMessage(&buf)
	require.NoError(t, err)
	assert.Equal(t, MsgGetAddrs, msgType)
	assert.Equal(t, "127.0.0.1:5001", string(payload))
}

func TestSendReceiveMessage_EmptyPayload(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, SendMessage(&buf, MsgGetMempool, nil))

	msgType, payload, err := ReceiveMessage(&buf)
	require.NoError(t, err)
	assert.Equal(t, MsgGetMempool, msgType)
	assert.Empty(t, payload)
}

func TestSendMessage_TypePaddedAndTrimmedOnReceive(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, SendMessage(&buf, MsgBye, nil))

	// The type field on the wire is space-padded to MsgTypeLen; only the
	// header bytes up to the length field should carry that padding.
	header := buf.Bytes()[:common.MsgTypeLen]
	assert.Equal(t, "Bye!        ", string(header))

	msgType, _, err := ReceiveMessage(&buf)
	require.NoError(t, err)
	assert.Equal(t, MsgBye, msgType, "trailing padding must be trimmed on receive")
}

func TestReceiveMessage_ZeroByteReadIsFatal(t *testing.T) {
	_, _, err := ReceiveMessage(bytes.NewReader(nil))
	assert.Error(t, err, "an empty stream must be treated as a broken connection")
}

func TestJoinSplitAddrs_RoundTrip(t *testing.T) {
	addrs := []string{"127.0.0.1:5001", "127.0.0.1:5002", "10.0.0.9:6000"}
	assert.Equal(t, addrs, splitAddrs(joinAddrs(addrs)))
}

func TestSplitAddrs_EmptyPayload(t *testing.T) {
	assert.Nil(t, splitAddrs(nil))
}
