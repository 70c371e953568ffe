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

package node

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_MinerWithoutPrivateKeyIsRejected(t *testing.T) {
	_, err := New(Config{IsMiner: true})
	assert.ErrorIs(t, err, ErrNoPrivateKeyForMiner)
}

func TestAddPeer_SelfExclusion(t *testing.T) {
	n, err := New(Config{RunServer: true, ServerPort: 19000})
	require.NoError(t, err)

	assert.False(t, n.AddPeer("127.0.0.1", 19000), "must refuse to add itself by IP")
	assert.False(t, n.AddPeer("localhost", 19000), "must refuse to add itself by hostname alias")
	assert.Empty(t, n.GetPeerAddrs())
}

func TestAddPeer_IdempotentAndRemovable(t *testing.T) {
	const peerPort = 19001

	peer, err := New(Config{RunServer: true, ServerPort: peerPort})
	require.NoError(t, err)
	go peer.Start()
	defer peer.Stop()

	main, err := New(Config{})
	require.NoError(t, err)

	var added bool
	require.Eventually(t, func() bool {
		added = main.AddPeer("127.0.0.1", peerPort)
		return added
	}, 2*time.Second, 20*time.Millisecond, "expected to connect to the peer's listen server")
	require.True(t, added)
	assert.Len(t, main.GetPeerAddrs(), 1)

	assert.False(t, main.AddPeer("127.0.0.1", peerPort), "re-adding an already-present peer must be a no-op")
	assert.Len(t, main.GetPeerAddrs(), 1, "re-adding must not create a duplicate entry")

	main.RemovePeer("127.0.0.1", peerPort)
	assert.Empty(t, main.GetPeerAddrs())
}
