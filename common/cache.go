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

package common

import (
	"errors"

	lru "github.com/hashicorp/golang-lru"

	"github.com/joaomontenegro/chaind/log"
)

var logger = log.NewModuleLogger(log.Common)

// CacheScale lets callers shrink every configured cache size uniformly,
// the way this codebase's cache sizing flag does.
var CacheScale int = 100 // cache size = preset size * CacheScale / 100

// Cache is a bounded, evict-on-overflow key/value store. chaind only needs
// the plain LRU shape: the sharded/ARC variants this package used to carry
// existed to spread lock contention across many concurrent verifier
// goroutines, which chaind's single engine-wide mempool lock makes moot.
type Cache interface {
	Add(key Hash, value interface{}) (evicted bool)
	Get(key Hash) (value interface{}, ok bool)
	Contains(key Hash) bool
	Purge()
}

type lruCache struct {
	lru *lru.Cache
}

// NewLRUCache builds an LRU-evicting cache of the requested size (scaled by
// CacheScale). Used by blockchain.Blockchain to remember transaction hashes
// whose ECDSA signature has already been verified once, so a transaction
// relayed by several peers isn't re-verified on every gossip round.
func NewLRUCache(size int) (Cache, error) {
	scaled := size * CacheScale / 100
	if scaled < 1 {
		logger.Error("invalid cache size", "size", size, "scale", CacheScale)
		return nil, errors.New("cache size must be positive after scaling")
	}
	c, err := lru.New(scaled)
	if err != nil {
		return nil, err
	}
	return &lruCache{lru: c}, nil
}

func (c *lruCache) Add(key Hash, value interface{}) (evicted bool) {
	return c.lru.Add(key, value)
}

func (c *lruCache) Get(key Hash) (value interface{}, ok bool) {
	return c.lru.Get(key)
}

func (c *lruCache) Contains(key Hash) bool {
	return c.lru.Contains(key)
}

func (c *lruCache) Purge() {
	c.lru.Purge()
}
