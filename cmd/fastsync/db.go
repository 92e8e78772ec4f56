package main

import (
	"github.com/ethereum/go-ethereum/ethdb"
	"github.com/ethereum/go-ethereum/ethdb/leveldb"
)

// newLevelDB opens the on-disk LevelDB store fast-sync persists headers,
// bodies, receipts, chain weights, and the sync-state blob in.
func newLevelDB(path string) (ethdb.KeyValueStore, error) {
	return leveldb.New(path, 256, 256, "fastsync/db", false)
}
