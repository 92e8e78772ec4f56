// Copyright 2015 The go-ethereum Authors
// This file is part of the go-ethereum library.
//
// The go-ethereum library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-ethereum library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-ethereum library. If not, see <http://www.gnu.org/licenses/>.

// Package fastsync implements the bootstrap sync algorithm:
//
// The algorithm has a multi-phase offset strategy. Instead of trying to
// sync up to the current head block, we sync up to a slightly older pivot
// block, which is guaranteed to be stale but final (belonging to a final,
// immutable section of the chain), requesting state for the pivot block
// and every block header, body and receipt in between. As the pivot block
// becomes stale, a new one further out is chosen and the process is
// repeated (pivot rebase).
//
// While headers, bodies and receipts are downloaded and inserted into
// local storage on a pipeline across many peers, the state download has a
// separate life cycle: it is scheduled once headers reach the safe download
// target, a fixed number of blocks past the pivot block, and may span
// multiple pivot rebases before completing, since it
// can take more time than the rest of the chain sync.
//
// Disk storage is either a full database or an in-memory one for testing.
// Synced state is storage agnostic, making this algorithm applicable to
// both full node and light client synchronization.
package fastsync
