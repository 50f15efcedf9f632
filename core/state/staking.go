package state

import (
	"bytes"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"stratachain/core/types"
	"stratachain/storage/trie"
)

// StakingGetter binds the trie engine to one version and decodes staking
// blobs on read. It is safe for concurrent use: nodes are immutable once
// written, so reads never race with the next block's processing.
type StakingGetter struct {
	trie    *trie.Trie
	version uint64
}

func NewStakingGetter(tr *trie.Trie, version uint64) *StakingGetter {
	return &StakingGetter{trie: tr, version: version}
}

// Version returns the trie version all reads are bound to.
func (g *StakingGetter) Version() uint64 {
	return g.version
}

// Get returns a copy of the staking record for the address, or false when
// the account has no staked state at this version.
func (g *StakingGetter) Get(addr common.Address) (*types.StakedState, bool, error) {
	blob, found, err := g.trie.Get(g.version, types.StakingKeyHash(addr))
	if err != nil {
		return nil, false, err
	}
	if !found {
		return nil, false, nil
	}
	record, err := types.DecodeStakedState(blob)
	if err != nil {
		// A stored blob that no longer decodes means the store's data
		// contract was violated.
		return nil, false, fmt.Errorf("%w: staking blob for %x: %v", trie.ErrCorrupted, addr, err)
	}
	return record, true, nil
}

// Prove returns the record (nil when absent) together with an inclusion or
// exclusion proof verifiable against the published root hash of the bound
// version.
func (g *StakingGetter) Prove(addr common.Address) (*types.StakedState, *trie.Proof, error) {
	blob, proof, err := g.trie.GetWithProof(g.version, types.StakingKeyHash(addr))
	if err != nil {
		return nil, nil, err
	}
	if blob == nil {
		return nil, proof, nil
	}
	record, err := types.DecodeStakedState(blob)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: staking blob for %x: %v", trie.ErrCorrupted, addr, err)
	}
	return record, proof, nil
}

// NewStakingBuffer creates the per-block write buffer for staking records,
// draining in key-hash order to match the trie's canonical batch ordering.
func NewStakingBuffer(backend Getter[common.Address, *types.StakedState]) *Buffer[common.Address, *types.StakedState] {
	return NewBuffer(backend, func(a, b common.Address) bool {
		ha, hb := types.StakingKeyHash(a), types.StakingKeyHash(b)
		return bytes.Compare(ha[:], hb[:]) < 0
	})
}
