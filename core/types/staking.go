package types

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"
)

// StakedState is the staking record of one account: what is bonded to the
// network, what is unbonding, and when unbonded funds mature. It is the
// decoded form of the value blob stored in the state trie. The store only
// ever hands out copies; callers never hold live references into the trie.
type StakedState struct {
	Address      common.Address
	Nonce        uint64
	Bonded       *uint256.Int
	Unbonded     *uint256.Int
	UnbondedFrom uint64
	JailedUntil  uint64
}

// NewStakedState returns an empty record for the address.
func NewStakedState(addr common.Address) *StakedState {
	return &StakedState{
		Address:  addr,
		Bonded:   uint256.NewInt(0),
		Unbonded: uint256.NewInt(0),
	}
}

// Copy returns a deep copy of the record.
func (s *StakedState) Copy() *StakedState {
	out := *s
	out.Bonded = new(uint256.Int).Set(s.bondedOrZero())
	out.Unbonded = new(uint256.Int).Set(s.unbondedOrZero())
	return &out
}

// Jailed reports whether the account is jailed at the given time.
func (s *StakedState) Jailed(now uint64) bool {
	return s.JailedUntil != 0 && now < s.JailedUntil
}

func (s *StakedState) bondedOrZero() *uint256.Int {
	if s.Bonded == nil {
		return uint256.NewInt(0)
	}
	return s.Bonded
}

func (s *StakedState) unbondedOrZero() *uint256.Int {
	if s.Unbonded == nil {
		return uint256.NewInt(0)
	}
	return s.Unbonded
}

// EncodeBlob produces the canonical RLP value blob for the record. The
// encoding is deterministic: the same logical record always encodes to the
// same bytes, which the trie's root determinism depends on.
func (s *StakedState) EncodeBlob() ([]byte, error) {
	normalized := StakedState{
		Address:      s.Address,
		Nonce:        s.Nonce,
		Bonded:       s.bondedOrZero(),
		Unbonded:     s.unbondedOrZero(),
		UnbondedFrom: s.UnbondedFrom,
		JailedUntil:  s.JailedUntil,
	}
	return rlp.EncodeToBytes(&normalized)
}

// DecodeStakedState parses a value blob back into a record.
func DecodeStakedState(blob []byte) (*StakedState, error) {
	state := new(StakedState)
	if err := rlp.DecodeBytes(blob, state); err != nil {
		return nil, fmt.Errorf("decode staked state: %w", err)
	}
	if state.Bonded == nil {
		state.Bonded = uint256.NewInt(0)
	}
	if state.Unbonded == nil {
		state.Unbonded = uint256.NewInt(0)
	}
	return state, nil
}

// StakingKeyHash derives the trie key hash for an account's staking record.
func StakingKeyHash(addr common.Address) common.Hash {
	return crypto.Keccak256Hash(addr.Bytes())
}
