package core

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	coreerrors "stratachain/core/errors"
	"stratachain/core/state"
	"stratachain/core/types"
	"stratachain/observability/metrics"
)

// Params holds the chain parameters the validator needs.
type Params struct {
	// BondingPeriod is the delay in seconds between an unbond operation and
	// the moment the unbonded funds may be withdrawn.
	BondingPeriod uint64
}

func DefaultParams() Params {
	return Params{BondingPeriod: 21 * 24 * 60 * 60}
}

// StateUpdate is one account change computed by validation.
type StateUpdate struct {
	Address common.Address
	State   *types.StakedState
	Remove  bool
}

// StateDelta is the accepted outcome of validating one transaction. It is
// staged into a buffer by the caller; validation itself never mutates any
// store.
type StateDelta struct {
	Updates []StateUpdate
}

// StageInto applies the delta to a pending block's buffer.
func (d *StateDelta) StageInto(buf *state.Buffer[common.Address, *types.StakedState]) error {
	for _, u := range d.Updates {
		if u.Remove {
			if err := buf.Remove(u.Address); err != nil {
				return err
			}
			continue
		}
		if err := buf.Set(u.Address, u.State); err != nil {
			return err
		}
	}
	return nil
}

// StakingReader is the versioned getter validation reads through. The
// caller binds it to a version (or layers a buffer over it); the validator
// never sees the store directly.
type StakingReader interface {
	Get(addr common.Address) (*types.StakedState, bool, error)
}

// Validate checks the transaction's signature, nonce and funds against the
// staking state visible through the reader and computes the resulting state
// delta. Rejections are typed sentinels from core/errors, reported
// per-transaction; store-level failures propagate unmodified.
func Validate(tx *types.Transaction, reader StakingReader, blockTime uint64, params Params) (*StateDelta, error) {
	delta, err := validate(tx, reader, blockTime, params)
	if err != nil && coreerrors.IsRejection(err) {
		metrics.State().TxRejected(tx.Type.String())
	}
	return delta, err
}

func validate(tx *types.Transaction, reader StakingReader, blockTime uint64, params Params) (*StateDelta, error) {
	signer, err := tx.From()
	if err != nil {
		return nil, coreerrors.ErrInvalidSignature
	}

	switch tx.Type {
	case types.TxTypeDeposit:
		return validateDeposit(tx, reader, blockTime)
	case types.TxTypeUnbond, types.TxTypeWithdraw, types.TxTypeUnjail:
		// Operations on an existing staked state must be signed by the
		// staked address itself and carry its exact nonce.
		if signer != tx.Address {
			return nil, coreerrors.ErrInvalidSignature
		}
		record, found, err := reader.Get(tx.Address)
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, coreerrors.ErrAccountNotFound
		}
		if tx.Nonce != record.Nonce {
			return nil, coreerrors.ErrNonceMismatch
		}
		switch tx.Type {
		case types.TxTypeUnbond:
			return validateUnbond(tx, record, blockTime, params)
		case types.TxTypeWithdraw:
			return validateWithdraw(tx, record, blockTime)
		default:
			return validateUnjail(record, blockTime)
		}
	default:
		return nil, coreerrors.ErrMalformedTx
	}
}

func positiveAmount(tx *types.Transaction) (*uint256.Int, error) {
	if tx.Amount == nil || tx.Amount.IsZero() {
		return nil, coreerrors.ErrAmountNotPositive
	}
	return tx.Amount, nil
}

func validateDeposit(tx *types.Transaction, reader StakingReader, blockTime uint64) (*StateDelta, error) {
	amount, err := positiveAmount(tx)
	if err != nil {
		return nil, err
	}
	record, found, err := reader.Get(tx.Address)
	if err != nil {
		return nil, err
	}
	if !found {
		record = types.NewStakedState(tx.Address)
	} else {
		if record.Jailed(blockTime) {
			return nil, coreerrors.ErrStillJailed
		}
		record = record.Copy()
	}
	bonded := new(uint256.Int).Add(record.Bonded, amount)
	if bonded.Lt(record.Bonded) {
		return nil, coreerrors.ErrMalformedTx
	}
	record.Bonded = bonded
	return &StateDelta{Updates: []StateUpdate{{Address: tx.Address, State: record}}}, nil
}

func validateUnbond(tx *types.Transaction, record *types.StakedState, blockTime uint64, params Params) (*StateDelta, error) {
	amount, err := positiveAmount(tx)
	if err != nil {
		return nil, err
	}
	if record.Jailed(blockTime) {
		return nil, coreerrors.ErrStillJailed
	}
	if record.Bonded.Lt(amount) {
		return nil, coreerrors.ErrInsufficientBond
	}
	next := record.Copy()
	next.Bonded = new(uint256.Int).Sub(record.Bonded, amount)
	next.Unbonded = new(uint256.Int).Add(record.Unbonded, amount)
	next.UnbondedFrom = blockTime + params.BondingPeriod
	next.Nonce++
	return &StateDelta{Updates: []StateUpdate{{Address: tx.Address, State: next}}}, nil
}

func validateWithdraw(tx *types.Transaction, record *types.StakedState, blockTime uint64) (*StateDelta, error) {
	amount, err := positiveAmount(tx)
	if err != nil {
		return nil, err
	}
	if record.Jailed(blockTime) {
		return nil, coreerrors.ErrStillJailed
	}
	if blockTime < record.UnbondedFrom {
		return nil, coreerrors.ErrNotYetUnbonded
	}
	if record.Unbonded.Lt(amount) {
		return nil, coreerrors.ErrInsufficientUnbonded
	}
	next := record.Copy()
	next.Unbonded = new(uint256.Int).Sub(record.Unbonded, amount)
	next.Nonce++
	return &StateDelta{Updates: []StateUpdate{{Address: tx.Address, State: next}}}, nil
}

func validateUnjail(record *types.StakedState, blockTime uint64) (*StateDelta, error) {
	if record.JailedUntil == 0 {
		return nil, coreerrors.ErrNotJailed
	}
	if blockTime < record.JailedUntil {
		return nil, coreerrors.ErrStillJailed
	}
	next := record.Copy()
	next.JailedUntil = 0
	next.Nonce++
	return &StateDelta{Updates: []StateUpdate{{Address: next.Address, State: next}}}, nil
}
