package core

import (
	"crypto/ecdsa"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	coreerrors "stratachain/core/errors"
	"stratachain/core/state"
	"stratachain/core/types"
	"stratachain/storage"
	"stratachain/storage/trie"
)

type stubReader map[common.Address]*types.StakedState

func (r stubReader) Get(addr common.Address) (*types.StakedState, bool, error) {
	record, ok := r[addr]
	if !ok {
		return nil, false, nil
	}
	return record.Copy(), true, nil
}

func newAccount(t *testing.T) (*ecdsa.PrivateKey, common.Address) {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return key, crypto.PubkeyToAddress(key.PublicKey)
}

func signedTx(t *testing.T, key *ecdsa.PrivateKey, txType types.TxType, addr common.Address, amount uint64, nonce uint64) *types.Transaction {
	t.Helper()
	tx := &types.Transaction{
		Type:    txType,
		Address: addr,
		Amount:  uint256.NewInt(amount),
		Nonce:   nonce,
	}
	require.NoError(t, tx.Sign(key))
	return tx
}

const blockTime = uint64(1_700_000_000)

func TestValidateDeposit(t *testing.T) {
	key, addr := newAccount(t)
	tx := signedTx(t, key, types.TxTypeDeposit, addr, 1_000, 0)

	delta, err := Validate(tx, stubReader{}, blockTime, DefaultParams())
	require.NoError(t, err)
	require.Len(t, delta.Updates, 1)
	update := delta.Updates[0]
	require.Equal(t, addr, update.Address)
	require.False(t, update.Remove)
	require.Equal(t, uint256.NewInt(1_000), update.State.Bonded)
	require.Zero(t, update.State.Nonce, "deposits do not consume the account nonce")

	// Deposits to an existing account accumulate.
	reader := stubReader{addr: update.State}
	delta, err = Validate(signedTx(t, key, types.TxTypeDeposit, addr, 500, 0), reader, blockTime, DefaultParams())
	require.NoError(t, err)
	require.Equal(t, uint256.NewInt(1_500), delta.Updates[0].State.Bonded)
}

func TestValidateDepositRejectsNonPositiveAmount(t *testing.T) {
	key, addr := newAccount(t)
	tx := signedTx(t, key, types.TxTypeDeposit, addr, 0, 0)
	_, err := Validate(tx, stubReader{}, blockTime, DefaultParams())
	require.ErrorIs(t, err, coreerrors.ErrAmountNotPositive)
}

func TestValidateUnbond(t *testing.T) {
	key, addr := newAccount(t)
	record := types.NewStakedState(addr)
	record.Bonded = uint256.NewInt(1_000)
	record.Nonce = 2
	reader := stubReader{addr: record}
	params := DefaultParams()

	delta, err := Validate(signedTx(t, key, types.TxTypeUnbond, addr, 400, 2), reader, blockTime, params)
	require.NoError(t, err)
	next := delta.Updates[0].State
	require.Equal(t, uint256.NewInt(600), next.Bonded)
	require.Equal(t, uint256.NewInt(400), next.Unbonded)
	require.Equal(t, blockTime+params.BondingPeriod, next.UnbondedFrom)
	require.Equal(t, uint64(3), next.Nonce)
}

func TestValidateUnbondRejections(t *testing.T) {
	key, addr := newAccount(t)
	otherKey, _ := newAccount(t)
	record := types.NewStakedState(addr)
	record.Bonded = uint256.NewInt(100)
	record.Nonce = 1
	reader := stubReader{addr: record}
	params := DefaultParams()

	cases := []struct {
		name string
		tx   *types.Transaction
		want error
	}{
		{"insufficient bond", signedTx(t, key, types.TxTypeUnbond, addr, 500, 1), coreerrors.ErrInsufficientBond},
		{"stale nonce", signedTx(t, key, types.TxTypeUnbond, addr, 50, 0), coreerrors.ErrNonceMismatch},
		{"future nonce", signedTx(t, key, types.TxTypeUnbond, addr, 50, 2), coreerrors.ErrNonceMismatch},
		{"foreign signer", signedTx(t, otherKey, types.TxTypeUnbond, addr, 50, 1), coreerrors.ErrInvalidSignature},
		{"zero amount", signedTx(t, key, types.TxTypeUnbond, addr, 0, 1), coreerrors.ErrAmountNotPositive},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Validate(tc.tx, reader, blockTime, params)
			require.ErrorIs(t, err, tc.want)
			require.True(t, coreerrors.IsRejection(err))
		})
	}

	t.Run("unknown account", func(t *testing.T) {
		_, err := Validate(signedTx(t, key, types.TxTypeUnbond, addr, 50, 1), stubReader{}, blockTime, params)
		require.ErrorIs(t, err, coreerrors.ErrAccountNotFound)
	})
}

func TestValidateWithdraw(t *testing.T) {
	key, addr := newAccount(t)
	record := types.NewStakedState(addr)
	record.Unbonded = uint256.NewInt(300)
	record.UnbondedFrom = blockTime + 100
	reader := stubReader{addr: record}

	// Not yet matured.
	_, err := Validate(signedTx(t, key, types.TxTypeWithdraw, addr, 300, 0), reader, blockTime, DefaultParams())
	require.ErrorIs(t, err, coreerrors.ErrNotYetUnbonded)

	// Matured.
	delta, err := Validate(signedTx(t, key, types.TxTypeWithdraw, addr, 300, 0), reader, blockTime+100, DefaultParams())
	require.NoError(t, err)
	next := delta.Updates[0].State
	require.True(t, next.Unbonded.IsZero())
	require.Equal(t, uint64(1), next.Nonce)

	// More than available.
	_, err = Validate(signedTx(t, key, types.TxTypeWithdraw, addr, 301, 0), reader, blockTime+100, DefaultParams())
	require.ErrorIs(t, err, coreerrors.ErrInsufficientUnbonded)
}

func TestValidateJailedAccount(t *testing.T) {
	key, addr := newAccount(t)
	record := types.NewStakedState(addr)
	record.Bonded = uint256.NewInt(1_000)
	record.JailedUntil = blockTime + 1_000
	reader := stubReader{addr: record}

	_, err := Validate(signedTx(t, key, types.TxTypeUnbond, addr, 100, 0), reader, blockTime, DefaultParams())
	require.ErrorIs(t, err, coreerrors.ErrStillJailed)

	// Jailed accounts cannot receive deposits either.
	_, err = Validate(signedTx(t, key, types.TxTypeDeposit, addr, 100, 0), reader, blockTime, DefaultParams())
	require.ErrorIs(t, err, coreerrors.ErrStillJailed)

	// Unjail before the sentence expires.
	_, err = Validate(signedTx(t, key, types.TxTypeUnjail, addr, 0, 0), reader, blockTime, DefaultParams())
	require.ErrorIs(t, err, coreerrors.ErrStillJailed)

	// Unjail once expired.
	delta, err := Validate(signedTx(t, key, types.TxTypeUnjail, addr, 0, 0), reader, blockTime+1_000, DefaultParams())
	require.NoError(t, err)
	next := delta.Updates[0].State
	require.Zero(t, next.JailedUntil)
	require.Equal(t, uint64(1), next.Nonce)

	// Unjailing an account that is not jailed is malformed.
	free := types.NewStakedState(addr)
	_, err = Validate(signedTx(t, key, types.TxTypeUnjail, addr, 0, 0), stubReader{addr: free}, blockTime, DefaultParams())
	require.ErrorIs(t, err, coreerrors.ErrNotJailed)
}

func TestValidateUnknownTxType(t *testing.T) {
	key, addr := newAccount(t)
	tx := &types.Transaction{Type: types.TxType(0x99), Address: addr, Amount: uint256.NewInt(1)}
	require.NoError(t, tx.Sign(key))
	_, err := Validate(tx, stubReader{}, blockTime, DefaultParams())
	require.ErrorIs(t, err, coreerrors.ErrMalformedTx)
}

func TestStoreErrorsAreNotRejections(t *testing.T) {
	errReader := readerFunc(func(common.Address) (*types.StakedState, bool, error) {
		return nil, false, trie.ErrCorrupted
	})
	key, addr := newAccount(t)
	_, err := Validate(signedTx(t, key, types.TxTypeUnbond, addr, 10, 0), errReader, blockTime, DefaultParams())
	require.ErrorIs(t, err, trie.ErrCorrupted)
	require.False(t, coreerrors.IsRejection(err))
}

type readerFunc func(common.Address) (*types.StakedState, bool, error)

func (f readerFunc) Get(addr common.Address) (*types.StakedState, bool, error) {
	return f(addr)
}

func TestRejectionLeavesBufferUntouched(t *testing.T) {
	key, addr := newAccount(t)
	record := types.NewStakedState(addr)
	record.Bonded = uint256.NewInt(100)
	buf := state.NewStakingBuffer(stubReader{addr: record})

	// Spend more than the recorded bond.
	_, err := Validate(signedTx(t, key, types.TxTypeUnbond, addr, 500, 0), buf, blockTime, DefaultParams())
	require.ErrorIs(t, err, coreerrors.ErrInsufficientBond)
	require.Zero(t, buf.Len(), "rejections must not leak partial state changes")
}

func TestValidateStageFlushRoundTrip(t *testing.T) {
	db := storage.NewMemDB()
	t.Cleanup(func() { db.Close() })
	tr := trie.New(trie.NewStoreReader(db))
	key, addr := newAccount(t)
	params := DefaultParams()

	// Block 1: deposit.
	buf := state.NewStakingBuffer(state.NewStakingGetter(tr, 0))
	delta, err := Validate(signedTx(t, key, types.TxTypeDeposit, addr, 1_000, 0), buf, blockTime, params)
	require.NoError(t, err)
	require.NoError(t, delta.StageInto(buf))
	_, err = state.Flush(db, tr, 1, buf, nil)
	require.NoError(t, err)

	// Block 2: unbond half, reading through a fresh buffer bound to v1.
	buf = state.NewStakingBuffer(state.NewStakingGetter(tr, 1))
	delta, err = Validate(signedTx(t, key, types.TxTypeUnbond, addr, 500, 0), buf, blockTime, params)
	require.NoError(t, err)
	require.NoError(t, delta.StageInto(buf))
	_, err = state.Flush(db, tr, 2, buf, nil)
	require.NoError(t, err)

	record, found, err := state.NewStakingGetter(tr, 2).Get(addr)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, uint256.NewInt(500), record.Bonded)
	require.Equal(t, uint256.NewInt(500), record.Unbonded)
	require.Equal(t, uint64(1), record.Nonce)
}
