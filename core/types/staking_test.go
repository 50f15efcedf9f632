package types

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
)

func testAddr(b byte) common.Address {
	var out common.Address
	out[19] = b
	return out
}

func TestStakedStateBlobRoundTrip(t *testing.T) {
	record := &StakedState{
		Address:      testAddr(1),
		Nonce:        4,
		Bonded:       uint256.NewInt(1_000_000),
		Unbonded:     uint256.NewInt(250),
		UnbondedFrom: 1700000000,
		JailedUntil:  1800000000,
	}
	blob, err := record.EncodeBlob()
	require.NoError(t, err)

	decoded, err := DecodeStakedState(blob)
	require.NoError(t, err)
	require.Equal(t, record, decoded)
}

func TestStakedStateEncodingIsDeterministic(t *testing.T) {
	record := NewStakedState(testAddr(2))
	record.Bonded = uint256.NewInt(77)

	first, err := record.EncodeBlob()
	require.NoError(t, err)
	second, err := record.Copy().EncodeBlob()
	require.NoError(t, err)
	require.Equal(t, first, second)

	// Nil amounts normalize to zero, so they encode like explicit zeros.
	sparse := &StakedState{Address: testAddr(3)}
	explicit := NewStakedState(testAddr(3))
	sparseBlob, err := sparse.EncodeBlob()
	require.NoError(t, err)
	explicitBlob, err := explicit.EncodeBlob()
	require.NoError(t, err)
	require.Equal(t, explicitBlob, sparseBlob)
}

func TestStakedStateCopyIsDeep(t *testing.T) {
	record := NewStakedState(testAddr(4))
	record.Bonded = uint256.NewInt(10)

	copied := record.Copy()
	copied.Bonded.Add(copied.Bonded, uint256.NewInt(5))
	copied.Nonce = 9

	require.Equal(t, uint256.NewInt(10), record.Bonded)
	require.Zero(t, record.Nonce)
}

func TestDecodeStakedStateRejectsGarbage(t *testing.T) {
	_, err := DecodeStakedState([]byte{0xba, 0xdb, 0x10, 0xb5})
	require.Error(t, err)
}

func TestStakingKeyHashIsStable(t *testing.T) {
	a := StakingKeyHash(testAddr(5))
	b := StakingKeyHash(testAddr(5))
	require.Equal(t, a, b)
	require.NotEqual(t, a, StakingKeyHash(testAddr(6)))
}
