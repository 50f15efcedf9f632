package types

import (
	"crypto/ecdsa"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"
)

// TxType defines the staking operation a transaction performs.
type TxType byte

const (
	TxTypeDeposit  TxType = 0x01 // add funds to an account's bonded amount
	TxTypeUnbond   TxType = 0x02 // move bonded funds into the unbonding state
	TxTypeWithdraw TxType = 0x03 // withdraw matured unbonded funds
	TxTypeUnjail   TxType = 0x04 // lift an expired jail sentence
)

func (t TxType) String() string {
	switch t {
	case TxTypeDeposit:
		return "deposit"
	case TxTypeUnbond:
		return "unbond"
	case TxTypeWithdraw:
		return "withdraw"
	case TxTypeUnjail:
		return "unjail"
	default:
		return "unknown"
	}
}

// Transaction is a staking operation against one staked-state account.
// Nonce must equal the account's current nonce for operations that require
// the account's own signature.
type Transaction struct {
	Type    TxType
	Address common.Address
	Amount  *uint256.Int
	Nonce   uint64

	// Signature
	R, S, V *big.Int

	from *common.Address
}

type txSigPayload struct {
	Type    TxType
	Address common.Address
	Amount  *uint256.Int
	Nonce   uint64
}

// SigHash returns the digest that is signed: the keccak256 of the RLP
// encoding of every field except the signature itself.
func (tx *Transaction) SigHash() (common.Hash, error) {
	amount := tx.Amount
	if amount == nil {
		amount = uint256.NewInt(0)
	}
	enc, err := rlp.EncodeToBytes(&txSigPayload{
		Type:    tx.Type,
		Address: tx.Address,
		Amount:  amount,
		Nonce:   tx.Nonce,
	})
	if err != nil {
		return common.Hash{}, err
	}
	return crypto.Keccak256Hash(enc), nil
}

// Sign signs the transaction with the given key.
func (tx *Transaction) Sign(privKey *ecdsa.PrivateKey) error {
	hash, err := tx.SigHash()
	if err != nil {
		return err
	}
	sig, err := crypto.Sign(hash.Bytes(), privKey)
	if err != nil {
		return err
	}
	tx.R = new(big.Int).SetBytes(sig[:32])
	tx.S = new(big.Int).SetBytes(sig[32:64])
	tx.V = new(big.Int).SetBytes([]byte{sig[64] + 27})
	tx.from = nil
	return nil
}

// From recovers the signer address from the signature.
func (tx *Transaction) From() (common.Address, error) {
	if tx.from != nil {
		return *tx.from, nil
	}
	if tx.R == nil || tx.S == nil || tx.V == nil {
		return common.Address{}, errors.New("transaction is unsigned")
	}
	hash, err := tx.SigHash()
	if err != nil {
		return common.Address{}, err
	}
	sig := make([]byte, 65)
	tx.R.FillBytes(sig[:32])
	tx.S.FillBytes(sig[32:64])
	sig[64] = byte(tx.V.Uint64() - 27)
	pubKey, err := crypto.SigToPub(hash.Bytes(), sig)
	if err != nil {
		return common.Address{}, err
	}
	addr := crypto.PubkeyToAddress(*pubKey)
	tx.from = &addr
	return addr, nil
}
