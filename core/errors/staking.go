package errors

import stderrors "errors"

// Validation rejections are ordinary per-transaction outcomes: they never
// abort block processing and never touch the store. Match with errors.Is.
var (
	ErrInvalidSignature     = stderrors.New("validate: invalid signature")
	ErrNonceMismatch        = stderrors.New("validate: nonce mismatch")
	ErrAmountNotPositive    = stderrors.New("validate: amount must be positive")
	ErrInsufficientBond     = stderrors.New("validate: insufficient bonded funds")
	ErrInsufficientUnbonded = stderrors.New("validate: insufficient unbonded funds")
	ErrNotYetUnbonded       = stderrors.New("validate: unbonded funds not yet matured")
	ErrStillJailed          = stderrors.New("validate: account is jailed")
	ErrNotJailed            = stderrors.New("validate: account is not jailed")
	ErrAccountNotFound      = stderrors.New("validate: staked state not found")
	ErrMalformedTx          = stderrors.New("validate: malformed transaction")
)

var rejections = []error{
	ErrInvalidSignature,
	ErrNonceMismatch,
	ErrAmountNotPositive,
	ErrInsufficientBond,
	ErrInsufficientUnbonded,
	ErrNotYetUnbonded,
	ErrStillJailed,
	ErrNotJailed,
	ErrAccountNotFound,
	ErrMalformedTx,
}

// IsRejection reports whether err is a typed validation rejection, as
// opposed to a store-level failure that must propagate unmodified.
func IsRejection(err error) bool {
	for _, sentinel := range rejections {
		if stderrors.Is(err, sentinel) {
			return true
		}
	}
	return false
}
