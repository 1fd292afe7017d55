package fees

import (
	"errors"
	"fmt"
	"math/big"
)

// MaxPlatformFeePercent bounds the configurable platform fee. The calculator
// itself accepts any percent in [0,100]; platform configuration additionally
// enforces this ceiling at genesis and on every update.
const MaxPlatformFeePercent = 10

var (
	ErrNilAmount      = errors.New("fees: amount required")
	ErrNegativeAmount = errors.New("fees: amount must be non-negative")
	ErrPercentRange   = errors.New("fees: percent must be between 0 and 100")
)

// TooHighError reports a platform fee configuration above the allowed ceiling.
type TooHighError struct {
	Percent uint64
	Max     uint64
}

func (e *TooHighError) Error() string {
	return fmt.Sprintf("fees: platform fee %d%% exceeds maximum %d%%", e.Percent, e.Max)
}

// Split is the deterministic division of a funded amount into the platform fee
// and the beneficiary share. Fee + BeneficiaryShare always equals the input.
type Split struct {
	Fee              *big.Int
	BeneficiaryShare *big.Int
}

// Calculate computes fee = floor(amount*percent/100) and the remaining share.
// The multiply happens before the divide on arbitrary-precision integers, so
// no intermediate truncation or wrap can occur.
func Calculate(amount *big.Int, feePercent uint64) (Split, error) {
	if amount == nil {
		return Split{}, ErrNilAmount
	}
	if amount.Sign() < 0 {
		return Split{}, ErrNegativeAmount
	}
	if feePercent > 100 {
		return Split{}, ErrPercentRange
	}
	fee := new(big.Int).Mul(amount, new(big.Int).SetUint64(feePercent))
	fee.Div(fee, big.NewInt(100))
	share := new(big.Int).Sub(amount, fee)
	return Split{Fee: fee, BeneficiaryShare: share}, nil
}

// ValidatePlatformFee enforces the platform-level ceiling on the configured
// fee percent.
func ValidatePlatformFee(percent uint64) error {
	if percent > MaxPlatformFeePercent {
		return &TooHighError{Percent: percent, Max: MaxPlatformFeePercent}
	}
	return nil
}
