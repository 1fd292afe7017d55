package fees

import (
	"math/big"
	"testing"
)

func TestCalculateFivePercent(t *testing.T) {
	split, err := Calculate(big.NewInt(10000), 5)
	if err != nil {
		t.Fatalf("calculate: %v", err)
	}
	if split.Fee.Int64() != 500 {
		t.Fatalf("fee = %s, want 500", split.Fee)
	}
	if split.BeneficiaryShare.Int64() != 9500 {
		t.Fatalf("share = %s, want 9500", split.BeneficiaryShare)
	}
}

func TestCalculateFloorsOddAmounts(t *testing.T) {
	split, err := Calculate(big.NewInt(10001), 3)
	if err != nil {
		t.Fatalf("calculate: %v", err)
	}
	if split.Fee.Int64() != 300 {
		t.Fatalf("fee = %s, want 300", split.Fee)
	}
	if split.BeneficiaryShare.Int64() != 9701 {
		t.Fatalf("share = %s, want 9701", split.BeneficiaryShare)
	}
	sum := new(big.Int).Add(split.Fee, split.BeneficiaryShare)
	if sum.Int64() != 10001 {
		t.Fatalf("fee+share = %s, want 10001", sum)
	}
}

func TestCalculateConservesTotal(t *testing.T) {
	amounts := []int64{0, 1, 7, 99, 100, 101, 1_000_000, 999_999_999}
	for _, amt := range amounts {
		for pct := uint64(0); pct <= 100; pct += 7 {
			split, err := Calculate(big.NewInt(amt), pct)
			if err != nil {
				t.Fatalf("calculate(%d, %d): %v", amt, pct, err)
			}
			sum := new(big.Int).Add(split.Fee, split.BeneficiaryShare)
			if sum.Int64() != amt {
				t.Fatalf("calculate(%d, %d): fee+share = %s", amt, pct, sum)
			}
		}
	}
}

func TestCalculateLargeAmountNoTruncation(t *testing.T) {
	amount, _ := new(big.Int).SetString("340282366920938463463374607431768211455", 10)
	split, err := Calculate(amount, 3)
	if err != nil {
		t.Fatalf("calculate: %v", err)
	}
	sum := new(big.Int).Add(split.Fee, split.BeneficiaryShare)
	if sum.Cmp(amount) != 0 {
		t.Fatalf("fee+share = %s, want %s", sum, amount)
	}
	if split.Fee.Sign() <= 0 {
		t.Fatalf("expected positive fee, got %s", split.Fee)
	}
}

func TestCalculateRejectsInvalidInputs(t *testing.T) {
	if _, err := Calculate(nil, 5); err != ErrNilAmount {
		t.Fatalf("nil amount: got %v", err)
	}
	if _, err := Calculate(big.NewInt(-1), 5); err != ErrNegativeAmount {
		t.Fatalf("negative amount: got %v", err)
	}
	if _, err := Calculate(big.NewInt(100), 101); err != ErrPercentRange {
		t.Fatalf("percent 101: got %v", err)
	}
}

func TestValidatePlatformFee(t *testing.T) {
	if err := ValidatePlatformFee(0); err != nil {
		t.Fatalf("0%%: %v", err)
	}
	if err := ValidatePlatformFee(10); err != nil {
		t.Fatalf("10%%: %v", err)
	}
	err := ValidatePlatformFee(11)
	if err == nil {
		t.Fatal("11% accepted")
	}
	tooHigh, ok := err.(*TooHighError)
	if !ok {
		t.Fatalf("unexpected error type %T", err)
	}
	if tooHigh.Max != MaxPlatformFeePercent {
		t.Fatalf("max = %d, want %d", tooHigh.Max, MaxPlatformFeePercent)
	}
}
