package engine

import (
	"fmt"

	"github.com/holiman/uint256"
)

// NewAmount returns v as a ledger amount.
func NewAmount(v uint64) uint256.Int {
	return *uint256.NewInt(v)
}

// ParseAmount reads a base-10 amount as it travels on the wire and in storage.
func ParseAmount(s string) (uint256.Int, error) {
	var z uint256.Int
	if s == "" {
		return z, fmt.Errorf("parse amount: empty string")
	}
	if err := z.SetFromDecimal(s); err != nil {
		return uint256.Int{}, fmt.Errorf("parse amount %q: %w", s, err)
	}
	return z, nil
}

func add(a, b uint256.Int) (uint256.Int, error) {
	var out uint256.Int
	if _, overflow := out.AddOverflow(&a, &b); overflow {
		return uint256.Int{}, fmt.Errorf("%w: %s + %s", ErrArithmetic, a.Dec(), b.Dec())
	}
	return out, nil
}

func sub(a, b uint256.Int) (uint256.Int, error) {
	var out uint256.Int
	if _, underflow := out.SubOverflow(&a, &b); underflow {
		return uint256.Int{}, fmt.Errorf("%w: %s - %s", ErrArithmetic, a.Dec(), b.Dec())
	}
	return out, nil
}

func less(a, b uint256.Int) bool { return a.Lt(&b) }
