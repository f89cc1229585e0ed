package engine

import (
	"fmt"

	"github.com/holiman/uint256"
)

// Balance is one user's custody entry. Locked is the part of Total staked in open rooms,
// so Locked <= Total always holds and Available is the difference.
type Balance struct {
	Total  uint256.Int
	Locked uint256.Int
}

func (b Balance) Available() uint256.Int {
	var out uint256.Int
	out.Sub(&b.Total, &b.Locked)
	return out
}

// Deposit credits amount to Total.
func (b Balance) Deposit(amount uint256.Int) (Balance, error) {
	total, err := add(b.Total, amount)
	if err != nil {
		return b, fmt.Errorf("deposit: %w", err)
	}
	b.Total = total
	return b, nil
}

// Withdraw debits amount from the available part of Total.
func (b Balance) Withdraw(amount uint256.Int) (Balance, error) {
	if avail := b.Available(); less(avail, amount) {
		return b, insufficient("", amount, avail)
	}
	total, err := sub(b.Total, amount)
	if err != nil {
		return b, fmt.Errorf("withdraw: %w", err)
	}
	b.Total = total
	return b, nil
}

// Lock moves amount from available into Locked. Total does not change.
func (b Balance) Lock(amount uint256.Int) (Balance, error) {
	if avail := b.Available(); less(avail, amount) {
		return b, insufficient("", amount, avail)
	}
	locked, err := add(b.Locked, amount)
	if err != nil {
		return b, fmt.Errorf("lock: %w", err)
	}
	b.Locked = locked
	return b, nil
}

// UnlockAndIncrease releases unlock from Locked and credits increase to Total.
func (b Balance) UnlockAndIncrease(unlock, increase uint256.Int) (Balance, error) {
	locked, err := sub(b.Locked, unlock)
	if err != nil {
		return b, fmt.Errorf("unlock: %w", err)
	}
	total, err := add(b.Total, increase)
	if err != nil {
		return b, fmt.Errorf("increase: %w", err)
	}
	b.Locked, b.Total = locked, total
	return b, nil
}

// UnlockAndDecrease releases unlock from Locked and debits decrease from Total.
func (b Balance) UnlockAndDecrease(unlock, decrease uint256.Int) (Balance, error) {
	locked, err := sub(b.Locked, unlock)
	if err != nil {
		return b, fmt.Errorf("unlock: %w", err)
	}
	total, err := sub(b.Total, decrease)
	if err != nil {
		return b, fmt.Errorf("decrease: %w", err)
	}
	if less(total, locked) {
		return b, fmt.Errorf("%w: locked %s exceeds total %s", ErrArithmetic, locked.Dec(), total.Dec())
	}
	b.Locked, b.Total = locked, total
	return b, nil
}
