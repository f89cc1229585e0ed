package engine

import (
	"fmt"

	"github.com/holiman/uint256"
)

var two = uint256.NewInt(2)

// MinRequiredStake is the stake each contestant locks for a room:
// (prizePool - 2*fee) / 2, floored.
func MinRequiredStake(prizePool, fee uint256.Int) (uint256.Int, error) {
	var twoFees uint256.Int
	if _, overflow := twoFees.MulOverflow(&fee, two); overflow {
		return uint256.Int{}, fmt.Errorf("%w: fee %s is too large", ErrInsufficientPrizePool, fee.Dec())
	}
	if less(prizePool, twoFees) {
		return uint256.Int{}, fmt.Errorf("%w: prize pool %s is below twice the fee %s",
			ErrInsufficientPrizePool, prizePool.Dec(), fee.Dec())
	}
	var stake uint256.Int
	stake.Sub(&prizePool, &twoFees)
	stake.Div(&stake, two)
	return stake, nil
}

// WinnerGain is what the winner nets on top of its own released stake:
// the opponent's stake less the protocol fee.
func WinnerGain(stake, fee uint256.Int) (uint256.Int, error) {
	if less(stake, fee) {
		return uint256.Int{}, fmt.Errorf("%w: stake %s does not cover fee %s",
			ErrInsufficientPrizePool, stake.Dec(), fee.Dec())
	}
	var gain uint256.Int
	gain.Sub(&stake, &fee)
	return gain, nil
}

// Settlement lists the balance movements that close a room. For a draw only Unlock is set.
type Settlement struct {
	Result     RoomStatus
	Unlock     uint256.Int
	Winner     string
	Loser      string
	WinnerGain uint256.Int
	LoserLoss  uint256.Int
	Fee        uint256.Int
}

// Settle computes the settlement of a started room. Winner gain plus fee always equals
// the loser's loss.
func Settle(room GameRoom, result RoomStatus, fee uint256.Int) (Settlement, error) {
	if !result.Terminal() || room.Status.Kind != StatusStarted {
		return Settlement{}, ErrGameRoomNotStarted
	}
	st := Settlement{Result: result, Unlock: room.Stake}
	if result.Kind == StatusDraw {
		return st, nil
	}
	if !room.HasContestant(result.Winner) {
		return Settlement{}, fmt.Errorf("%w: %q", ErrInvalidWinner, result.Winner)
	}
	gain, err := WinnerGain(room.Stake, fee)
	if err != nil {
		return Settlement{}, err
	}
	st.Winner = result.Winner
	st.Loser = room.Opponent(result.Winner)
	st.WinnerGain = gain
	st.LoserLoss = room.Stake
	st.Fee = fee
	return st, nil
}
