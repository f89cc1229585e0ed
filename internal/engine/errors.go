package engine

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"
)

var ErrUnauthorized = errors.New("unauthorized")
var ErrInsufficientBalance = errors.New("insufficient balance")
var ErrInsufficientPrizePool = errors.New("insufficient prize pool")
var ErrGameRoomAlreadyStarted = errors.New("game room already started")
var ErrGameRoomNotStarted = errors.New("game room is not started")
var ErrGameRoomNotFound = errors.New("game room not found")
var ErrInvalidWinner = errors.New("winner is not a contestant of the room")
var ErrInvalidContestants = errors.New("contestants must be two distinct addresses")
var ErrInvalidAmount = errors.New("amount must be greater than zero")
var ErrInvalidAddress = errors.New("address must not be empty")
var ErrDepositMismatch = errors.New("deposit payload does not match transferred amount")
var ErrArithmetic = errors.New("arithmetic overflow or underflow")
var ErrUnsupportedCommand = errors.New("unsupported command")
var ErrInvalidConfig = errors.New("invalid instance config")

// InsufficientBalanceError reports which user failed a balance precondition and by how much.
// User is empty when raised by a Balance method; Apply fills it in.
type InsufficientBalanceError struct {
	MinRequired    uint256.Int
	CurrentBalance uint256.Int
	User           string
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: user %q has %s available, %s required",
		e.User, e.CurrentBalance.Dec(), e.MinRequired.Dec())
}

func (e *InsufficientBalanceError) Unwrap() error { return ErrInsufficientBalance }

// GameRoomLoadError means a stored room could not be read back consistently.
type GameRoomLoadError struct {
	Msg string
}

func (e *GameRoomLoadError) Error() string { return "game room load error: " + e.Msg }

func insufficient(user string, required, current uint256.Int) *InsufficientBalanceError {
	return &InsufficientBalanceError{MinRequired: required, CurrentBalance: current, User: user}
}

// withUser stamps the user onto an InsufficientBalanceError coming out of a Balance method.
func withUser(err error, user string) error {
	var ib *InsufficientBalanceError
	if errors.As(err, &ib) {
		cp := *ib
		cp.User = user
		return &cp
	}
	return err
}
