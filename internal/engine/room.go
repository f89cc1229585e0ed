package engine

import (
	"fmt"
	"strings"

	"github.com/holiman/uint256"
)

type StatusKind string

const (
	StatusStarted StatusKind = "started"
	StatusWin     StatusKind = "win"
	StatusDraw    StatusKind = "draw"
)

// RoomStatus is Started, Win(Winner) or Draw. Winner is set only for Win.
type RoomStatus struct {
	Kind   StatusKind
	Winner string
}

func Started() RoomStatus           { return RoomStatus{Kind: StatusStarted} }
func Win(winner string) RoomStatus  { return RoomStatus{Kind: StatusWin, Winner: winner} }
func Draw() RoomStatus              { return RoomStatus{Kind: StatusDraw} }
func (s RoomStatus) Terminal() bool { return s.Kind == StatusWin || s.Kind == StatusDraw }

func (s RoomStatus) String() string {
	if s.Kind == StatusWin {
		return string(StatusWin) + ":" + s.Winner
	}
	return string(s.Kind)
}

// ParseRoomStatus is the inverse of String.
func ParseRoomStatus(v string) (RoomStatus, error) {
	switch {
	case v == string(StatusStarted):
		return Started(), nil
	case v == string(StatusDraw):
		return Draw(), nil
	case strings.HasPrefix(v, string(StatusWin)+":"):
		winner := strings.TrimPrefix(v, string(StatusWin)+":")
		if winner == "" {
			return RoomStatus{}, fmt.Errorf("room status %q: missing winner", v)
		}
		return Win(winner), nil
	default:
		return RoomStatus{}, fmt.Errorf("unknown room status %q", v)
	}
}

// GameRoom is one occupancy of a room slot. Stake is what was locked from each
// contestant; it and PrizePool are zeroed once the room is settled.
type GameRoom struct {
	Contestant1 string
	Contestant2 string
	PrizePool   uint256.Int
	Stake       uint256.Int
	Status      RoomStatus
}

func (r GameRoom) HasContestant(addr string) bool {
	return addr == r.Contestant1 || addr == r.Contestant2
}

// Opponent returns the other contestant.
func (r GameRoom) Opponent(addr string) string {
	if addr == r.Contestant1 {
		return r.Contestant2
	}
	return r.Contestant1
}

func (r GameRoom) finished(status RoomStatus) GameRoom {
	r.Status = status
	r.PrizePool = uint256.Int{}
	r.Stake = uint256.Int{}
	return r
}
