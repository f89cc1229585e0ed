package engine

import (
	"fmt"
	"maps"

	"github.com/holiman/uint256"
)

// Config is fixed at instantiation.
type Config struct {
	Admin        string
	TokenAddress string
	Fee          uint256.Int
}

type State struct {
	Config        Config
	Balances      map[string]Balance
	Rooms         map[string]GameRoom
	RoomCount     uint64
	FeesAccrued   uint256.Int
	FeesCollected uint256.Int
}

func NewEmptyState(cfg Config) State {
	return State{
		Config:   cfg,
		Balances: map[string]Balance{},
		Rooms:    map[string]GameRoom{},
	}
}

// Instantiate builds the initial state of a new ledger instance with the admin's
// fee-collecting balance seeded at zero.
func Instantiate(cfg Config) (State, []Event, error) {
	if cfg.Admin == "" || cfg.TokenAddress == "" {
		return State{}, nil, fmt.Errorf("%w: admin and token address are required", ErrInvalidConfig)
	}
	s := NewEmptyState(cfg)
	s.Balances[cfg.Admin] = Balance{}
	events := []Event{{Type: EvtInstantiated, User: cfg.Admin, Amount: cfg.Fee}}
	return s, events, nil
}

// Clone deep-copies the maps so a clone can be mutated without touching s.
func (s State) Clone() State {
	c := s
	c.Balances = maps.Clone(s.Balances)
	c.Rooms = maps.Clone(s.Rooms)
	if c.Balances == nil {
		c.Balances = map[string]Balance{}
	}
	if c.Rooms == nil {
		c.Rooms = map[string]GameRoom{}
	}
	return c
}

// Balance returns the user's entry; a missing entry reads as zero.
func (s State) Balance(user string) Balance {
	return s.Balances[user]
}

func (s State) UserBalance(user string) uint256.Int {
	return s.Balance(user).Available()
}

func (s State) UserLockedBalance(user string) uint256.Int {
	return s.Balance(user).Locked
}

func (s State) GameRoom(key string) (GameRoom, bool) {
	r, ok := s.Rooms[key]
	return r, ok
}

func (s State) TotalGames() uint64 { return s.RoomCount }

// CollectedFees reports lifetime fees credited to the admin and lifetime fees paid out.
func (s State) CollectedFees() (accrued, collected uint256.Int) {
	return s.FeesAccrued, s.FeesCollected
}
