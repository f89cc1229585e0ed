package engine

import (
	"fmt"

	"github.com/holiman/uint256"
)

type CommandType string

const (
	CmdDeposit        CommandType = "Deposit"
	CmdConfirmDeposit CommandType = "ConfirmDeposit"
	CmdWithdraw       CommandType = "Withdraw"
	CmdCreateRoom     CommandType = "CreateGameRoom"
	CmdFinishRoom     CommandType = "FinishGameRoom"
	CmdCollectFees    CommandType = "CollectFees"
)

/*
	CmdDeposit        -> EvtDepositRequested (carries the pull transfer, no balance change)
	CmdConfirmDeposit -> EvtDeposited
	CmdWithdraw       -> EvtWithdrawn (carries the send transfer)
	CmdCreateRoom     -> EvtRoomCreated -> EvtStakeLocked x2
	CmdFinishRoom     -> win:  EvtPayout -> EvtStakeForfeited -> EvtFeeAccrued -> EvtRoomFinished
	                     draw: EvtStakeReleased x2 -> EvtRoomFinished
	CmdCollectFees    -> EvtFeesCollected (carries the send transfer)
*/

// Command is one request against an instance. Sender is the authenticated caller; the
// remaining fields are read according to Type.
type Command struct {
	Type   CommandType
	Sender string

	Amount   uint256.Int
	Receiver string

	// ConfirmDeposit: the beneficiary from the callback payload and the amount the
	// token collaborator actually moved into custody.
	User        string
	Transferred uint256.Int

	Contestant1 string
	Contestant2 string
	PrizePool   uint256.Int

	RoomKey string
	Result  RoomStatus
}

type EventType string

const (
	EvtInstantiated     EventType = "Instantiated"
	EvtDepositRequested EventType = "DepositRequested"
	EvtDeposited        EventType = "Deposited"
	EvtWithdrawn        EventType = "Withdrawn"
	EvtRoomCreated      EventType = "RoomCreated"
	EvtStakeLocked      EventType = "StakeLocked"
	EvtStakeReleased    EventType = "StakeReleased"
	EvtPayout           EventType = "Payout"
	EvtStakeForfeited   EventType = "StakeForfeited"
	EvtFeeAccrued       EventType = "FeeAccrued"
	EvtRoomFinished     EventType = "RoomFinished"
	EvtFeesCollected    EventType = "FeesCollected"
)

type Event struct {
	Type     EventType
	User     string
	RoomKey  string
	Amount   uint256.Int
	Status   RoomStatus
	Transfer *Transfer
}

type TransferKind string

const (
	// TransferPull moves Amount from Owner into custody and calls back with Callback.
	TransferPull TransferKind = "pull"
	// TransferSend moves Amount from custody to Recipient.
	TransferSend TransferKind = "send"
)

// Transfer is an instruction for the external token collaborator. It is only released
// for delivery after the command that produced it has been committed.
type Transfer struct {
	Kind      TransferKind
	Owner     string
	Recipient string
	Amount    uint256.Int
	Callback  *DepositCallback
}

// DepositCallback is the payload echoed back by the token collaborator once a pull lands.
type DepositCallback struct {
	User   string
	Amount uint256.Int
}

// Apply runs cmd against s. On error s is returned unchanged and no
// events are produced.
func Apply(s State, cmd Command) ([]Event, State, error) {
	newState := s.Clone()

	var (
		events []Event
		err    error
	)
	switch cmd.Type {
	case CmdDeposit:
		events, err = requestDeposit(cmd)
	case CmdConfirmDeposit:
		events, err = confirmDeposit(&newState, cmd)
	case CmdWithdraw:
		events, err = withdraw(&newState, cmd)
	case CmdCreateRoom:
		events, err = createRoom(&newState, cmd)
	case CmdFinishRoom:
		events, err = finishRoom(&newState, cmd)
	case CmdCollectFees:
		events, err = collectFees(&newState, cmd)
	default:
		return nil, s, fmt.Errorf("%w: %q", ErrUnsupportedCommand, cmd.Type)
	}
	if err != nil {
		return nil, s, err
	}
	return events, newState, nil
}

func requestDeposit(cmd Command) ([]Event, error) {
	if cmd.Sender == "" {
		return nil, ErrInvalidAddress
	}
	if cmd.Amount.IsZero() {
		return nil, ErrInvalidAmount
	}
	return []Event{{
		Type:   EvtDepositRequested,
		User:   cmd.Sender,
		Amount: cmd.Amount,
		Transfer: &Transfer{
			Kind:     TransferPull,
			Owner:    cmd.Sender,
			Amount:   cmd.Amount,
			Callback: &DepositCallback{User: cmd.Sender, Amount: cmd.Amount},
		},
	}}, nil
}

// confirmDeposit trusts the payload only when the callback comes from the registered token.
func confirmDeposit(s *State, cmd Command) ([]Event, error) {
	if cmd.Sender != s.Config.TokenAddress {
		return nil, ErrUnauthorized
	}
	if cmd.User == "" {
		return nil, fmt.Errorf("%w: callback payload has no user", ErrInvalidAddress)
	}
	if cmd.Amount.IsZero() {
		return nil, ErrInvalidAmount
	}
	if !cmd.Amount.Eq(&cmd.Transferred) {
		return nil, fmt.Errorf("%w: payload %s, transferred %s",
			ErrDepositMismatch, cmd.Amount.Dec(), cmd.Transferred.Dec())
	}

	bal, err := s.Balance(cmd.User).Deposit(cmd.Amount)
	if err != nil {
		return nil, err
	}
	s.Balances[cmd.User] = bal
	return []Event{{Type: EvtDeposited, User: cmd.User, Amount: cmd.Amount}}, nil
}

func withdraw(s *State, cmd Command) ([]Event, error) {
	if cmd.Sender == "" {
		return nil, ErrInvalidAddress
	}
	if cmd.Amount.IsZero() {
		return nil, ErrInvalidAmount
	}
	receiver := cmd.Receiver
	if receiver == "" {
		receiver = cmd.Sender
	}

	bal, err := s.Balance(cmd.Sender).Withdraw(cmd.Amount)
	if err != nil {
		return nil, withUser(err, cmd.Sender)
	}
	s.Balances[cmd.Sender] = bal
	return []Event{{
		Type:     EvtWithdrawn,
		User:     cmd.Sender,
		Amount:   cmd.Amount,
		Transfer: &Transfer{Kind: TransferSend, Recipient: receiver, Amount: cmd.Amount},
	}}, nil
}

func createRoom(s *State, cmd Command) ([]Event, error) {
	if cmd.Sender != s.Config.Admin {
		return nil, ErrUnauthorized
	}
	c1, c2 := cmd.Contestant1, cmd.Contestant2
	if c1 == "" || c2 == "" || c1 == c2 {
		return nil, ErrInvalidContestants
	}

	stake, err := MinRequiredStake(cmd.PrizePool, s.Config.Fee)
	if err != nil {
		return nil, err
	}
	if stake.IsZero() {
		return nil, fmt.Errorf("%w: prize pool %s leaves no stake", ErrInsufficientPrizePool, cmd.PrizePool.Dec())
	}
	// The loser's stake must cover the fee on a win, so pools below 4x the fee are refused.
	if _, err := WinnerGain(stake, s.Config.Fee); err != nil {
		return nil, err
	}

	for _, c := range []string{c1, c2} {
		if avail := s.UserBalance(c); less(avail, stake) {
			return nil, insufficient(c, stake, avail)
		}
	}

	key := DeriveRoomKey(c1, c2)
	if prev, ok := s.Rooms[key]; ok && prev.Status.Kind == StatusStarted {
		return nil, ErrGameRoomAlreadyStarted
	}
	s.Rooms[key] = GameRoom{
		Contestant1: c1,
		Contestant2: c2,
		PrizePool:   cmd.PrizePool,
		Stake:       stake,
		Status:      Started(),
	}
	s.RoomCount++

	events := []Event{{Type: EvtRoomCreated, RoomKey: key, Amount: cmd.PrizePool, Status: Started()}}
	for _, c := range []string{c1, c2} {
		bal, err := s.Balance(c).Lock(stake)
		if err != nil {
			return nil, withUser(err, c)
		}
		s.Balances[c] = bal
		events = append(events, Event{Type: EvtStakeLocked, User: c, RoomKey: key, Amount: stake})
	}
	return events, nil
}

func finishRoom(s *State, cmd Command) ([]Event, error) {
	if cmd.Sender != s.Config.Admin {
		return nil, ErrUnauthorized
	}
	room, ok := s.Rooms[cmd.RoomKey]
	if !ok {
		return nil, ErrGameRoomNotFound
	}
	st, err := Settle(room, cmd.Result, s.Config.Fee)
	if err != nil {
		return nil, err
	}

	var events []Event
	switch st.Result.Kind {
	case StatusDraw:
		for _, c := range []string{room.Contestant1, room.Contestant2} {
			bal, err := s.Balance(c).UnlockAndDecrease(st.Unlock, uint256.Int{})
			if err != nil {
				return nil, fmt.Errorf("release %q: %w", c, err)
			}
			s.Balances[c] = bal
			events = append(events, Event{Type: EvtStakeReleased, User: c, RoomKey: cmd.RoomKey, Amount: st.Unlock})
		}

	case StatusWin:
		won, err := s.Balance(st.Winner).UnlockAndIncrease(st.Unlock, st.WinnerGain)
		if err != nil {
			return nil, fmt.Errorf("pay winner %q: %w", st.Winner, err)
		}
		s.Balances[st.Winner] = won

		lost, err := s.Balance(st.Loser).UnlockAndDecrease(st.Unlock, st.LoserLoss)
		if err != nil {
			return nil, fmt.Errorf("charge loser %q: %w", st.Loser, err)
		}
		s.Balances[st.Loser] = lost

		admin, err := s.Balance(s.Config.Admin).Deposit(st.Fee)
		if err != nil {
			return nil, fmt.Errorf("accrue fee: %w", err)
		}
		s.Balances[s.Config.Admin] = admin
		if s.FeesAccrued, err = add(s.FeesAccrued, st.Fee); err != nil {
			return nil, fmt.Errorf("accrue fee: %w", err)
		}

		events = append(events,
			Event{Type: EvtPayout, User: st.Winner, RoomKey: cmd.RoomKey, Amount: st.WinnerGain},
			Event{Type: EvtStakeForfeited, User: st.Loser, RoomKey: cmd.RoomKey, Amount: st.LoserLoss},
			Event{Type: EvtFeeAccrued, User: s.Config.Admin, RoomKey: cmd.RoomKey, Amount: st.Fee},
		)
	}

	s.Rooms[cmd.RoomKey] = room.finished(st.Result)
	events = append(events, Event{Type: EvtRoomFinished, RoomKey: cmd.RoomKey, Status: st.Result})
	return events, nil
}

func collectFees(s *State, cmd Command) ([]Event, error) {
	admin := s.Config.Admin
	if cmd.Sender != admin {
		return nil, ErrUnauthorized
	}
	if cmd.Receiver == "" {
		return nil, fmt.Errorf("%w: receiver", ErrInvalidAddress)
	}
	if cmd.Amount.IsZero() {
		return nil, ErrInvalidAmount
	}

	bal, err := s.Balance(admin).Withdraw(cmd.Amount)
	if err != nil {
		return nil, withUser(err, admin)
	}
	collected, err := add(s.FeesCollected, cmd.Amount)
	if err != nil {
		return nil, err
	}
	s.Balances[admin] = bal
	s.FeesCollected = collected
	return []Event{{
		Type:     EvtFeesCollected,
		User:     admin,
		Amount:   cmd.Amount,
		Transfer: &Transfer{Kind: TransferSend, Recipient: cmd.Receiver, Amount: cmd.Amount},
	}}, nil
}
