package types

import (
	"errors"
	"fmt"

	"github.com/DoyleJ11/duel-escrow-backend/internal/engine"
	"github.com/DoyleJ11/duel-escrow-backend/internal/store"
	pub "github.com/DoyleJ11/duel-escrow-backend/pkg/types"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// ErrBadRequest marks input that could not be turned into a command.
var ErrBadRequest = errors.New("bad request")

func badRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrBadRequest, fmt.Sprintf(format, args...))
}

func amount(field, v string) (uint256.Int, error) {
	a, err := engine.ParseAmount(v)
	if err != nil {
		return uint256.Int{}, badRequest("%s: %v", field, err)
	}
	return a, nil
}

// ---- requests -> engine ----

func InstanceConfig(req pub.CreateInstanceRequest) (engine.Config, error) {
	fee, err := amount("fee", req.Fee)
	if err != nil {
		return engine.Config{}, err
	}
	return engine.Config{Admin: req.Admin, TokenAddress: req.TokenAddress, Fee: fee}, nil
}

func DepositCommand(sender string, req pub.DepositRequest) (engine.Command, error) {
	a, err := amount("amount", req.Amount)
	if err != nil {
		return engine.Command{}, err
	}
	return engine.Command{Type: engine.CmdDeposit, Sender: sender, Amount: a}, nil
}

func WithdrawCommand(sender string, req pub.WithdrawRequest) (engine.Command, error) {
	a, err := amount("amount", req.Amount)
	if err != nil {
		return engine.Command{}, err
	}
	return engine.Command{Type: engine.CmdWithdraw, Sender: sender, Amount: a, Receiver: req.Receiver}, nil
}

// ReceiveCommand builds the deposit confirmation. sender is the authenticated caller, which
// the engine checks against the registered token address.
func ReceiveCommand(sender string, req pub.ReceiveRequest) (engine.Command, error) {
	transferred, err := amount("amount", req.Amount)
	if err != nil {
		return engine.Command{}, err
	}
	payload, err := amount("msg.amount", req.Msg.Amount)
	if err != nil {
		return engine.Command{}, err
	}
	return engine.Command{
		Type:        engine.CmdConfirmDeposit,
		Sender:      sender,
		User:        req.Msg.User,
		Amount:      payload,
		Transferred: transferred,
	}, nil
}

func CreateRoomCommand(sender string, req pub.CreateRoomRequest) (engine.Command, error) {
	pool, err := amount("prize_pool", req.PrizePool)
	if err != nil {
		return engine.Command{}, err
	}
	return engine.Command{
		Type:        engine.CmdCreateRoom,
		Sender:      sender,
		Contestant1: req.Contestant1,
		Contestant2: req.Contestant2,
		PrizePool:   pool,
	}, nil
}

func FinishRoomCommand(sender, key string, req pub.FinishRoomRequest) (engine.Command, error) {
	result, err := RoomStatus(req.Result)
	if err != nil {
		return engine.Command{}, err
	}
	return engine.Command{Type: engine.CmdFinishRoom, Sender: sender, RoomKey: key, Result: result}, nil
}

func CollectFeesCommand(sender string, req pub.CollectFeesRequest) (engine.Command, error) {
	a, err := amount("amount", req.Amount)
	if err != nil {
		return engine.Command{}, err
	}
	return engine.Command{Type: engine.CmdCollectFees, Sender: sender, Amount: a, Receiver: req.Receiver}, nil
}

// ToEngineCommand maps a websocket message onto the same builders the HTTP routes use.
func ToEngineCommand(sender string, m ClientMessage) (engine.Command, error) {
	switch m.Type {
	case string(engine.CmdDeposit):
		return DepositCommand(sender, pub.DepositRequest{Amount: m.Amount})
	case string(engine.CmdWithdraw):
		return WithdrawCommand(sender, pub.WithdrawRequest{Amount: m.Amount, Receiver: m.Receiver})
	case string(engine.CmdCreateRoom):
		return CreateRoomCommand(sender, pub.CreateRoomRequest{
			Contestant1: m.Contestant1, Contestant2: m.Contestant2, PrizePool: m.PrizePool,
		})
	case string(engine.CmdFinishRoom):
		if m.Result == nil {
			return engine.Command{}, badRequest("result is required")
		}
		return FinishRoomCommand(sender, m.RoomKey, pub.FinishRoomRequest{Result: *m.Result})
	case string(engine.CmdCollectFees):
		return CollectFeesCommand(sender, pub.CollectFeesRequest{Amount: m.Amount, Receiver: m.Receiver})
	default:
		return engine.Command{}, badRequest("unknown message type %q", m.Type)
	}
}

func RoomStatus(r pub.RoomResult) (engine.RoomStatus, error) {
	switch engine.StatusKind(r.Status) {
	case engine.StatusWin:
		if r.Winner == "" {
			return engine.RoomStatus{}, badRequest("win result needs a winner")
		}
		return engine.Win(r.Winner), nil
	case engine.StatusDraw:
		return engine.Draw(), nil
	case engine.StatusStarted:
		return engine.Started(), nil
	default:
		return engine.RoomStatus{}, badRequest("unknown result status %q", r.Status)
	}
}

// ---- engine -> responses ----

func ToRoomResult(s engine.RoomStatus) pub.RoomResult {
	return pub.RoomResult{Status: string(s.Kind), Winner: s.Winner}
}

func ToRoom(key string, r engine.GameRoom) pub.RoomResponse {
	return pub.RoomResponse{
		Key:         key,
		Contestant1: r.Contestant1,
		Contestant2: r.Contestant2,
		PrizePool:   r.PrizePool.Dec(),
		Stake:       r.Stake.Dec(),
		Result:      ToRoomResult(r.Status),
	}
}

func ToFees(s engine.State) pub.FeesResponse {
	accrued, collected := s.CollectedFees()
	return pub.FeesResponse{Accrued: accrued.Dec(), Collected: collected.Dec()}
}

func ToInstance(id uuid.UUID, version int64, s engine.State) pub.InstanceResponse {
	return pub.InstanceResponse{
		ID:           id.String(),
		Admin:        s.Config.Admin,
		TokenAddress: s.Config.TokenAddress,
		Fee:          s.Config.Fee.Dec(),
		Version:      version,
	}
}

func ToSnapshot(version int64, s engine.State) pub.Snapshot {
	snap := pub.Snapshot{
		Version:      version,
		Admin:        s.Config.Admin,
		TokenAddress: s.Config.TokenAddress,
		Fee:          s.Config.Fee.Dec(),
		Balances:     make(map[string]pub.BalanceEntry, len(s.Balances)),
		Rooms:        make(map[string]pub.RoomResponse, len(s.Rooms)),
		TotalGames:   s.TotalGames(),
		Fees:         ToFees(s),
	}
	for user, b := range s.Balances {
		avail := b.Available()
		snap.Balances[user] = pub.BalanceEntry{Total: b.Total.Dec(), Locked: b.Locked.Dec(), Available: avail.Dec()}
	}
	for key, r := range s.Rooms {
		snap.Rooms[key] = ToRoom(key, r)
	}
	return snap
}

func ToTransferInstruction(instance uuid.UUID, tr engine.Transfer) pub.TransferInstruction {
	out := pub.TransferInstruction{
		Instance:  instance.String(),
		Kind:      string(tr.Kind),
		Owner:     tr.Owner,
		Recipient: tr.Recipient,
		Amount:    tr.Amount.Dec(),
	}
	if tr.Callback != nil {
		out.Callback = &pub.DepositCallback{User: tr.Callback.User, Amount: tr.Callback.Amount.Dec()}
	}
	return out
}

func ToEvents(instance uuid.UUID, version int64, events []engine.Event) []pub.Event {
	out := make([]pub.Event, 0, len(events))
	for i, e := range events {
		ev := toEvent(instance, e)
		ev.Version = version
		ev.Index = i
		out = append(out, ev)
	}
	return out
}

func ToRecords(instance uuid.UUID, recs []store.Record) []pub.Event {
	out := make([]pub.Event, 0, len(recs))
	for _, r := range recs {
		ev := toEvent(instance, r.Event)
		ev.Version = r.Version
		ev.Index = r.Index
		ev.Command = string(r.Command)
		ev.Sender = r.Sender
		created := r.CreatedAt
		ev.CreatedAt = &created
		out = append(out, ev)
	}
	return out
}

func toEvent(instance uuid.UUID, e engine.Event) pub.Event {
	ev := pub.Event{
		Type:    string(e.Type),
		User:    e.User,
		RoomKey: e.RoomKey,
	}
	if !e.Amount.IsZero() {
		ev.Amount = e.Amount.Dec()
	}
	if e.Status.Kind != "" {
		res := ToRoomResult(e.Status)
		ev.Result = &res
	}
	if e.Transfer != nil {
		tr := ToTransferInstruction(instance, *e.Transfer)
		ev.Transfer = &tr
	}
	return ev
}
