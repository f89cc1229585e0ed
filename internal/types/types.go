package types

import (
	pub "github.com/DoyleJ11/duel-escrow-backend/pkg/types"
)

// ClientMessage is a command sent over the websocket. Fields are read according to Type:
// "Deposit", "Withdraw", "CreateGameRoom", "FinishGameRoom" or "CollectFees".
type ClientMessage struct {
	Type        string          `json:"type"`
	RequestID   string          `json:"request_id,omitempty"`
	Amount      string          `json:"amount,omitempty"`
	Receiver    string          `json:"receiver,omitempty"`
	Contestant1 string          `json:"contestant1,omitempty"`
	Contestant2 string          `json:"contestant2,omitempty"`
	PrizePool   string          `json:"prize_pool,omitempty"`
	RoomKey     string          `json:"room_key,omitempty"`
	Result      *pub.RoomResult `json:"result,omitempty"`
}

const (
	MsgSnapshot = "StateSnapshot"
	MsgEvents   = "Events"
	MsgAccepted = "Accepted"
	MsgError    = "Error"
)

type ServerMessage struct {
	Type      string             `json:"type"`
	RequestID string             `json:"request_id,omitempty"`
	Version   int64              `json:"version,omitempty"`
	State     *pub.Snapshot      `json:"state,omitempty"`
	Events    []pub.Event        `json:"events,omitempty"`
	Error     *pub.ErrorResponse `json:"error,omitempty"`
}
