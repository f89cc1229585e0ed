package types

// Requests. Amounts are base-10 strings of up to 256-bit unsigned integers.
// The caller's address always comes from the bearer token, never from the body.

// POST /instances
type CreateInstanceRequest struct {
	Admin        string `json:"admin"`
	TokenAddress string `json:"token_address"`
	Fee          string `json:"fee"`
}

// POST /instances/{id}/deposit
type DepositRequest struct {
	Amount string `json:"amount"`
}

// POST /instances/{id}/withdraw. Receiver defaults to the caller.
type WithdrawRequest struct {
	Amount   string `json:"amount"`
	Receiver string `json:"receiver,omitempty"`
}

// POST /instances/{id}/receive, sent by the token collaborator after a pull lands.
// Amount is what was actually moved; Msg is the callback payload from the pull instruction.
type ReceiveRequest struct {
	Amount string          `json:"amount"`
	Msg    DepositCallback `json:"msg"`
}

type DepositCallback struct {
	User   string `json:"user"`
	Amount string `json:"amount"`
}

// POST /instances/{id}/rooms
type CreateRoomRequest struct {
	Contestant1 string `json:"contestant1"`
	Contestant2 string `json:"contestant2"`
	PrizePool   string `json:"prize_pool"`
}

// RoomResult is {"status":"started"}, {"status":"draw"} or {"status":"win","winner":"addr"}.
type RoomResult struct {
	Status string `json:"status"`
	Winner string `json:"winner,omitempty"`
}

// POST /instances/{id}/rooms/{key}/finish
type FinishRoomRequest struct {
	Result RoomResult `json:"result"`
}

// POST /instances/{id}/fees/collect
type CollectFeesRequest struct {
	Amount   string `json:"amount"`
	Receiver string `json:"receiver"`
}

// POST /auth/token, called by the gateway with X-Issuer-Key.
type IssueTokenRequest struct {
	Address string `json:"address"`
}
