package types

import "time"

type InstanceResponse struct {
	ID           string `json:"id"`
	Admin        string `json:"admin"`
	TokenAddress string `json:"token_address"`
	Fee          string `json:"fee"`
	Version      int64  `json:"version"`
}

// BalanceResponse answers both the available and the locked balance queries.
type BalanceResponse struct {
	User   string `json:"user"`
	Amount string `json:"amount"`
}

type RoomResponse struct {
	Key         string     `json:"key"`
	Contestant1 string     `json:"contestant1"`
	Contestant2 string     `json:"contestant2"`
	PrizePool   string     `json:"prize_pool"`
	Stake       string     `json:"stake"`
	Result      RoomResult `json:"result"`
}

type TotalGamesResponse struct {
	Total uint64 `json:"total"`
}

// FeesResponse: Accrued is every fee credited to the admin, Collected every fee paid out.
type FeesResponse struct {
	Accrued   string `json:"accrued"`
	Collected string `json:"collected"`
}

type Event struct {
	Version   int64                `json:"version,omitempty"`
	Index     int                  `json:"index"`
	Type      string               `json:"type"`
	Command   string               `json:"command,omitempty"`
	Sender    string               `json:"sender,omitempty"`
	User      string               `json:"user,omitempty"`
	RoomKey   string               `json:"room_key,omitempty"`
	Amount    string               `json:"amount,omitempty"`
	Result    *RoomResult          `json:"result,omitempty"`
	Transfer  *TransferInstruction `json:"transfer,omitempty"`
	CreatedAt *time.Time           `json:"created_at,omitempty"`
}

// CommandResponse is returned by every successful state-changing request.
type CommandResponse struct {
	Version int64   `json:"version"`
	Events  []Event `json:"events"`
}

type EventsResponse struct {
	Events []Event `json:"events"`
}

// TransferInstruction is what the token collaborator receives. Pulls carry Owner and a
// Callback to echo to /instances/{instance}/receive; sends carry Recipient.
type TransferInstruction struct {
	Instance  string           `json:"instance"`
	Kind      string           `json:"kind"`
	Owner     string           `json:"owner,omitempty"`
	Recipient string           `json:"recipient,omitempty"`
	Amount    string           `json:"amount"`
	Callback  *DepositCallback `json:"callback,omitempty"`
}

type TokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

type ErrorResponse struct {
	Error   string         `json:"error"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// Snapshot is the full ledger view pushed over the websocket.
type Snapshot struct {
	Version      int64                   `json:"version"`
	Admin        string                  `json:"admin"`
	TokenAddress string                  `json:"token_address"`
	Fee          string                  `json:"fee"`
	Balances     map[string]BalanceEntry `json:"balances"`
	Rooms        map[string]RoomResponse `json:"rooms"`
	TotalGames   uint64                  `json:"total_games"`
	Fees         FeesResponse            `json:"fees"`
}

type BalanceEntry struct {
	Total     string `json:"total"`
	Locked    string `json:"locked"`
	Available string `json:"available"`
}
