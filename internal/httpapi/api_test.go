package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DoyleJ11/duel-escrow-backend/internal/auth"
	"github.com/DoyleJ11/duel-escrow-backend/internal/engine"
	"github.com/DoyleJ11/duel-escrow-backend/internal/hub"
	"github.com/DoyleJ11/duel-escrow-backend/internal/store"
	pub "github.com/DoyleJ11/duel-escrow-backend/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testIssuerKey = "gateway-key"

type testAPI struct {
	t      *testing.T
	srv    *httptest.Server
	st     *store.Memory
	tokens map[string]string
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	st := store.NewMemory()
	h := hub.NewHub(ctx, hub.Options{Store: st})
	v := auth.NewVerifier("test-secret")
	srv := httptest.NewServer(SetupRoutes(h, st, v, auth.NewIssuer(v, testIssuerKey, time.Hour), zap.NewNop()))
	t.Cleanup(srv.Close)

	api := &testAPI{t: t, srv: srv, st: st, tokens: map[string]string{}}
	for _, who := range []string{"admin", "token", "alice", "bob", "mallory"} {
		tok, err := v.Issue(who, time.Hour)
		require.NoError(t, err)
		api.tokens[who] = tok
	}
	return api
}

// do sends body as JSON with as's token (none if as is empty) and decodes into out.
func (a *testAPI) do(method, path, as string, body, out any) int {
	a.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(a.t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, a.srv.URL+path, &buf)
	require.NoError(a.t, err)
	if as != "" {
		req.Header.Set("Authorization", "Bearer "+a.tokens[as])
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(a.t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(a.t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func (a *testAPI) instance(fee string) string {
	a.t.Helper()
	var inst pub.InstanceResponse
	code := a.do(http.MethodPost, "/instances", "admin", pub.CreateInstanceRequest{TokenAddress: "token", Fee: fee}, &inst)
	require.Equal(a.t, http.StatusCreated, code)
	require.Equal(a.t, "admin", inst.Admin)
	return "/instances/" + inst.ID
}

func (a *testAPI) fund(base, user, amount string) {
	a.t.Helper()
	code := a.do(http.MethodPost, base+"/receive", "token", pub.ReceiveRequest{
		Amount: amount,
		Msg:    pub.DepositCallback{User: user, Amount: amount},
	}, nil)
	require.Equal(a.t, http.StatusOK, code)
}

func (a *testAPI) balance(base, user string) (available, locked string) {
	a.t.Helper()
	var b pub.BalanceResponse
	require.Equal(a.t, http.StatusOK, a.do(http.MethodGet, base+"/balances/"+user, "", nil, &b))
	available = b.Amount
	require.Equal(a.t, http.StatusOK, a.do(http.MethodGet, base+"/balances/"+user+"/locked", "", nil, &b))
	return available, b.Amount
}

func TestHealthz(t *testing.T) {
	api := newTestAPI(t)
	assert.Equal(t, http.StatusOK, api.do(http.MethodGet, "/healthz", "", nil, nil))
}

func TestFullGameFlow(t *testing.T) {
	api := newTestAPI(t)
	base := api.instance("100000000")

	// Deposit only queues a pull; the balance moves on the token's callback.
	var res pub.CommandResponse
	require.Equal(t, http.StatusOK, api.do(http.MethodPost, base+"/deposit", "alice", pub.DepositRequest{Amount: "1000000000"}, &res))
	require.Len(t, res.Events, 1)
	require.NotNil(t, res.Events[0].Transfer)
	assert.Equal(t, "pull", res.Events[0].Transfer.Kind)
	assert.Equal(t, &pub.DepositCallback{User: "alice", Amount: "1000000000"}, res.Events[0].Transfer.Callback)
	avail, _ := api.balance(base, "alice")
	assert.Equal(t, "0", avail)

	api.fund(base, "alice", "1000000000")
	api.fund(base, "bob", "1000000000")

	require.Equal(t, http.StatusOK, api.do(http.MethodPost, base+"/rooms", "admin", pub.CreateRoomRequest{
		Contestant1: "alice", Contestant2: "bob", PrizePool: "1500000000",
	}, &res))
	key := res.Events[0].RoomKey
	require.NotEmpty(t, key)

	avail, locked := api.balance(base, "alice")
	assert.Equal(t, "350000000", avail)
	assert.Equal(t, "650000000", locked)

	var room pub.RoomResponse
	require.Equal(t, http.StatusOK, api.do(http.MethodGet, base+"/rooms/"+key, "", nil, &room))
	assert.Equal(t, pub.RoomResult{Status: "started"}, room.Result)
	assert.Equal(t, "1500000000", room.PrizePool)

	var keyResp map[string]string
	require.Equal(t, http.StatusOK, api.do(http.MethodGet, "/room-key?contestant1=alice&contestant2=bob", "", nil, &keyResp))
	assert.Equal(t, key, keyResp["key"])

	require.Equal(t, http.StatusOK, api.do(http.MethodPost, base+"/rooms/"+key+"/finish", "admin", pub.FinishRoomRequest{
		Result: pub.RoomResult{Status: "win", Winner: "alice"},
	}, &res))

	avail, locked = api.balance(base, "alice")
	assert.Equal(t, "1550000000", avail)
	assert.Equal(t, "0", locked)
	avail, _ = api.balance(base, "bob")
	assert.Equal(t, "350000000", avail)

	var fees pub.FeesResponse
	require.Equal(t, http.StatusOK, api.do(http.MethodGet, base+"/fees", "", nil, &fees))
	assert.Equal(t, pub.FeesResponse{Accrued: "100000000", Collected: "0"}, fees)

	require.Equal(t, http.StatusOK, api.do(http.MethodPost, base+"/fees/collect", "admin", pub.CollectFeesRequest{
		Amount: "100000000", Receiver: "treasury",
	}, &res))
	require.Equal(t, http.StatusOK, api.do(http.MethodGet, base+"/fees", "", nil, &fees))
	assert.Equal(t, "100000000", fees.Collected)

	require.Equal(t, http.StatusOK, api.do(http.MethodPost, base+"/withdraw", "alice", pub.WithdrawRequest{Amount: "50000000"}, &res))
	assert.Equal(t, "alice", res.Events[0].Transfer.Recipient)

	var total pub.TotalGamesResponse
	require.Equal(t, http.StatusOK, api.do(http.MethodGet, base+"/games/total", "", nil, &total))
	assert.Equal(t, uint64(1), total.Total)

	var journal pub.EventsResponse
	require.Equal(t, http.StatusOK, api.do(http.MethodGet, base+"/events?after=0", "", nil, &journal))
	assert.Equal(t, "DepositRequested", journal.Events[0].Type)
	assert.Equal(t, "Deposit", journal.Events[0].Command)
	assert.Equal(t, "alice", journal.Events[0].Sender)

	pending, err := api.st.PendingTransfers(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, pending, 3, "pull, fee payout, withdrawal")
}

func TestErrorMapping(t *testing.T) {
	api := newTestAPI(t)
	base := api.instance("100000000")
	api.fund(base, "alice", "1000000000")

	cases := []struct {
		name     string
		method   string
		path     string
		as       string
		body     any
		wantCode int
		wantErr  string
	}{
		{name: "no token", method: http.MethodPost, path: base + "/withdraw", body: pub.WithdrawRequest{Amount: "1"}, wantCode: http.StatusUnauthorized, wantErr: "unauthenticated"},
		{name: "forged deposit callback", method: http.MethodPost, path: base + "/receive", as: "mallory", body: pub.ReceiveRequest{Amount: "5", Msg: pub.DepositCallback{User: "mallory", Amount: "5"}}, wantCode: http.StatusForbidden, wantErr: "unauthorized"},
		{name: "callback amount mismatch", method: http.MethodPost, path: base + "/receive", as: "token", body: pub.ReceiveRequest{Amount: "5", Msg: pub.DepositCallback{User: "mallory", Amount: "500"}}, wantCode: http.StatusBadRequest, wantErr: "deposit_mismatch"},
		{name: "non admin creates room", method: http.MethodPost, path: base + "/rooms", as: "alice", body: pub.CreateRoomRequest{Contestant1: "alice", Contestant2: "bob", PrizePool: "1500000000"}, wantCode: http.StatusForbidden, wantErr: "unauthorized"},
		{name: "opponent unfunded", method: http.MethodPost, path: base + "/rooms", as: "admin", body: pub.CreateRoomRequest{Contestant1: "alice", Contestant2: "bob", PrizePool: "1500000000"}, wantCode: http.StatusConflict, wantErr: "insufficient_balance"},
		{name: "prize pool too small", method: http.MethodPost, path: base + "/rooms", as: "admin", body: pub.CreateRoomRequest{Contestant1: "alice", Contestant2: "bob", PrizePool: "100"}, wantCode: http.StatusUnprocessableEntity, wantErr: "insufficient_prize_pool"},
		{name: "bad amount", method: http.MethodPost, path: base + "/withdraw", as: "alice", body: pub.WithdrawRequest{Amount: "ten"}, wantCode: http.StatusBadRequest, wantErr: "bad_request"},
		{name: "unknown field", method: http.MethodPost, path: base + "/withdraw", as: "alice", body: map[string]string{"amount": "1", "to": "x"}, wantCode: http.StatusBadRequest, wantErr: "bad_request"},
		{name: "unknown room", method: http.MethodGet, path: base + "/rooms/" + engine.DeriveRoomKey("x", "y"), wantCode: http.StatusNotFound, wantErr: "game_room_not_found"},
		{name: "malformed room key", method: http.MethodGet, path: base + "/rooms/!!", wantCode: http.StatusBadRequest, wantErr: "malformed_room_key"},
		{name: "unknown instance", method: http.MethodGet, path: "/instances/7d0b6c5e-4c1f-4a57-9d1a-3f2e8a1b9c00/fees", wantCode: http.StatusNotFound, wantErr: "instance_not_found"},
		{name: "bad instance id", method: http.MethodGet, path: "/instances/abc/fees", wantCode: http.StatusBadRequest, wantErr: "bad_request"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var body pub.ErrorResponse
			code := api.do(tc.method, tc.path, tc.as, tc.body, &body)
			assert.Equal(t, tc.wantCode, code)
			assert.Equal(t, tc.wantErr, body.Error)
			assert.NotEmpty(t, body.Message)
		})
	}

	t.Run("insufficient balance names the user and amounts", func(t *testing.T) {
		var body pub.ErrorResponse
		code := api.do(http.MethodPost, base+"/withdraw", "alice", pub.WithdrawRequest{Amount: "1000000001"}, &body)
		assert.Equal(t, http.StatusConflict, code)
		assert.Equal(t, map[string]any{
			"user":            "alice",
			"min_required":    "1000000001",
			"current_balance": "1000000000",
		}, body.Details)
	})

	avail, _ := api.balance(base, "mallory")
	assert.Equal(t, "0", avail, "rejected callbacks never credit")
}

func TestCreateInstanceValidation(t *testing.T) {
	api := newTestAPI(t)
	var body pub.ErrorResponse
	code := api.do(http.MethodPost, "/instances", "admin", pub.CreateInstanceRequest{Fee: "1"}, &body)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "invalid_config", body.Error)
}

func TestIssueToken(t *testing.T) {
	api := newTestAPI(t)

	mint := func(t *testing.T, key, address string, out any) int {
		t.Helper()
		var buf bytes.Buffer
		require.NoError(t, json.NewEncoder(&buf).Encode(pub.IssueTokenRequest{Address: address}))
		req, err := http.NewRequest(http.MethodPost, api.srv.URL+"/auth/token", &buf)
		require.NoError(t, err)
		req.Header.Set("X-Issuer-Key", key)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
		return resp.StatusCode
	}

	var tok pub.TokenResponse
	require.Equal(t, http.StatusOK, mint(t, testIssuerKey, "dave", &tok))
	assert.NotEmpty(t, tok.Token)
	assert.WithinDuration(t, time.Now().Add(time.Hour), tok.ExpiresAt, time.Minute)

	// The minted token authenticates dave as the caller.
	api.tokens["dave"] = tok.Token
	var inst pub.InstanceResponse
	require.Equal(t, http.StatusCreated, api.do(http.MethodPost, "/instances", "dave", pub.CreateInstanceRequest{TokenAddress: "token", Fee: "1"}, &inst))
	assert.Equal(t, "dave", inst.Admin)

	cases := []struct {
		name     string
		key      string
		address  string
		wantCode int
		wantErr  string
	}{
		{name: "wrong key", key: "guess", address: "dave", wantCode: http.StatusUnauthorized, wantErr: "unauthenticated"},
		{name: "no key", address: "dave", wantCode: http.StatusUnauthorized, wantErr: "unauthenticated"},
		{name: "no address", key: testIssuerKey, wantCode: http.StatusBadRequest, wantErr: "invalid_address"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var body pub.ErrorResponse
			assert.Equal(t, tc.wantCode, mint(t, tc.key, tc.address, &body))
			assert.Equal(t, tc.wantErr, body.Error)
		})
	}
}

func TestIssueTokenUnmountedWithoutIssuer(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	st := store.NewMemory()
	srv := httptest.NewServer(SetupRoutes(hub.NewHub(ctx, hub.Options{Store: st}), st, auth.NewVerifier("s"), nil, zap.NewNop()))
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/auth/token", "application/json", bytes.NewBufferString(`{"address":"dave"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
