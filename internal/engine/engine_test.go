package engine

import (
	"math/rand"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	admin = "admin"
	token = "token"
	alice = "alice"
	bob   = "bob"
)

func amt(v uint64) uint256.Int { return NewAmount(v) }

func newState(t *testing.T, fee uint64) State {
	t.Helper()
	s, events, err := Instantiate(Config{Admin: admin, TokenAddress: token, Fee: amt(fee)})
	require.NoError(t, err)
	require.True(t, ContainsEvent(events, EvtInstantiated))
	return s
}

// fund credits user through the token callback path.
func fund(t *testing.T, s State, user string, amount uint64) State {
	t.Helper()
	_, next, err := Apply(s, Command{
		Type:        CmdConfirmDeposit,
		Sender:      token,
		User:        user,
		Amount:      amt(amount),
		Transferred: amt(amount),
	})
	require.NoError(t, err)
	return next
}

// startedRoom funds alice and bob and opens a 1.5e9 prize pool room with a 1e8 fee.
func startedRoom(t *testing.T) (State, string) {
	t.Helper()
	s := newState(t, 100_000_000)
	s = fund(t, s, alice, 1_000_000_000)
	s = fund(t, s, bob, 1_000_000_000)
	events, s, err := Apply(s, Command{
		Type:        CmdCreateRoom,
		Sender:      admin,
		Contestant1: alice,
		Contestant2: bob,
		PrizePool:   amt(1_500_000_000),
	})
	require.NoError(t, err)
	require.Len(t, events, 3)
	return s, events[0].RoomKey
}

func TestInstantiate(t *testing.T) {
	cases := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "valid", cfg: Config{Admin: admin, TokenAddress: token, Fee: amt(5)}},
		{name: "zero fee is allowed", cfg: Config{Admin: admin, TokenAddress: token}},
		{name: "missing admin", cfg: Config{TokenAddress: token}, wantErr: true},
		{name: "missing token", cfg: Config{Admin: admin}, wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s, _, err := Instantiate(tc.cfg)
			if tc.wantErr {
				require.ErrorIs(t, err, ErrInvalidConfig)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.cfg, s.Config)
			assert.Contains(t, s.Balances, admin)
			assert.Equal(t, uint64(0), s.TotalGames())
		})
	}
}

func TestDepositRequestDoesNotCredit(t *testing.T) {
	s := newState(t, 0)

	events, next, err := Apply(s, Command{Type: CmdDeposit, Sender: alice, Amount: amt(40)})
	require.NoError(t, err)

	assert.Equal(t, uint256.Int{}, next.UserBalance(alice))
	transfers := Transfers(events)
	require.Len(t, transfers, 1)
	assert.Equal(t, TransferPull, transfers[0].Kind)
	assert.Equal(t, alice, transfers[0].Owner)
	require.NotNil(t, transfers[0].Callback)
	assert.Equal(t, DepositCallback{User: alice, Amount: amt(40)}, *transfers[0].Callback)

	_, _, err = Apply(s, Command{Type: CmdDeposit, Sender: alice})
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestConfirmDeposit(t *testing.T) {
	cases := []struct {
		name        string
		sender      string
		user        string
		amount      uint64
		transferred uint64
		wantErr     error
	}{
		{name: "credited from token", sender: token, user: alice, amount: 100, transferred: 100},
		{name: "forged callback", sender: alice, user: alice, amount: 100, transferred: 100, wantErr: ErrUnauthorized},
		{name: "admin cannot forge either", sender: admin, user: alice, amount: 100, transferred: 100, wantErr: ErrUnauthorized},
		{name: "payload larger than transfer", sender: token, user: alice, amount: 100, transferred: 1, wantErr: ErrDepositMismatch},
		{name: "empty user", sender: token, amount: 100, transferred: 100, wantErr: ErrInvalidAddress},
		{name: "zero amount", sender: token, user: alice, wantErr: ErrInvalidAmount},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := newState(t, 0)
			events, next, err := Apply(s, Command{
				Type:        CmdConfirmDeposit,
				Sender:      tc.sender,
				User:        tc.user,
				Amount:      amt(tc.amount),
				Transferred: amt(tc.transferred),
			})
			if tc.wantErr != nil {
				require.ErrorIs(t, err, tc.wantErr)
				assert.Nil(t, events)
				assert.Equal(t, uint256.Int{}, next.UserBalance(alice))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, amt(tc.amount), next.UserBalance(tc.user))
			assert.True(t, ContainsEvent(events, EvtDeposited))
		})
	}
}

func TestWithdraw(t *testing.T) {
	s := fund(t, newState(t, 0), alice, 100)

	t.Run("defaults receiver to sender", func(t *testing.T) {
		events, next, err := Apply(s, Command{Type: CmdWithdraw, Sender: alice, Amount: amt(30)})
		require.NoError(t, err)
		assert.Equal(t, amt(70), next.UserBalance(alice))
		transfers := Transfers(events)
		require.Len(t, transfers, 1)
		assert.Equal(t, Transfer{Kind: TransferSend, Recipient: alice, Amount: amt(30)}, transfers[0])
	})

	t.Run("explicit receiver", func(t *testing.T) {
		events, _, err := Apply(s, Command{Type: CmdWithdraw, Sender: alice, Receiver: bob, Amount: amt(100)})
		require.NoError(t, err)
		assert.Equal(t, bob, Transfers(events)[0].Recipient)
	})

	t.Run("over balance", func(t *testing.T) {
		_, next, err := Apply(s, Command{Type: CmdWithdraw, Sender: alice, Amount: amt(101)})
		require.ErrorIs(t, err, ErrInsufficientBalance)
		var ib *InsufficientBalanceError
		require.ErrorAs(t, err, &ib)
		assert.Equal(t, alice, ib.User)
		assert.Equal(t, amt(101), ib.MinRequired)
		assert.Equal(t, amt(100), ib.CurrentBalance)
		assert.Equal(t, amt(100), next.UserBalance(alice))
	})

	t.Run("zero amount", func(t *testing.T) {
		_, _, err := Apply(s, Command{Type: CmdWithdraw, Sender: alice})
		assert.ErrorIs(t, err, ErrInvalidAmount)
	})
}

func TestDepositWithdrawSequenceConservesTotal(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	users := []string{alice, bob}
	s := newState(t, 0)
	net := map[string]uint64{}
	rejected := 0

	for i := 0; i < 2000; i++ {
		user := users[rng.Intn(len(users))]
		amount := uint64(rng.Intn(1_000) + 1)

		cmd := Command{Type: CmdConfirmDeposit, Sender: token, User: user, Amount: amt(amount), Transferred: amt(amount)}
		if rng.Intn(2) == 0 {
			cmd = Command{Type: CmdWithdraw, Sender: user, Amount: amt(amount)}
		}

		events, next, err := Apply(s, cmd)
		switch {
		case cmd.Type == CmdWithdraw && amount > net[user]:
			require.ErrorIs(t, err, ErrInsufficientBalance, "step %d", i)
			assert.Nil(t, events)
			assert.Equal(t, s, next, "step %d: rejected withdrawal changed state", i)
			rejected++
		case cmd.Type == CmdWithdraw:
			require.NoError(t, err, "step %d", i)
			net[user] -= amount
		default:
			require.NoError(t, err, "step %d", i)
			net[user] += amount
		}
		s = next

		for _, u := range users {
			require.Equal(t, amt(net[u]), s.Balance(u).Total, "step %d user %s", i, u)
		}
	}
	assert.Positive(t, rejected, "sequence should include over-withdrawals")
}

func TestCreateRoom(t *testing.T) {
	t.Run("locks the stake of both contestants", func(t *testing.T) {
		s, key := startedRoom(t)

		assert.Equal(t, DeriveRoomKey(alice, bob), key)
		assert.Equal(t, uint64(1), s.TotalGames())
		for _, u := range []string{alice, bob} {
			assert.Equal(t, amt(650_000_000), s.UserLockedBalance(u), u)
			assert.Equal(t, amt(350_000_000), s.UserBalance(u), u)
			assert.Equal(t, amt(1_000_000_000), s.Balance(u).Total, u)
		}
		room, ok := s.GameRoom(key)
		require.True(t, ok)
		assert.Equal(t, Started(), room.Status)
		assert.Equal(t, amt(1_500_000_000), room.PrizePool)
		assert.Equal(t, amt(650_000_000), room.Stake)
	})

	cases := []struct {
		name    string
		sender  string
		c1, c2  string
		pool    uint64
		fundBob uint64
		wantErr error
	}{
		{name: "non admin", sender: alice, c1: alice, c2: bob, pool: 1_500_000_000, fundBob: 1_000_000_000, wantErr: ErrUnauthorized},
		{name: "same contestant twice", sender: admin, c1: alice, c2: alice, pool: 1_500_000_000, fundBob: 1_000_000_000, wantErr: ErrInvalidContestants},
		{name: "empty contestant", sender: admin, c1: alice, c2: "", pool: 1_500_000_000, fundBob: 1_000_000_000, wantErr: ErrInvalidContestants},
		{name: "pool below twice the fee", sender: admin, c1: alice, c2: bob, pool: 199_999_999, fundBob: 1_000_000_000, wantErr: ErrInsufficientPrizePool},
		{name: "pool leaves zero stake", sender: admin, c1: alice, c2: bob, pool: 200_000_001, fundBob: 1_000_000_000, wantErr: ErrInsufficientPrizePool},
		// A pool between 2x and 4x the fee clears the stake formula but could not pay the fee
		// out of the loser's stake on a win, so it is refused up front.
		{name: "stake smaller than fee", sender: admin, c1: alice, c2: bob, pool: 300_000_000, fundBob: 1_000_000_000, wantErr: ErrInsufficientPrizePool},
		{name: "stake one below fee", sender: admin, c1: alice, c2: bob, pool: 399_999_999, fundBob: 1_000_000_000, wantErr: ErrInsufficientPrizePool},
		{name: "second contestant short", sender: admin, c1: alice, c2: bob, pool: 1_500_000_000, fundBob: 649_999_999, wantErr: ErrInsufficientBalance},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := newState(t, 100_000_000)
			s = fund(t, s, alice, 1_000_000_000)
			s = fund(t, s, bob, tc.fundBob)

			events, next, err := Apply(s, Command{
				Type:        CmdCreateRoom,
				Sender:      tc.sender,
				Contestant1: tc.c1,
				Contestant2: tc.c2,
				PrizePool:   amt(tc.pool),
			})
			require.ErrorIs(t, err, tc.wantErr)
			assert.Nil(t, events)
			assert.Equal(t, s, next)
			assert.Equal(t, uint256.Int{}, next.UserLockedBalance(alice))
		})
	}

	t.Run("short contestant is named", func(t *testing.T) {
		s := newState(t, 100_000_000)
		s = fund(t, s, alice, 1_000_000_000)
		_, _, err := Apply(s, Command{Type: CmdCreateRoom, Sender: admin, Contestant1: alice, Contestant2: bob, PrizePool: amt(1_500_000_000)})
		var ib *InsufficientBalanceError
		require.ErrorAs(t, err, &ib)
		assert.Equal(t, bob, ib.User)
		assert.Equal(t, amt(650_000_000), ib.MinRequired)
		assert.True(t, ib.CurrentBalance.IsZero())
	})

	t.Run("stake equal to fee is the smallest room", func(t *testing.T) {
		s := newState(t, 100_000_000)
		s = fund(t, s, alice, 100_000_000)
		s = fund(t, s, bob, 100_000_000)
		events, s, err := Apply(s, Command{Type: CmdCreateRoom, Sender: admin, Contestant1: alice, Contestant2: bob, PrizePool: amt(400_000_000)})
		require.NoError(t, err)
		key := events[0].RoomKey

		_, s, err = Apply(s, Command{Type: CmdFinishRoom, Sender: admin, RoomKey: key, Result: Win(alice)})
		require.NoError(t, err)
		assert.Equal(t, amt(100_000_000), s.UserBalance(alice), "winner keeps its stake, gains nothing")
		assert.Equal(t, uint256.Int{}, s.UserBalance(bob))
		assert.Equal(t, amt(100_000_000), s.UserBalance(admin))
	})

	t.Run("open room blocks the same ordered pair", func(t *testing.T) {
		s, _ := startedRoom(t)
		_, _, err := Apply(s, Command{Type: CmdCreateRoom, Sender: admin, Contestant1: alice, Contestant2: bob, PrizePool: amt(300_000_000 + 2*100_000_000)})
		assert.ErrorIs(t, err, ErrGameRoomAlreadyStarted)
	})

	t.Run("reversed pair is a different slot", func(t *testing.T) {
		s, key := startedRoom(t)
		events, next, err := Apply(s, Command{Type: CmdCreateRoom, Sender: admin, Contestant1: bob, Contestant2: alice, PrizePool: amt(700_000_000)})
		require.NoError(t, err)
		assert.NotEqual(t, key, events[0].RoomKey)
		assert.Equal(t, uint64(2), next.TotalGames())
		assert.Equal(t, amt(900_000_000), next.UserLockedBalance(alice))
	})
}

func TestFinishRoomWin(t *testing.T) {
	s, key := startedRoom(t)

	events, next, err := Apply(s, Command{Type: CmdFinishRoom, Sender: admin, RoomKey: key, Result: Win(alice)})
	require.NoError(t, err)

	// Winner nets the opponent's stake less the fee; the loser gives up its whole stake.
	// The variant that credits prizePool/2 - fee is rejected because it creates value.
	assert.Equal(t, amt(1_550_000_000), next.UserBalance(alice))
	assert.Equal(t, amt(350_000_000), next.UserBalance(bob))
	assert.Equal(t, uint256.Int{}, next.UserLockedBalance(alice))
	assert.Equal(t, uint256.Int{}, next.UserLockedBalance(bob))
	assert.Equal(t, amt(100_000_000), next.UserBalance(admin))
	assert.NotEqual(t, amt(1_650_000_000), next.UserBalance(alice))

	accrued, collected := next.CollectedFees()
	assert.Equal(t, amt(100_000_000), accrued)
	assert.True(t, collected.IsZero())

	room, ok := next.GameRoom(key)
	require.True(t, ok)
	assert.Equal(t, Win(alice), room.Status)
	assert.True(t, room.PrizePool.IsZero())
	assert.True(t, room.Stake.IsZero())

	for _, e := range []EventType{EvtPayout, EvtStakeForfeited, EvtFeeAccrued, EvtRoomFinished} {
		assert.True(t, ContainsEvent(events, e), e)
	}
	assert.Equal(t, []string{alice, bob, admin}, TouchedUsers(events))
	assert.Equal(t, []string{key}, TouchedRooms(events))

	assert.Equal(t, sumTotals(s), sumTotals(next))
}

func TestFinishRoomDraw(t *testing.T) {
	s, key := startedRoom(t)

	events, next, err := Apply(s, Command{Type: CmdFinishRoom, Sender: admin, RoomKey: key, Result: Draw()})
	require.NoError(t, err)

	for _, u := range []string{alice, bob} {
		assert.Equal(t, amt(1_000_000_000), next.UserBalance(u), u)
		assert.Equal(t, uint256.Int{}, next.UserLockedBalance(u), u)
	}
	assert.Equal(t, uint256.Int{}, next.UserBalance(admin))
	assert.False(t, ContainsEvent(events, EvtFeeAccrued))
	room, _ := next.GameRoom(key)
	assert.Equal(t, Draw(), room.Status)
}

func TestFinishRoomRejects(t *testing.T) {
	s, key := startedRoom(t)
	_, finished, err := Apply(s, Command{Type: CmdFinishRoom, Sender: admin, RoomKey: key, Result: Draw()})
	require.NoError(t, err)

	cases := []struct {
		name    string
		state   State
		cmd     Command
		wantErr error
	}{
		{name: "non admin", state: s, cmd: Command{Type: CmdFinishRoom, Sender: alice, RoomKey: key, Result: Win(alice)}, wantErr: ErrUnauthorized},
		{name: "unknown room", state: s, cmd: Command{Type: CmdFinishRoom, Sender: admin, RoomKey: DeriveRoomKey(bob, alice), Result: Draw()}, wantErr: ErrGameRoomNotFound},
		{name: "already finished", state: finished, cmd: Command{Type: CmdFinishRoom, Sender: admin, RoomKey: key, Result: Win(bob)}, wantErr: ErrGameRoomNotStarted},
		{name: "result is started", state: s, cmd: Command{Type: CmdFinishRoom, Sender: admin, RoomKey: key, Result: Started()}, wantErr: ErrGameRoomNotStarted},
		{name: "winner not in room", state: s, cmd: Command{Type: CmdFinishRoom, Sender: admin, RoomKey: key, Result: Win("mallory")}, wantErr: ErrInvalidWinner},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			events, next, err := Apply(tc.state, tc.cmd)
			require.ErrorIs(t, err, tc.wantErr)
			assert.Nil(t, events)
			assert.Equal(t, tc.state, next)
		})
	}
}

func TestRoomSlotReusableAfterFinish(t *testing.T) {
	s, key := startedRoom(t)
	_, s, err := Apply(s, Command{Type: CmdFinishRoom, Sender: admin, RoomKey: key, Result: Win(bob)})
	require.NoError(t, err)

	_, s, err = Apply(s, Command{Type: CmdCreateRoom, Sender: admin, Contestant1: alice, Contestant2: bob, PrizePool: amt(400_000_000)})
	require.NoError(t, err)
	room, _ := s.GameRoom(key)
	assert.Equal(t, Started(), room.Status)
	assert.Equal(t, amt(100_000_000), room.Stake)
	assert.Equal(t, uint64(2), s.TotalGames())
}

func TestCollectFees(t *testing.T) {
	s, key := startedRoom(t)
	_, s, err := Apply(s, Command{Type: CmdFinishRoom, Sender: admin, RoomKey: key, Result: Win(alice)})
	require.NoError(t, err)

	_, _, err = Apply(s, Command{Type: CmdCollectFees, Sender: alice, Receiver: alice, Amount: amt(1)})
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, _, err = Apply(s, Command{Type: CmdCollectFees, Sender: admin, Receiver: "treasury", Amount: amt(100_000_001)})
	assert.ErrorIs(t, err, ErrInsufficientBalance)

	_, _, err = Apply(s, Command{Type: CmdCollectFees, Sender: admin, Amount: amt(1)})
	assert.ErrorIs(t, err, ErrInvalidAddress)

	events, next, err := Apply(s, Command{Type: CmdCollectFees, Sender: admin, Receiver: "treasury", Amount: amt(60_000_000)})
	require.NoError(t, err)
	assert.Equal(t, amt(40_000_000), next.UserBalance(admin))
	accrued, collected := next.CollectedFees()
	assert.Equal(t, amt(100_000_000), accrued)
	assert.Equal(t, amt(60_000_000), collected)
	assert.Equal(t, "treasury", Transfers(events)[0].Recipient)
}

func TestUnsupportedCommand(t *testing.T) {
	s := newState(t, 0)
	_, next, err := Apply(s, Command{Type: "Mint", Sender: admin})
	assert.ErrorIs(t, err, ErrUnsupportedCommand)
	assert.Equal(t, s, next)
}

func sumTotals(s State) uint256.Int {
	var sum uint256.Int
	for _, b := range s.Balances {
		sum.Add(&sum, &b.Total)
	}
	return sum
}
