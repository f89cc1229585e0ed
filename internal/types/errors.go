package types

import (
	"context"
	"errors"
	"net/http"

	"github.com/DoyleJ11/duel-escrow-backend/internal/auth"
	"github.com/DoyleJ11/duel-escrow-backend/internal/engine"
	"github.com/DoyleJ11/duel-escrow-backend/internal/escrow"
	"github.com/DoyleJ11/duel-escrow-backend/internal/hub"
	"github.com/DoyleJ11/duel-escrow-backend/internal/store"
	pub "github.com/DoyleJ11/duel-escrow-backend/pkg/types"
)

type errorMapping struct {
	target error
	status int
	code   string
}

// First match wins.
var errorMappings = []errorMapping{
	{auth.ErrMissingToken, http.StatusUnauthorized, "unauthenticated"},
	{auth.ErrInvalidToken, http.StatusUnauthorized, "unauthenticated"},
	{auth.ErrIssuerKey, http.StatusUnauthorized, "unauthenticated"},
	{engine.ErrUnauthorized, http.StatusForbidden, "unauthorized"},
	{engine.ErrInsufficientBalance, http.StatusConflict, "insufficient_balance"},
	{engine.ErrGameRoomAlreadyStarted, http.StatusConflict, "game_room_already_started"},
	{engine.ErrGameRoomNotStarted, http.StatusConflict, "game_room_not_started"},
	{store.ErrVersionConflict, http.StatusConflict, "version_conflict"},
	{engine.ErrGameRoomNotFound, http.StatusNotFound, "game_room_not_found"},
	{store.ErrInstanceNotFound, http.StatusNotFound, "instance_not_found"},
	{engine.ErrInsufficientPrizePool, http.StatusUnprocessableEntity, "insufficient_prize_pool"},
	{engine.ErrArithmetic, http.StatusUnprocessableEntity, "arithmetic"},
	{engine.ErrDepositMismatch, http.StatusBadRequest, "deposit_mismatch"},
	{engine.ErrInvalidWinner, http.StatusBadRequest, "invalid_winner"},
	{engine.ErrInvalidContestants, http.StatusBadRequest, "invalid_contestants"},
	{engine.ErrInvalidAmount, http.StatusBadRequest, "invalid_amount"},
	{engine.ErrInvalidAddress, http.StatusBadRequest, "invalid_address"},
	{engine.ErrInvalidConfig, http.StatusBadRequest, "invalid_config"},
	{engine.ErrMalformedRoomKey, http.StatusBadRequest, "malformed_room_key"},
	{engine.ErrUnsupportedCommand, http.StatusBadRequest, "unsupported_command"},
	{ErrBadRequest, http.StatusBadRequest, "bad_request"},
	{escrow.ErrClosed, http.StatusServiceUnavailable, "unavailable"},
	{hub.ErrShutdown, http.StatusServiceUnavailable, "unavailable"},
	{context.DeadlineExceeded, http.StatusServiceUnavailable, "timeout"},
	{context.Canceled, http.StatusServiceUnavailable, "canceled"},
}

// ToError maps err onto an HTTP status and a response body naming the failed precondition.
func ToError(err error) (int, pub.ErrorResponse) {
	body := pub.ErrorResponse{Error: "internal", Message: err.Error()}
	status := http.StatusInternalServerError

	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			status, body.Error = m.status, m.code
			break
		}
	}

	var ib *engine.InsufficientBalanceError
	if errors.As(err, &ib) {
		body.Details = map[string]any{
			"user":            ib.User,
			"min_required":    ib.MinRequired.Dec(),
			"current_balance": ib.CurrentBalance.Dec(),
		}
	}
	var le *engine.GameRoomLoadError
	if errors.As(err, &le) {
		body.Error = "game_room_load"
	}
	if status == http.StatusInternalServerError && body.Error == "internal" {
		body.Message = "internal error"
	}
	return status, body
}
