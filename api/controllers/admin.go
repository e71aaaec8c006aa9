package controllers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/loaderescrow-backend/api/responses"
	"github.com/angelmondragon/loaderescrow-backend/api/validators"
	"github.com/angelmondragon/loaderescrow-backend/internal/controls"
	"github.com/angelmondragon/loaderescrow-backend/internal/masterwallet"
	"github.com/angelmondragon/loaderescrow-backend/internal/withdrawals"
	"github.com/angelmondragon/loaderescrow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/loaderescrow-backend/pkg/errors"
	"github.com/angelmondragon/loaderescrow-backend/pkg/logger"
)

// MasterWallet is the operator surface of the treasury controller.
type MasterWallet interface {
	Unlock(ctx context.Context, actorID uuid.UUID) error
	Lock(ctx context.Context, actorID uuid.UUID) error
	Status(ctx context.Context) (masterwallet.Status, error)
}

type sweepResetter interface {
	ResetSweepAttempts(ctx context.Context, depositID uuid.UUID) error
}

type withdrawalRequest struct {
	OwnerID   string `json:"owner_id" validate:"required,uuid"`
	ToAddress string `json:"to_address" validate:"required,evm_address"`
	Amount    string `json:"amount" validate:"required,positive_decimal"`
}

func AdminGetControls(svc controls.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "controls service unavailable"))
			return
		}
		snap, err := svc.Get(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, snap)
	}
}

// AdminUpdateControls applies a partial change to the platform wallet controls.
func AdminUpdateControls(svc controls.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "controls service unavailable"))
			return
		}
		adminID, err := actorID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var body controls.UpdateInput
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		snap, err := svc.Update(r.Context(), adminID, body)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if logg != nil {
			logg.Info(logg.WithUserID(r.Context(), adminID.String()), "wallet controls updated")
		}
		responses.WriteSuccess(w, snap)
	}
}

func AdminMasterWalletStatus(wallet MasterWallet, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if wallet == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "master wallet unavailable"))
			return
		}
		status, err := wallet.Status(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, status)
	}
}

func AdminMasterWalletUnlock(wallet MasterWallet, logg *logger.Logger) http.HandlerFunc {
	if wallet == nil {
		return unavailable(logg)
	}
	return masterWalletAction(wallet, wallet.Unlock, logg)
}

func AdminMasterWalletLock(wallet MasterWallet, logg *logger.Logger) http.HandlerFunc {
	if wallet == nil {
		return unavailable(logg)
	}
	return masterWalletAction(wallet, wallet.Lock, logg)
}

func masterWalletAction(wallet MasterWallet, fn func(context.Context, uuid.UUID) error, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		adminID, err := actorID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := fn(r.Context(), adminID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		status, err := wallet.Status(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, status)
	}
}

// AdminRequestWithdrawal debits a user's balance and pays it out from the treasury.
// Unconfirmed transfers return 202 with the transaction hash.
func AdminRequestWithdrawal(svc withdrawals.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "withdrawals service unavailable"))
			return
		}
		adminID, err := actorID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var body withdrawalRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		ownerID, err := uuid.Parse(body.OwnerID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid owner_id"))
			return
		}
		amount, err := validators.ParseAmount("amount", body.Amount)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		withdrawal, err := svc.Request(r.Context(), withdrawals.RequestInput{
			AdminID:   adminID,
			OwnerID:   ownerID,
			ToAddress: body.ToAddress,
			Amount:    amount,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		status := http.StatusOK
		if withdrawal.Status == enums.WithdrawalStatusUnconfirmed {
			status = http.StatusAccepted
		}
		responses.WriteSuccessStatus(w, status, toWithdrawal(*withdrawal))
	}
}

func AdminListWithdrawals(svc withdrawals.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "withdrawals service unavailable"))
			return
		}
		ownerID, err := validators.ParseQueryUUID(r, "owner_id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		params, err := validators.ParsePage(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		page, err := svc.List(r.Context(), ownerID, params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, mapPage(page, toWithdrawal))
	}
}

func AdminGetWithdrawal(svc withdrawals.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "withdrawals service unavailable"))
			return
		}
		id, err := validators.ParseUUIDParam(r, "withdrawalId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		withdrawal, err := svc.Get(r.Context(), id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, toWithdrawal(*withdrawal))
	}
}

// AdminResetSweep clears the sweep attempt counter of an exhausted deposit.
func AdminResetSweep(svc sweepResetter, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "deposit service unavailable"))
			return
		}
		depositID, err := validators.ParseUUIDParam(r, "depositId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := svc.ResetSweepAttempts(r.Context(), depositID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"deposit_id": depositID, "sweep_attempts": 0})
	}
}
