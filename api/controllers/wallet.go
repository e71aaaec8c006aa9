package controllers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/loaderescrow-backend/api/responses"
	"github.com/angelmondragon/loaderescrow-backend/api/validators"
	"github.com/angelmondragon/loaderescrow-backend/internal/deposits"
	"github.com/angelmondragon/loaderescrow-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/loaderescrow-backend/pkg/errors"
	"github.com/angelmondragon/loaderescrow-backend/pkg/logger"
	"github.com/angelmondragon/loaderescrow-backend/pkg/pagination"
)

type walletReader interface {
	GetWallet(ctx context.Context, ownerID uuid.UUID) (*models.Wallet, error)
	ListTransactions(ctx context.Context, ownerID uuid.UUID, params pagination.Params) (pagination.Page[models.Transaction], error)
}

type depositAddresses interface {
	Provision(ctx context.Context, ownerID uuid.UUID) (deposits.AddressView, error)
	ListDeposits(ctx context.Context, ownerID uuid.UUID, params pagination.Params) (pagination.Page[models.BlockchainDeposit], error)
}

// WalletGet returns the caller's balances.
func WalletGet(svc walletReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "wallet service unavailable"))
			return
		}
		userID, err := actorID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		wallet, err := svc.GetWallet(r.Context(), userID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, toWallet(wallet))
	}
}

// WalletTransactions lists the caller's ledger entries, newest first.
func WalletTransactions(svc walletReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "wallet service unavailable"))
			return
		}
		userID, err := actorID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		params, err := validators.ParsePage(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		page, err := svc.ListTransactions(r.Context(), userID, params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, mapPage(page, toTransaction))
	}
}

// WalletDepositAddress returns the caller's active deposit address, creating one on first use.
func WalletDepositAddress(svc depositAddresses, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "deposit service unavailable"))
			return
		}
		userID, err := actorID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		view, err := svc.Provision(r.Context(), userID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, view)
	}
}

func WalletDeposits(svc depositAddresses, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "deposit service unavailable"))
			return
		}
		userID, err := actorID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		params, err := validators.ParsePage(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		page, err := svc.ListDeposits(r.Context(), userID, params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, mapPage(page, toDeposit))
	}
}
