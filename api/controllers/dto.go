package controllers

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/loaderescrow-backend/pkg/db/models"
	"github.com/angelmondragon/loaderescrow-backend/pkg/enums"
	"github.com/angelmondragon/loaderescrow-backend/pkg/pagination"
)

type pageResponse[T any] struct {
	Items      []T    `json:"items"`
	NextCursor string `json:"next_cursor,omitempty"`
}

func mapPage[M, D any](page pagination.Page[M], fn func(M) D) pageResponse[D] {
	items := make([]D, 0, len(page.Items))
	for _, item := range page.Items {
		items = append(items, fn(item))
	}
	return pageResponse[D]{Items: items, NextCursor: page.NextCursor}
}

type walletResponse struct {
	Currency         string          `json:"currency"`
	AvailableBalance decimal.Decimal `json:"available_balance"`
	EscrowBalance    decimal.Decimal `json:"escrow_balance"`
	TotalBalance     decimal.Decimal `json:"total_balance"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

func toWallet(w *models.Wallet) walletResponse {
	return walletResponse{
		Currency:         w.Currency,
		AvailableBalance: w.AvailableBalance,
		EscrowBalance:    w.EscrowBalance,
		TotalBalance:     w.Total(),
		UpdatedAt:        w.UpdatedAt,
	}
}

type transactionResponse struct {
	ID                    uuid.UUID             `json:"id"`
	Type                  enums.TransactionType `json:"type"`
	Amount                decimal.Decimal       `json:"amount"`
	Currency              string                `json:"currency"`
	Description           string                `json:"description"`
	ReferenceType         *string               `json:"reference_type,omitempty"`
	ReferenceID           *uuid.UUID            `json:"reference_id,omitempty"`
	AvailableBalanceAfter decimal.Decimal       `json:"available_balance_after"`
	EscrowBalanceAfter    decimal.Decimal       `json:"escrow_balance_after"`
	CreatedAt             time.Time             `json:"created_at"`
}

func toTransaction(t models.Transaction) transactionResponse {
	return transactionResponse{
		ID:                    t.ID,
		Type:                  t.Type,
		Amount:                t.Amount,
		Currency:              t.Currency,
		Description:           t.Description,
		ReferenceType:         t.ReferenceType,
		ReferenceID:           t.ReferenceID,
		AvailableBalanceAfter: t.AvailableBalanceAfter,
		EscrowBalanceAfter:    t.EscrowBalanceAfter,
		CreatedAt:             t.CreatedAt,
	}
}

type depositResponse struct {
	ID                    uuid.UUID           `json:"id"`
	TxHash                string              `json:"tx_hash"`
	FromAddress           string              `json:"from_address"`
	ToAddress             string              `json:"to_address"`
	Amount                decimal.Decimal     `json:"amount"`
	Network               string              `json:"network"`
	BlockNumber           uint64              `json:"block_number"`
	Confirmations         int                 `json:"confirmations"`
	RequiredConfirmations int                 `json:"required_confirmations"`
	Status                enums.DepositStatus `json:"status"`
	DetectedAt            time.Time           `json:"detected_at"`
	CreditedAt            *time.Time          `json:"credited_at,omitempty"`
}

func toDeposit(d models.BlockchainDeposit) depositResponse {
	return depositResponse{
		ID:                    d.ID,
		TxHash:                d.TxHash,
		FromAddress:           d.FromAddress,
		ToAddress:             d.ToAddress,
		Amount:                d.Amount,
		Network:               d.Network,
		BlockNumber:           d.BlockNumber,
		Confirmations:         d.Confirmations,
		RequiredConfirmations: d.RequiredConfirmations,
		Status:                d.Status,
		DetectedAt:            d.DetectedAt,
		CreditedAt:            d.CreditedAt,
	}
}

type adResponse struct {
	ID                uuid.UUID            `json:"id"`
	PosterID          uuid.UUID            `json:"poster_id"`
	AssetType         string               `json:"asset_type"`
	DealAmount        decimal.Decimal      `json:"deal_amount"`
	FrozenCommitment  decimal.Decimal      `json:"frozen_commitment"`
	Currency          string               `json:"currency"`
	PaymentMethods    []string             `json:"payment_methods"`
	LoadingTerms      *string              `json:"loading_terms,omitempty"`
	UpfrontPercentage int                  `json:"upfront_percentage"`
	Status            enums.LoaderAdStatus `json:"status"`
	CreatedAt         time.Time            `json:"created_at"`
}

func toAd(a models.LoaderAd) adResponse {
	return adResponse{
		ID:                a.ID,
		PosterID:          a.PosterID,
		AssetType:         a.AssetType,
		DealAmount:        a.DealAmount,
		FrozenCommitment:  a.FrozenCommitment,
		Currency:          a.Currency,
		PaymentMethods:    a.PaymentMethods,
		LoadingTerms:      a.LoadingTerms,
		UpfrontPercentage: a.UpfrontPercentage,
		Status:            a.Status,
		CreatedAt:         a.CreatedAt,
	}
}

type orderResponse struct {
	ID                   uuid.UUID               `json:"id"`
	AdID                 uuid.UUID               `json:"ad_id"`
	LoaderID             uuid.UUID               `json:"loader_id"`
	ReceiverID           uuid.UUID               `json:"receiver_id"`
	DealAmount           decimal.Decimal         `json:"deal_amount"`
	Currency             string                  `json:"currency"`
	LoaderFrozenAmount   decimal.Decimal         `json:"loader_frozen_amount"`
	ReceiverFrozenAmount decimal.Decimal         `json:"receiver_frozen_amount"`
	ReceiverFunded       bool                    `json:"receiver_funded"`
	Status               enums.LoaderOrderStatus `json:"status"`
	LiabilityType        *enums.LiabilityType    `json:"liability_type,omitempty"`
	LiabilityDeadline    *time.Time              `json:"liability_deadline,omitempty"`
	ReceiverConfirmed    bool                    `json:"receiver_confirmed"`
	LoaderConfirmed      bool                    `json:"loader_confirmed"`
	PlatformFee          decimal.Decimal         `json:"platform_fee"`
	FundsSentAt          *time.Time              `json:"funds_sent_at,omitempty"`
	AssetFrozenAt        *time.Time              `json:"asset_frozen_at,omitempty"`
	CompletedAt          *time.Time              `json:"completed_at,omitempty"`
	ClosedAt             *time.Time              `json:"closed_at,omitempty"`
	CancelledAt          *time.Time              `json:"cancelled_at,omitempty"`
	CreatedAt            time.Time               `json:"created_at"`
	UpdatedAt            time.Time               `json:"updated_at"`
}

func toOrder(o models.LoaderOrder) orderResponse {
	return orderResponse{
		ID:                   o.ID,
		AdID:                 o.AdID,
		LoaderID:             o.LoaderID,
		ReceiverID:           o.ReceiverID,
		DealAmount:           o.DealAmount,
		Currency:             o.Currency,
		LoaderFrozenAmount:   o.LoaderFrozenAmount,
		ReceiverFrozenAmount: o.ReceiverFrozenAmount,
		ReceiverFunded:       o.ReceiverFunded,
		Status:               o.Status,
		LiabilityType:        o.LiabilityType,
		LiabilityDeadline:    o.LiabilityDeadline,
		ReceiverConfirmed:    o.ReceiverConfirmed,
		LoaderConfirmed:      o.LoaderConfirmed,
		PlatformFee:          o.PlatformFee,
		FundsSentAt:          o.FundsSentAt,
		AssetFrozenAt:        o.AssetFrozenAt,
		CompletedAt:          o.CompletedAt,
		ClosedAt:             o.ClosedAt,
		CancelledAt:          o.CancelledAt,
		CreatedAt:            o.CreatedAt,
		UpdatedAt:            o.UpdatedAt,
	}
}

type messageResponse struct {
	ID        uuid.UUID  `json:"id"`
	SenderID  *uuid.UUID `json:"sender_id,omitempty"`
	IsSystem  bool       `json:"is_system"`
	Body      string     `json:"body"`
	CreatedAt time.Time  `json:"created_at"`
}

func toMessage(m models.LoaderOrderMessage) messageResponse {
	return messageResponse{
		ID:        m.ID,
		SenderID:  m.SenderID,
		IsSystem:  m.IsSystem,
		Body:      m.Body,
		CreatedAt: m.CreatedAt,
	}
}

type withdrawalResponse struct {
	ID            uuid.UUID              `json:"id"`
	OwnerID       uuid.UUID              `json:"owner_id"`
	RequestedBy   uuid.UUID              `json:"requested_by"`
	ToAddress     string                 `json:"to_address"`
	Amount        decimal.Decimal        `json:"amount"`
	Currency      string                 `json:"currency"`
	Status        enums.WithdrawalStatus `json:"status"`
	TxHash        *string                `json:"tx_hash,omitempty"`
	FailureReason *string                `json:"failure_reason,omitempty"`
	CreatedAt     time.Time              `json:"created_at"`
	CompletedAt   *time.Time             `json:"completed_at,omitempty"`
}

func toWithdrawal(w models.Withdrawal) withdrawalResponse {
	return withdrawalResponse{
		ID:            w.ID,
		OwnerID:       w.OwnerID,
		RequestedBy:   w.RequestedBy,
		ToAddress:     w.ToAddress,
		Amount:        w.Amount,
		Currency:      w.Currency,
		Status:        w.Status,
		TxHash:        w.TxHash,
		FailureReason: w.FailureReason,
		CreatedAt:     w.CreatedAt,
		CompletedAt:   w.CompletedAt,
	}
}
