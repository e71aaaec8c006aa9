package loaders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/loaderescrow-backend/internal/ledger"
	"github.com/angelmondragon/loaderescrow-backend/pkg/db"
	"github.com/angelmondragon/loaderescrow-backend/pkg/db/models"
	"github.com/angelmondragon/loaderescrow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/loaderescrow-backend/pkg/errors"
	"github.com/angelmondragon/loaderescrow-backend/pkg/logger"
	"github.com/angelmondragon/loaderescrow-backend/pkg/outbox"
	"github.com/angelmondragon/loaderescrow-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/loaderescrow-backend/pkg/pagination"
)

// CommitmentPercent of the deal amount is frozen from the poster's balance
// while an ad or its order is open.
const CommitmentPercent = 10

const (
	maxDealDecimals   = 8
	maxAssetTypeLen   = 64
	maxMessageLen     = 2000
	maxPaymentMethods = 10

	referenceTypeAd    = "loader_ad"
	referenceTypeOrder = "loader_order"
)

// Order actions reported on loader_order_state_changed.
const (
	ActionAccepted           = "accepted"
	ActionUpfrontFunded      = "upfront_funded"
	ActionLiabilitySelected  = "liability_selected"
	ActionLiabilityConfirmed = "liability_confirmed"
	ActionFundsSent          = "funds_sent"
	ActionAssetFrozen        = "asset_frozen"
	ActionCompleted          = "completed"
	ActionCancelled          = "cancelled"
	ActionClosedNoPayment    = "closed_no_payment"
)

var expirableStatuses = []enums.LoaderOrderStatus{
	enums.LoaderOrderStatusAwaitingLiabilityConfirmation,
	enums.LoaderOrderStatusFundsSentByLoader,
	enums.LoaderOrderStatusAssetFrozenWaiting,
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Ledger is the escrow half of the wallet ledger.
type Ledger interface {
	Freeze(ctx context.Context, tx *gorm.DB, e ledger.Entry) (*models.Transaction, error)
	Release(ctx context.Context, tx *gorm.DB, e ledger.Entry) (*models.Transaction, error)
	ReleaseWithFee(ctx context.Context, tx *gorm.DB, e ledger.Entry, fee decimal.Decimal) ([]models.Transaction, error)
}

// PostAdInput describes a new loading offer.
type PostAdInput struct {
	AssetType         string
	DealAmount        decimal.Decimal
	PaymentMethods    []string
	LoadingTerms      *string
	UpfrontPercentage int
}

// Service runs the loader ad marketplace and the two-party order lifecycle.
type Service interface {
	PostAd(ctx context.Context, posterID uuid.UUID, input PostAdInput) (*models.LoaderAd, error)
	CancelAd(ctx context.Context, actorID, adID uuid.UUID) (*models.LoaderAd, error)
	ListActiveAds(ctx context.Context, params pagination.Params) (pagination.Page[models.LoaderAd], error)
	ListMyAds(ctx context.Context, userID uuid.UUID, params pagination.Params) (pagination.Page[models.LoaderAd], error)
	ListMyOrders(ctx context.Context, userID uuid.UUID, params pagination.Params) (pagination.Page[models.LoaderOrder], error)
	GetOrder(ctx context.Context, userID, orderID uuid.UUID) (*models.LoaderOrder, error)

	AcceptAd(ctx context.Context, receiverID, adID uuid.UUID) (*models.LoaderOrder, error)
	FundUpfront(ctx context.Context, receiverID, orderID uuid.UUID) (*models.LoaderOrder, error)
	SelectLiability(ctx context.Context, receiverID, orderID uuid.UUID, liability enums.LiabilityType, confirmed bool) (*models.LoaderOrder, error)
	ConfirmLiability(ctx context.Context, loaderID, orderID uuid.UUID) (*models.LoaderOrder, error)
	MarkFundsSent(ctx context.Context, loaderID, orderID uuid.UUID) (*models.LoaderOrder, error)
	ReportAssetFrozen(ctx context.Context, receiverID, orderID uuid.UUID) (*models.LoaderOrder, error)
	Complete(ctx context.Context, receiverID, orderID uuid.UUID) (*models.LoaderOrder, error)
	Cancel(ctx context.Context, actorID, orderID uuid.UUID) (*models.LoaderOrder, error)
	CloseExpired(ctx context.Context, now time.Time) (int, error)

	PostMessage(ctx context.Context, senderID, orderID uuid.UUID, body string) (*models.LoaderOrderMessage, error)
	ListMessages(ctx context.Context, userID, orderID uuid.UUID) ([]models.LoaderOrderMessage, error)
}

// ServiceParams wires the loaders service.
type ServiceParams struct {
	Repo           Repository
	Tx             txRunner
	Ledger         Ledger
	Outbox         outboxPublisher
	Logger         *logger.Logger
	PlatformFeeBps int
	Currency       string
	Now            func() time.Time
}

type service struct {
	repo     Repository
	tx       txRunner
	ledger   Ledger
	outbox   outboxPublisher
	logg     *logger.Logger
	feeBps   int
	currency string
	now      func() time.Time
}

// NewService validates params and returns the loaders service.
func NewService(p ServiceParams) (Service, error) {
	switch {
	case p.Repo == nil:
		return nil, fmt.Errorf("loaders repository required")
	case p.Tx == nil:
		return nil, fmt.Errorf("transaction runner required")
	case p.Ledger == nil:
		return nil, fmt.Errorf("ledger required")
	case p.Outbox == nil:
		return nil, fmt.Errorf("outbox publisher required")
	case p.Logger == nil:
		return nil, fmt.Errorf("logger required")
	case p.PlatformFeeBps < 0 || p.PlatformFeeBps > 10000:
		return nil, fmt.Errorf("platform fee must be between 0 and 10000 bps")
	}
	currency := strings.ToUpper(strings.TrimSpace(p.Currency))
	if currency == "" {
		return nil, fmt.Errorf("currency required")
	}
	if p.Now == nil {
		p.Now = time.Now
	}
	return &service{
		repo:     p.Repo,
		tx:       p.Tx,
		ledger:   p.Ledger,
		outbox:   p.Outbox,
		logg:     p.Logger,
		feeBps:   p.PlatformFeeBps,
		currency: currency,
		now:      p.Now,
	}, nil
}

// Commitment returns the share of dealAmount frozen from the poster.
func Commitment(dealAmount decimal.Decimal) decimal.Decimal {
	return percentOf(dealAmount, CommitmentPercent)
}

func percentOf(amount decimal.Decimal, percent int) decimal.Decimal {
	return amount.Mul(decimal.New(int64(percent), -2))
}

func (s *service) PostAd(ctx context.Context, posterID uuid.UUID, input PostAdInput) (*models.LoaderAd, error) {
	if err := requireActor(posterID); err != nil {
		return nil, err
	}
	ad, err := s.buildAd(posterID, input)
	if err != nil {
		return nil, err
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.WithTx(tx).CreateAd(ctx, ad); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create loader ad")
		}
		_, err := s.ledger.Freeze(ctx, tx, ledger.Entry{
			OwnerID:     posterID,
			Amount:      ad.FrozenCommitment,
			Description: fmt.Sprintf("Loader ad commitment (%d%%)", CommitmentPercent),
			Reference:   &ledger.Reference{Type: referenceTypeAd, ID: ad.ID},
		})
		if err != nil {
			if errors.Is(err, ledger.ErrInsufficientBalance) {
				return pkgerrors.Wrap(pkgerrors.CodeInsufficient, err, fmt.Sprintf("insufficient balance for %d%% commitment", CommitmentPercent)).
					WithDetails(map[string]any{"step": "ad_commitment", "required": ad.FrozenCommitment.String()})
			}
			return err
		}
		return s.emitAd(ctx, tx, ad, enums.EventLoaderAdPosted)
	})
	if err != nil {
		return nil, err
	}

	s.logg.Info(s.logg.WithFields(ctx, map[string]any{"ad_id": ad.ID.String(), "user_id": posterID.String()}), "loader ad posted")
	return ad, nil
}

func (s *service) buildAd(posterID uuid.UUID, input PostAdInput) (*models.LoaderAd, error) {
	assetType := strings.TrimSpace(input.AssetType)
	if assetType == "" || len(assetType) > maxAssetTypeLen {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "asset_type is required")
	}
	if err := validateDealAmount(input.DealAmount); err != nil {
		return nil, err
	}
	if input.UpfrontPercentage < 0 || input.UpfrontPercentage > 100 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "upfront_percentage must be between 0 and 100")
	}
	methods := make([]string, 0, len(input.PaymentMethods))
	for _, m := range input.PaymentMethods {
		if m = strings.TrimSpace(m); m != "" {
			methods = append(methods, m)
		}
	}
	if len(methods) == 0 || len(methods) > maxPaymentMethods {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("between 1 and %d payment methods are required", maxPaymentMethods))
	}

	var terms *string
	if input.LoadingTerms != nil {
		if trimmed := strings.TrimSpace(*input.LoadingTerms); trimmed != "" {
			terms = &trimmed
		}
	}

	return &models.LoaderAd{
		PosterID:          posterID,
		AssetType:         assetType,
		DealAmount:        input.DealAmount,
		FrozenCommitment:  Commitment(input.DealAmount),
		Currency:          s.currency,
		PaymentMethods:    methods,
		LoadingTerms:      terms,
		UpfrontPercentage: input.UpfrontPercentage,
		Status:            enums.LoaderAdStatusActive,
	}, nil
}

func validateDealAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return pkgerrors.New(pkgerrors.CodeValidation, "deal_amount must be positive")
	}
	if !amount.Equal(amount.Truncate(maxDealDecimals)) {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("deal_amount allows at most %d decimal places", maxDealDecimals))
	}
	return nil
}

func (s *service) CancelAd(ctx context.Context, actorID, adID uuid.UUID) (*models.LoaderAd, error) {
	if err := requireActor(actorID); err != nil {
		return nil, err
	}

	var out *models.LoaderAd
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		ad, err := findAd(ctx, repo, adID)
		if err != nil {
			return err
		}
		if ad.PosterID != actorID {
			return pkgerrors.New(pkgerrors.CodeForbidden, "only the ad owner can cancel it")
		}
		if !ad.IsActive() {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "ad is no longer active")
		}

		now := s.now().UTC()
		rows, err := repo.TransitionAd(ctx, ad.ID, enums.LoaderAdStatusActive, enums.LoaderAdStatusCancelled, map[string]any{"cancelled_at": now})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "cancel loader ad")
		}
		if rows == 0 {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "ad is no longer active")
		}
		if _, err := s.ledger.Release(ctx, tx, ledger.Entry{
			OwnerID:     ad.PosterID,
			Amount:      ad.FrozenCommitment,
			Type:        enums.TransactionEscrowRefund,
			Description: "Loader ad cancelled - commitment refunded",
			Reference:   &ledger.Reference{Type: referenceTypeAd, ID: ad.ID},
		}); err != nil {
			return err
		}

		ad.Status = enums.LoaderAdStatusCancelled
		ad.CancelledAt = &now
		out = ad
		return s.emitAd(ctx, tx, ad, enums.EventLoaderAdCancelled)
	})
	if err != nil {
		return nil, err
	}
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{"ad_id": adID.String(), "user_id": actorID.String()}), "loader ad cancelled")
	return out, nil
}

func (s *service) ListActiveAds(ctx context.Context, params pagination.Params) (pagination.Page[models.LoaderAd], error) {
	if _, err := pagination.ParseCursor(params.Cursor); err != nil {
		return pagination.Page[models.LoaderAd]{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	rows, err := s.repo.ListActiveAds(ctx, params)
	if err != nil {
		return pagination.Page[models.LoaderAd]{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list loader ads")
	}
	return pagination.Build(rows, params.Limit, adCursor), nil
}

func (s *service) ListMyAds(ctx context.Context, userID uuid.UUID, params pagination.Params) (pagination.Page[models.LoaderAd], error) {
	if err := requireActor(userID); err != nil {
		return pagination.Page[models.LoaderAd]{}, err
	}
	if _, err := pagination.ParseCursor(params.Cursor); err != nil {
		return pagination.Page[models.LoaderAd]{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	rows, err := s.repo.ListAdsByPoster(ctx, userID, params)
	if err != nil {
		return pagination.Page[models.LoaderAd]{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list loader ads")
	}
	return pagination.Build(rows, params.Limit, adCursor), nil
}

func (s *service) ListMyOrders(ctx context.Context, userID uuid.UUID, params pagination.Params) (pagination.Page[models.LoaderOrder], error) {
	if err := requireActor(userID); err != nil {
		return pagination.Page[models.LoaderOrder]{}, err
	}
	if _, err := pagination.ParseCursor(params.Cursor); err != nil {
		return pagination.Page[models.LoaderOrder]{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	rows, err := s.repo.ListOrdersByParty(ctx, userID, params)
	if err != nil {
		return pagination.Page[models.LoaderOrder]{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list loader orders")
	}
	return pagination.Build(rows, params.Limit, func(o models.LoaderOrder) pagination.Cursor {
		return pagination.Cursor{CreatedAt: o.CreatedAt, ID: o.ID}
	}), nil
}

func (s *service) GetOrder(ctx context.Context, userID, orderID uuid.UUID) (*models.LoaderOrder, error) {
	if err := requireActor(userID); err != nil {
		return nil, err
	}
	order, err := findOrder(ctx, s.repo, orderID)
	if err != nil {
		return nil, err
	}
	if !order.IsParty(userID) {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "not a party to this order")
	}
	return order, nil
}

func (s *service) AcceptAd(ctx context.Context, receiverID, adID uuid.UUID) (*models.LoaderOrder, error) {
	if err := requireActor(receiverID); err != nil {
		return nil, err
	}

	var out *models.LoaderOrder
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		ad, err := findAd(ctx, repo, adID)
		if err != nil {
			return err
		}
		if ad.PosterID == receiverID {
			return pkgerrors.New(pkgerrors.CodeForbidden, "cannot accept your own ad")
		}
		if !ad.IsActive() {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "ad is no longer active")
		}

		rows, err := repo.TransitionAd(ctx, ad.ID, enums.LoaderAdStatusActive, enums.LoaderAdStatusConsumed, nil)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "consume loader ad")
		}
		if rows == 0 {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "ad is no longer active")
		}

		upfront := percentOf(ad.DealAmount, ad.UpfrontPercentage)
		order := &models.LoaderOrder{
			AdID:                 ad.ID,
			LoaderID:             ad.PosterID,
			ReceiverID:           receiverID,
			DealAmount:           ad.DealAmount,
			Currency:             ad.Currency,
			LoaderFrozenAmount:   ad.FrozenCommitment,
			ReceiverFrozenAmount: upfront,
			PlatformFee:          decimal.Zero,
			Status:               enums.LoaderOrderStatusCreated,
		}
		message := fmt.Sprintf("Order created. Receiver must fund the %d%% upfront payment of %s %s.", ad.UpfrontPercentage, upfront.String(), order.Currency)
		if !upfront.IsPositive() {
			order.Status = enums.LoaderOrderStatusAwaitingLiabilityConfirmation
			message = "Order created. Receiver must select the liability terms."
		}
		if err := repo.CreateOrder(ctx, order); err != nil {
			if db.IsUniqueViolation(err, "") {
				return pkgerrors.New(pkgerrors.CodeConflict, "ad already has an order")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create loader order")
		}
		if err := s.record(ctx, tx, order, "", receiverID, ActionAccepted, message); err != nil {
			return err
		}
		out = order
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logg.Info(s.logg.WithOrderID(s.logg.WithUserID(ctx, receiverID.String()), out.ID.String()), "loader ad accepted")
	return out, nil
}

func (s *service) FundUpfront(ctx context.Context, receiverID, orderID uuid.UUID) (*models.LoaderOrder, error) {
	return s.mutate(ctx, receiverID, orderID, func(order *models.LoaderOrder, now time.Time) (step, error) {
		if order.ReceiverID != receiverID {
			return step{}, pkgerrors.New(pkgerrors.CodeForbidden, "only the receiver can fund the upfront payment")
		}
		if order.Status != enums.LoaderOrderStatusCreated {
			return step{}, pkgerrors.New(pkgerrors.CodeStateConflict, "upfront payment is only accepted while the order is created")
		}
		if order.ReceiverFunded || !order.ReceiverFrozenAmount.IsPositive() {
			return step{}, pkgerrors.New(pkgerrors.CodeStateConflict, "no upfront payment is outstanding")
		}
		return step{
			to:      enums.LoaderOrderStatusAwaitingLiabilityConfirmation,
			guard:   map[string]any{"receiver_funded": false},
			fields:  map[string]any{"receiver_funded": true},
			action:  ActionUpfrontFunded,
			message: fmt.Sprintf("Receiver funded the upfront payment of %s %s. Receiver must select the liability terms.", order.ReceiverFrozenAmount.String(), order.Currency),
			settle: func(ctx context.Context, tx *gorm.DB) error {
				_, err := s.ledger.Freeze(ctx, tx, ledger.Entry{
					OwnerID:     order.ReceiverID,
					Amount:      order.ReceiverFrozenAmount,
					Description: "Loader order upfront payment",
					Reference:   orderRef(order),
				})
				if errors.Is(err, ledger.ErrInsufficientBalance) {
					return pkgerrors.Wrap(pkgerrors.CodeInsufficient, err, "insufficient balance for upfront payment").
						WithDetails(map[string]any{"step": "upfront_payment", "order_id": order.ID.String(), "required": order.ReceiverFrozenAmount.String()})
				}
				return err
			},
		}, nil
	})
}

func (s *service) SelectLiability(ctx context.Context, receiverID, orderID uuid.UUID, liability enums.LiabilityType, confirmed bool) (*models.LoaderOrder, error) {
	if !liability.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid liability type %q", liability))
	}
	if !confirmed {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "liability terms must be explicitly confirmed")
	}
	return s.mutate(ctx, receiverID, orderID, func(order *models.LoaderOrder, now time.Time) (step, error) {
		if order.ReceiverID != receiverID {
			return step{}, pkgerrors.New(pkgerrors.CodeForbidden, "only the receiver can select liability terms")
		}
		if order.LiabilityType != nil || order.ReceiverConfirmed {
			return step{}, pkgerrors.New(pkgerrors.CodeStateConflict, "liability terms are already set and cannot be changed")
		}
		if order.Status != enums.LoaderOrderStatusAwaitingLiabilityConfirmation {
			return step{}, pkgerrors.New(pkgerrors.CodeStateConflict, "liability terms cannot be selected in the current state")
		}

		fields := map[string]any{
			"liability_type":        liability,
			"receiver_confirmed":    true,
			"receiver_confirmed_at": now,
		}
		message := liabilityMessage(liability, nil)
		if window, ok := liability.Window(); ok {
			deadline := now.Add(window)
			fields["liability_deadline"] = deadline
			message = liabilityMessage(liability, &deadline)
		}
		return step{
			guard:   map[string]any{"liability_type": nil, "receiver_confirmed": false},
			fields:  fields,
			action:  ActionLiabilitySelected,
			message: message,
		}, nil
	})
}

func (s *service) ConfirmLiability(ctx context.Context, loaderID, orderID uuid.UUID) (*models.LoaderOrder, error) {
	return s.mutate(ctx, loaderID, orderID, func(order *models.LoaderOrder, now time.Time) (step, error) {
		if order.LoaderID != loaderID {
			return step{}, pkgerrors.New(pkgerrors.CodeForbidden, "only the loader can confirm liability terms")
		}
		if order.Status != enums.LoaderOrderStatusAwaitingLiabilityConfirmation {
			return step{}, pkgerrors.New(pkgerrors.CodeStateConflict, "liability terms cannot be confirmed in the current state")
		}
		if !order.ReceiverConfirmed || order.LiabilityType == nil {
			return step{}, pkgerrors.New(pkgerrors.CodeStateConflict, "receiver has not selected liability terms")
		}
		if order.LoaderConfirmed {
			return step{}, pkgerrors.New(pkgerrors.CodeStateConflict, "liability terms already confirmed")
		}
		if deadlinePassed(order, now) {
			return step{}, pkgerrors.New(pkgerrors.CodeStateConflict, "liability deadline has passed")
		}
		return step{
			guard:   map[string]any{"receiver_confirmed": true, "loader_confirmed": false},
			fields:  map[string]any{"loader_confirmed": true, "loader_confirmed_at": now},
			action:  ActionLiabilityConfirmed,
			message: "Loader confirmed the liability terms.",
		}, nil
	})
}

func (s *service) MarkFundsSent(ctx context.Context, loaderID, orderID uuid.UUID) (*models.LoaderOrder, error) {
	return s.mutate(ctx, loaderID, orderID, func(order *models.LoaderOrder, now time.Time) (step, error) {
		if order.LoaderID != loaderID {
			return step{}, pkgerrors.New(pkgerrors.CodeForbidden, "only the loader can report funds sent")
		}
		if order.Status != enums.LoaderOrderStatusAwaitingLiabilityConfirmation {
			return step{}, pkgerrors.New(pkgerrors.CodeStateConflict, "funds cannot be reported sent in the current state")
		}
		if !order.LoaderConfirmed {
			return step{}, pkgerrors.New(pkgerrors.CodeStateConflict, "liability terms must be confirmed before sending funds")
		}
		if deadlinePassed(order, now) {
			return step{}, pkgerrors.New(pkgerrors.CodeStateConflict, "liability deadline has passed")
		}
		return step{
			to:      enums.LoaderOrderStatusFundsSentByLoader,
			guard:   map[string]any{"loader_confirmed": true},
			fields:  map[string]any{"funds_sent_at": now},
			action:  ActionFundsSent,
			message: "Loader reported the funds as sent.",
		}, nil
	})
}

func (s *service) ReportAssetFrozen(ctx context.Context, receiverID, orderID uuid.UUID) (*models.LoaderOrder, error) {
	return s.mutate(ctx, receiverID, orderID, func(order *models.LoaderOrder, now time.Time) (step, error) {
		if order.ReceiverID != receiverID {
			return step{}, pkgerrors.New(pkgerrors.CodeForbidden, "only the receiver can report a frozen asset")
		}
		if order.Status != enums.LoaderOrderStatusFundsSentByLoader {
			return step{}, pkgerrors.New(pkgerrors.CodeStateConflict, "asset can only be reported frozen after funds are sent")
		}
		return step{
			to:      enums.LoaderOrderStatusAssetFrozenWaiting,
			fields:  map[string]any{"asset_frozen_at": now},
			action:  ActionAssetFrozen,
			message: "Receiver reported the loaded asset as frozen.",
		}, nil
	})
}

func (s *service) Complete(ctx context.Context, receiverID, orderID uuid.UUID) (*models.LoaderOrder, error) {
	return s.mutate(ctx, receiverID, orderID, func(order *models.LoaderOrder, now time.Time) (step, error) {
		if order.ReceiverID != receiverID {
			return step{}, pkgerrors.New(pkgerrors.CodeForbidden, "only the receiver can complete the order")
		}
		if !order.Status.CanTransitionTo(enums.LoaderOrderStatusCompleted) {
			return step{}, pkgerrors.New(pkgerrors.CodeStateConflict, "order cannot be completed in the current state")
		}
		if deadlinePassed(order, now) {
			return step{}, pkgerrors.New(pkgerrors.CodeStateConflict, "liability deadline has passed")
		}

		fee := s.platformFee(order.LoaderFrozenAmount)
		return step{
			to:      enums.LoaderOrderStatusCompleted,
			fields:  map[string]any{"completed_at": now, "platform_fee": fee},
			action:  ActionCompleted,
			message: "Receiver completed the order. Commitments released.",
			settle: func(ctx context.Context, tx *gorm.DB) error {
				if _, err := s.ledger.ReleaseWithFee(ctx, tx, ledger.Entry{
					OwnerID:     order.LoaderID,
					Amount:      order.LoaderFrozenAmount,
					Description: "Loader order completed - commitment released",
					Reference:   orderRef(order),
				}, fee); err != nil {
					return err
				}
				return s.releaseUpfront(ctx, tx, order, enums.TransactionEscrowRelease, "Loader order completed - upfront released")
			},
		}, nil
	})
}

func (s *service) Cancel(ctx context.Context, actorID, orderID uuid.UUID) (*models.LoaderOrder, error) {
	return s.mutate(ctx, actorID, orderID, func(order *models.LoaderOrder, now time.Time) (step, error) {
		if order.Status != enums.LoaderOrderStatusCreated {
			return step{}, pkgerrors.New(pkgerrors.CodeStateConflict, "only newly created orders can be cancelled")
		}
		return step{
			to:      enums.LoaderOrderStatusCancelled,
			guard:   map[string]any{"receiver_funded": order.ReceiverFunded},
			fields:  map[string]any{"cancelled_at": now},
			action:  ActionCancelled,
			message: "Order cancelled. Commitments refunded.",
			settle: func(ctx context.Context, tx *gorm.DB) error {
				return s.refundAll(ctx, tx, order, "Loader order cancelled")
			},
		}, nil
	})
}

// CloseExpired closes time-bound orders whose deadline passed without
// completion, including ones the loader never confirmed or funded. Each
// order settles in its own transaction.
func (s *service) CloseExpired(ctx context.Context, now time.Time) (int, error) {
	now = now.UTC()
	orders, err := s.repo.ListExpiredOrders(ctx, expirableStatuses, now)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list expired loader orders")
	}

	closed := 0
	var errs error
	for _, candidate := range orders {
		_, err := s.mutateAt(ctx, uuid.Nil, candidate.ID, now, func(order *models.LoaderOrder, now time.Time) (step, error) {
			if !deadlinePassed(order, now) {
				return step{}, pkgerrors.New(pkgerrors.CodeStateConflict, "liability deadline has not passed")
			}
			if order.Status.IsTerminal() || !order.Status.CanTransitionTo(enums.LoaderOrderStatusClosedNoPayment) {
				return step{}, pkgerrors.New(pkgerrors.CodeStateConflict, "order is no longer open")
			}
			return step{
				to:      enums.LoaderOrderStatusClosedNoPayment,
				fields:  map[string]any{"closed_at": now},
				action:  ActionClosedNoPayment,
				message: "Liability deadline passed. Order closed with no payment and commitments refunded.",
				settle: func(ctx context.Context, tx *gorm.DB) error {
					return s.refundAll(ctx, tx, order, "Loader order closed without payment")
				},
			}, nil
		})
		if err != nil {
			s.logg.Error(s.logg.WithOrderID(ctx, candidate.ID.String()), "close expired loader order", err)
			errs = multierr.Append(errs, fmt.Errorf("order %s: %w", candidate.ID, err))
			continue
		}
		closed++
	}
	return closed, errs
}

func (s *service) PostMessage(ctx context.Context, senderID, orderID uuid.UUID, body string) (*models.LoaderOrderMessage, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "message body is required")
	}
	if len([]rune(body)) > maxMessageLen {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("message body exceeds %d characters", maxMessageLen))
	}
	if _, err := s.GetOrder(ctx, senderID, orderID); err != nil {
		return nil, err
	}

	sender := senderID
	msg := &models.LoaderOrderMessage{OrderID: orderID, SenderID: &sender, Body: body}
	if err := s.repo.CreateMessage(ctx, msg); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create order message")
	}
	return msg, nil
}

func (s *service) ListMessages(ctx context.Context, userID, orderID uuid.UUID) ([]models.LoaderOrderMessage, error) {
	if _, err := s.GetOrder(ctx, userID, orderID); err != nil {
		return nil, err
	}
	msgs, err := s.repo.ListMessages(ctx, orderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list order messages")
	}
	return msgs, nil
}

// deadlinePassed reports whether a time-bound order is at or past its deadline.
func deadlinePassed(order *models.LoaderOrder, now time.Time) bool {
	return order.LiabilityDeadline != nil && !now.Before(*order.LiabilityDeadline)
}

func liabilityMessage(liability enums.LiabilityType, deadline *time.Time) string {
	switch {
	case liability.IsTimeBound() && deadline != nil:
		return fmt.Sprintf("Receiver selected liability terms: %s (deadline %s). Loader must confirm.", liability, deadline.Format(time.RFC3339))
	case !liability.IsTimeBound():
		if pct, ok := liability.PayablePercent(); ok {
			return fmt.Sprintf("Receiver selected liability terms: %s (%d%% payable if the asset is unusable). Loader must confirm.", liability, pct)
		}
	}
	return fmt.Sprintf("Receiver selected liability terms: %s. Loader must confirm.", liability)
}

// step is one guarded change to an order. An empty to keeps the status.
type step struct {
	to      enums.LoaderOrderStatus
	guard   map[string]any
	fields  map[string]any
	action  string
	message string
	settle  func(ctx context.Context, tx *gorm.DB) error
}

type planner func(order *models.LoaderOrder, now time.Time) (step, error)

func (s *service) mutate(ctx context.Context, actorID, orderID uuid.UUID, plan planner) (*models.LoaderOrder, error) {
	if err := requireActor(actorID); err != nil {
		return nil, err
	}
	return s.mutateAt(ctx, actorID, orderID, s.now().UTC(), plan)
}

// mutateAt loads the order, lets plan gate it, then applies the change as a
// compare-and-set on status and guard columns. A nil actor is the system.
func (s *service) mutateAt(ctx context.Context, actorID, orderID uuid.UUID, now time.Time, plan planner) (*models.LoaderOrder, error) {
	var (
		out    *models.LoaderOrder
		action string
	)
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := findOrder(ctx, repo, orderID)
		if err != nil {
			return err
		}
		if actorID != uuid.Nil && !order.IsParty(actorID) {
			return pkgerrors.New(pkgerrors.CodeForbidden, "not a party to this order")
		}

		st, err := plan(order, now)
		if err != nil {
			return err
		}
		from := order.Status
		fields := st.fields
		if fields == nil {
			fields = map[string]any{}
		}
		if st.to != "" {
			if !from.CanTransitionTo(st.to) {
				return pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("order cannot move from %s to %s", from, st.to))
			}
			fields["status"] = st.to
		}

		rows, err := repo.UpdateOrder(ctx, order.ID, from, st.guard, fields)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update loader order")
		}
		if rows == 0 {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order was modified concurrently")
		}
		if st.settle != nil {
			if err := st.settle(ctx, tx); err != nil {
				return err
			}
		}

		updated, err := findOrder(ctx, repo, order.ID)
		if err != nil {
			return err
		}
		if err := s.record(ctx, tx, updated, from, actorID, st.action, st.message); err != nil {
			return err
		}
		out = updated
		action = st.action
		return nil
	})
	if err != nil {
		return nil, err
	}

	logCtx := s.logg.WithFields(s.logg.WithOrderID(ctx, orderID.String()), map[string]any{
		"action": action,
		"status": out.Status.String(),
	})
	s.logg.Info(logCtx, "loader order updated")
	return out, nil
}

func (s *service) platformFee(amount decimal.Decimal) decimal.Decimal {
	if s.feeBps == 0 {
		return decimal.Zero
	}
	return amount.Mul(decimal.New(int64(s.feeBps), -4)).Truncate(18)
}

func (s *service) refundAll(ctx context.Context, tx *gorm.DB, order *models.LoaderOrder, reason string) error {
	if order.LoaderFrozenAmount.IsPositive() {
		if _, err := s.ledger.Release(ctx, tx, ledger.Entry{
			OwnerID:     order.LoaderID,
			Amount:      order.LoaderFrozenAmount,
			Type:        enums.TransactionEscrowRefund,
			Description: reason + " - commitment refunded",
			Reference:   orderRef(order),
		}); err != nil {
			return err
		}
	}
	return s.releaseUpfront(ctx, tx, order, enums.TransactionEscrowRefund, reason+" - upfront refunded")
}

func (s *service) releaseUpfront(ctx context.Context, tx *gorm.DB, order *models.LoaderOrder, txType enums.TransactionType, description string) error {
	if !order.ReceiverFunded || !order.ReceiverFrozenAmount.IsPositive() {
		return nil
	}
	_, err := s.ledger.Release(ctx, tx, ledger.Entry{
		OwnerID:     order.ReceiverID,
		Amount:      order.ReceiverFrozenAmount,
		Type:        txType,
		Description: description,
		Reference:   orderRef(order),
	})
	return err
}

// record writes the system chat line and the state change event in tx.
func (s *service) record(ctx context.Context, tx *gorm.DB, order *models.LoaderOrder, from enums.LoaderOrderStatus, actorID uuid.UUID, action, message string) error {
	if message != "" {
		if err := s.repo.WithTx(tx).CreateMessage(ctx, &models.LoaderOrderMessage{
			OrderID:  order.ID,
			IsSystem: true,
			Body:     message,
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create system message")
		}
	}
	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventLoaderOrderStateChanged,
		AggregateType: enums.AggregateLoaderOrder,
		AggregateID:   order.ID,
		Actor:         actorRef(actorID),
		Data: payloads.LoaderOrderStateChangedEvent{
			OrderID:    order.ID,
			AdID:       order.AdID,
			LoaderID:   order.LoaderID,
			ReceiverID: order.ReceiverID,
			From:       from,
			To:         order.Status,
			Action:     action,
		},
	})
}

func (s *service) emitAd(ctx context.Context, tx *gorm.DB, ad *models.LoaderAd, eventType enums.OutboxEventType) error {
	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     eventType,
		AggregateType: enums.AggregateLoaderAd,
		AggregateID:   ad.ID,
		Actor:         actorRef(ad.PosterID),
		Data: payloads.LoaderAdEvent{
			AdID:             ad.ID,
			PosterID:         ad.PosterID,
			DealAmount:       ad.DealAmount,
			FrozenCommitment: ad.FrozenCommitment,
			Status:           ad.Status,
		},
	})
}

func findAd(ctx context.Context, repo Repository, id uuid.UUID) (*models.LoaderAd, error) {
	ad, err := repo.FindAd(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "loader ad not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load loader ad")
	}
	return ad, nil
}

func findOrder(ctx context.Context, repo Repository, id uuid.UUID) (*models.LoaderOrder, error) {
	order, err := repo.FindOrder(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "loader order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load loader order")
	}
	return order, nil
}

func requireActor(id uuid.UUID) error {
	if id == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	return nil
}

func actorRef(id uuid.UUID) *outbox.ActorRef {
	if id == uuid.Nil {
		return nil
	}
	return &outbox.ActorRef{UserID: id, Role: enums.UserRoleUser.String()}
}

func orderRef(order *models.LoaderOrder) *ledger.Reference {
	return &ledger.Reference{Type: referenceTypeOrder, ID: order.ID}
}

func adCursor(a models.LoaderAd) pagination.Cursor {
	return pagination.Cursor{CreatedAt: a.CreatedAt, ID: a.ID}
}
