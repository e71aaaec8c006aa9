package loaders

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/loaderescrow-backend/internal/ledger"
	"github.com/angelmondragon/loaderescrow-backend/pkg/db/dbtest"
	"github.com/angelmondragon/loaderescrow-backend/pkg/db/models"
	"github.com/angelmondragon/loaderescrow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/loaderescrow-backend/pkg/errors"
	"github.com/angelmondragon/loaderescrow-backend/pkg/logger"
	"github.com/angelmondragon/loaderescrow-backend/pkg/outbox"
	"github.com/angelmondragon/loaderescrow-backend/pkg/pagination"
)

type harness struct {
	svc      Service
	ledger   ledger.Service
	conn     *gorm.DB
	now      time.Time
	feeOwner uuid.UUID
}

func newHarness(t *testing.T, feeBps int) *harness {
	t.Helper()
	client, conn := dbtest.Client(t)
	feeOwner := uuid.New()
	led, err := ledger.NewService(ledger.NewRepository(conn), client, "USDT", ledger.WithFeeWallet(feeOwner))
	require.NoError(t, err)

	h := &harness{ledger: led, conn: conn, now: time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC), feeOwner: feeOwner}
	h.svc, err = NewService(ServiceParams{
		Repo:           NewRepository(conn),
		Tx:             client,
		Ledger:         led,
		Outbox:         outbox.NewService(outbox.NewRepository(conn), nil),
		Logger:         logger.New(logger.Options{ServiceName: "test", Output: io.Discard}),
		PlatformFeeBps: feeBps,
		Currency:       "usdt",
		Now:            func() time.Time { return h.now },
	})
	require.NoError(t, err)
	return h
}

func (h *harness) fund(t *testing.T, owner uuid.UUID, amount int64) {
	t.Helper()
	_, err := h.ledger.Credit(context.Background(), nil, ledger.Entry{
		OwnerID:     owner,
		Amount:      decimal.NewFromInt(amount),
		Description: "test funding",
	})
	require.NoError(t, err)
}

func (h *harness) balances(t *testing.T, owner uuid.UUID) (int64, int64) {
	t.Helper()
	wallet, err := h.ledger.GetWallet(context.Background(), owner)
	require.NoError(t, err)
	return wallet.AvailableBalance.IntPart(), wallet.EscrowBalance.IntPart()
}

func (h *harness) postAd(t *testing.T, poster uuid.UUID, deal int64, upfront int) *models.LoaderAd {
	t.Helper()
	ad, err := h.svc.PostAd(context.Background(), poster, PostAdInput{
		AssetType:         "bank_transfer",
		DealAmount:        decimal.NewFromInt(deal),
		PaymentMethods:    []string{"wire", " "},
		UpfrontPercentage: upfront,
	})
	require.NoError(t, err)
	return ad
}

func requireCode(t *testing.T, err error, code pkgerrors.Code) {
	t.Helper()
	require.Error(t, err)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed, "expected typed error, got %v", err)
	require.Equal(t, code, typed.Code(), err.Error())
}

func TestPartialLiabilityScenario(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()
	loader, receiver := uuid.New(), uuid.New()
	h.fund(t, loader, 1000)

	ad := h.postAd(t, loader, 1000, 0)
	require.True(t, ad.FrozenCommitment.Equal(decimal.NewFromInt(100)))
	require.Equal(t, []string{"wire"}, ad.PaymentMethods)
	avail, escrow := h.balances(t, loader)
	require.Equal(t, int64(900), avail)
	require.Equal(t, int64(100), escrow)

	order, err := h.svc.AcceptAd(ctx, receiver, ad.ID)
	require.NoError(t, err)
	require.Equal(t, enums.LoaderOrderStatusAwaitingLiabilityConfirmation, order.Status)
	require.True(t, order.LoaderFrozenAmount.Equal(decimal.NewFromInt(100)))

	order, err = h.svc.SelectLiability(ctx, receiver, order.ID, enums.LiabilityPartial25, true)
	require.NoError(t, err)
	require.True(t, order.ReceiverConfirmed)
	require.Equal(t, enums.LiabilityPartial25, *order.LiabilityType)
	require.Nil(t, order.LiabilityDeadline)

	order, err = h.svc.ConfirmLiability(ctx, loader, order.ID)
	require.NoError(t, err)
	require.True(t, order.LoaderConfirmed)

	order, err = h.svc.MarkFundsSent(ctx, loader, order.ID)
	require.NoError(t, err)
	require.Equal(t, enums.LoaderOrderStatusFundsSentByLoader, order.Status)

	order, err = h.svc.Complete(ctx, receiver, order.ID)
	require.NoError(t, err)
	require.Equal(t, enums.LoaderOrderStatusCompleted, order.Status)
	require.NotNil(t, order.CompletedAt)

	avail, escrow = h.balances(t, loader)
	require.Equal(t, int64(1000), avail)
	require.Zero(t, escrow)

	var changes int64
	require.NoError(t, h.conn.Model(&models.OutboxEvent{}).
		Where("event_type = ?", enums.EventLoaderOrderStateChanged).Count(&changes).Error)
	require.Equal(t, int64(5), changes)

	msgs, err := h.svc.ListMessages(ctx, loader, order.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 5)
	for _, msg := range msgs {
		require.True(t, msg.IsSystem)
		require.Nil(t, msg.SenderID)
	}
}

func TestLiabilityIsWriteOnce(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()
	loader, receiver := uuid.New(), uuid.New()
	h.fund(t, loader, 1000)
	ad := h.postAd(t, loader, 1000, 0)
	order, err := h.svc.AcceptAd(ctx, receiver, ad.ID)
	require.NoError(t, err)

	_, err = h.svc.SelectLiability(ctx, receiver, order.ID, enums.LiabilityFullPayment, false)
	requireCode(t, err, pkgerrors.CodeValidation)

	_, err = h.svc.SelectLiability(ctx, loader, order.ID, enums.LiabilityFullPayment, true)
	requireCode(t, err, pkgerrors.CodeForbidden)

	_, err = h.svc.SelectLiability(ctx, receiver, order.ID, enums.LiabilityPartial25, true)
	require.NoError(t, err)

	_, err = h.svc.SelectLiability(ctx, receiver, order.ID, enums.LiabilityFullPayment, true)
	requireCode(t, err, pkgerrors.CodeStateConflict)

	stored, err := h.svc.GetOrder(ctx, receiver, order.ID)
	require.NoError(t, err)
	require.Equal(t, enums.LiabilityPartial25, *stored.LiabilityType)
}

func TestPostAdRequiresCommitmentBalance(t *testing.T) {
	h := newHarness(t, 0)
	poster := uuid.New()
	h.fund(t, poster, 50)

	_, err := h.svc.PostAd(context.Background(), poster, PostAdInput{
		AssetType:      "bank_transfer",
		DealAmount:     decimal.NewFromInt(1000),
		PaymentMethods: []string{"wire"},
	})
	requireCode(t, err, pkgerrors.CodeInsufficient)
	require.Equal(t, "insufficient balance for 10% commitment", pkgerrors.As(err).Message())
	require.Equal(t, map[string]any{"step": "ad_commitment", "required": "100"}, pkgerrors.As(err).Details())

	var ads int64
	require.NoError(t, h.conn.Model(&models.LoaderAd{}).Count(&ads).Error)
	require.Zero(t, ads)
	avail, escrow := h.balances(t, poster)
	require.Equal(t, int64(50), avail)
	require.Zero(t, escrow)
}

func TestPostAdValidation(t *testing.T) {
	h := newHarness(t, 0)
	poster := uuid.New()
	valid := PostAdInput{AssetType: "card", DealAmount: decimal.NewFromInt(10), PaymentMethods: []string{"wire"}}

	cases := map[string]func(in *PostAdInput){
		"missing asset":   func(in *PostAdInput) { in.AssetType = " " },
		"zero amount":     func(in *PostAdInput) { in.DealAmount = decimal.Zero },
		"too precise":     func(in *PostAdInput) { in.DealAmount = decimal.RequireFromString("1.123456789") },
		"no methods":      func(in *PostAdInput) { in.PaymentMethods = []string{""} },
		"upfront too big": func(in *PostAdInput) { in.UpfrontPercentage = 101 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			in := valid
			mutate(&in)
			_, err := h.svc.PostAd(context.Background(), poster, in)
			requireCode(t, err, pkgerrors.CodeValidation)
		})
	}
}

func TestCancelAdRefundsCommitment(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()
	poster := uuid.New()
	h.fund(t, poster, 500)
	ad := h.postAd(t, poster, 1000, 0)

	_, err := h.svc.CancelAd(ctx, uuid.New(), ad.ID)
	requireCode(t, err, pkgerrors.CodeForbidden)

	cancelled, err := h.svc.CancelAd(ctx, poster, ad.ID)
	require.NoError(t, err)
	require.Equal(t, enums.LoaderAdStatusCancelled, cancelled.Status)

	avail, escrow := h.balances(t, poster)
	require.Equal(t, int64(500), avail)
	require.Zero(t, escrow)

	var refunds int64
	require.NoError(t, h.conn.Model(&models.Transaction{}).
		Where("owner_id = ? AND type = ?", poster, enums.TransactionEscrowRefund).Count(&refunds).Error)
	require.Equal(t, int64(1), refunds)

	_, err = h.svc.CancelAd(ctx, poster, ad.ID)
	requireCode(t, err, pkgerrors.CodeStateConflict)

	_, err = h.svc.AcceptAd(ctx, uuid.New(), ad.ID)
	requireCode(t, err, pkgerrors.CodeStateConflict)
}

func TestAcceptAdRules(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()
	poster := uuid.New()
	h.fund(t, poster, 1000)
	ad := h.postAd(t, poster, 1000, 0)

	_, err := h.svc.AcceptAd(ctx, poster, ad.ID)
	requireCode(t, err, pkgerrors.CodeForbidden)

	_, err = h.svc.AcceptAd(ctx, uuid.New(), ad.ID)
	require.NoError(t, err)

	_, err = h.svc.AcceptAd(ctx, uuid.New(), ad.ID)
	requireCode(t, err, pkgerrors.CodeStateConflict)

	_, err = h.svc.AcceptAd(ctx, uuid.New(), uuid.New())
	requireCode(t, err, pkgerrors.CodeNotFound)

	var orders int64
	require.NoError(t, h.conn.Model(&models.LoaderOrder{}).Where("ad_id = ?", ad.ID).Count(&orders).Error)
	require.Equal(t, int64(1), orders)
}

func TestUpfrontCompletionWithPlatformFee(t *testing.T) {
	h := newHarness(t, 1000)
	ctx := context.Background()
	loader, receiver := uuid.New(), uuid.New()
	h.fund(t, loader, 1000)
	h.fund(t, receiver, 500)
	ad := h.postAd(t, loader, 1000, 20)

	order, err := h.svc.AcceptAd(ctx, receiver, ad.ID)
	require.NoError(t, err)
	require.Equal(t, enums.LoaderOrderStatusCreated, order.Status)
	require.True(t, order.ReceiverFrozenAmount.Equal(decimal.NewFromInt(200)))

	_, err = h.svc.SelectLiability(ctx, receiver, order.ID, enums.LiabilityFullPayment, true)
	requireCode(t, err, pkgerrors.CodeStateConflict)

	order, err = h.svc.FundUpfront(ctx, receiver, order.ID)
	require.NoError(t, err)
	require.True(t, order.ReceiverFunded)
	require.Equal(t, enums.LoaderOrderStatusAwaitingLiabilityConfirmation, order.Status)
	avail, escrow := h.balances(t, receiver)
	require.Equal(t, int64(300), avail)
	require.Equal(t, int64(200), escrow)

	_, err = h.svc.FundUpfront(ctx, receiver, order.ID)
	requireCode(t, err, pkgerrors.CodeStateConflict)

	_, err = h.svc.SelectLiability(ctx, receiver, order.ID, enums.LiabilityFullPayment, true)
	require.NoError(t, err)
	_, err = h.svc.MarkFundsSent(ctx, loader, order.ID)
	requireCode(t, err, pkgerrors.CodeStateConflict)
	_, err = h.svc.ConfirmLiability(ctx, loader, order.ID)
	require.NoError(t, err)
	_, err = h.svc.MarkFundsSent(ctx, loader, order.ID)
	require.NoError(t, err)

	_, err = h.svc.Complete(ctx, loader, order.ID)
	requireCode(t, err, pkgerrors.CodeForbidden)

	order, err = h.svc.ReportAssetFrozen(ctx, receiver, order.ID)
	require.NoError(t, err)
	require.Equal(t, enums.LoaderOrderStatusAssetFrozenWaiting, order.Status)

	order, err = h.svc.Complete(ctx, receiver, order.ID)
	require.NoError(t, err)
	require.True(t, order.PlatformFee.Equal(decimal.NewFromInt(10)))

	avail, escrow = h.balances(t, loader)
	require.Equal(t, int64(990), avail)
	require.Zero(t, escrow)
	avail, escrow = h.balances(t, receiver)
	require.Equal(t, int64(500), avail)
	require.Zero(t, escrow)
	avail, _ = h.balances(t, h.feeOwner)
	require.Equal(t, int64(10), avail)

	var wallets []models.Wallet
	require.NoError(t, h.conn.Find(&wallets).Error)
	total := decimal.Zero
	for _, w := range wallets {
		total = total.Add(w.AvailableBalance).Add(w.EscrowBalance)
	}
	require.True(t, total.Equal(decimal.NewFromInt(1500)), "funds not conserved: %s", total)

	_, err = h.svc.Cancel(ctx, receiver, order.ID)
	requireCode(t, err, pkgerrors.CodeStateConflict)
}

func TestCancelCreatedOrderRefundsBothParties(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()
	loader, receiver := uuid.New(), uuid.New()
	h.fund(t, loader, 1000)
	h.fund(t, receiver, 500)
	ad := h.postAd(t, loader, 1000, 50)

	order, err := h.svc.AcceptAd(ctx, receiver, ad.ID)
	require.NoError(t, err)

	_, err = h.svc.Cancel(ctx, uuid.New(), order.ID)
	requireCode(t, err, pkgerrors.CodeForbidden)

	order, err = h.svc.Cancel(ctx, loader, order.ID)
	require.NoError(t, err)
	require.Equal(t, enums.LoaderOrderStatusCancelled, order.Status)
	require.NotNil(t, order.CancelledAt)

	avail, escrow := h.balances(t, loader)
	require.Equal(t, int64(1000), avail)
	require.Zero(t, escrow)
	avail, escrow = h.balances(t, receiver)
	require.Equal(t, int64(500), avail)
	require.Zero(t, escrow)
}

func TestCloseExpiredRefundsTimeBoundOrders(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()
	loader, receiver := uuid.New(), uuid.New()
	h.fund(t, loader, 1000)
	ad := h.postAd(t, loader, 1000, 0)

	order, err := h.svc.AcceptAd(ctx, receiver, ad.ID)
	require.NoError(t, err)
	order, err = h.svc.SelectLiability(ctx, receiver, order.ID, enums.LiabilityTimeBound24h, true)
	require.NoError(t, err)
	require.NotNil(t, order.LiabilityDeadline)
	require.True(t, order.LiabilityDeadline.Equal(h.now.Add(24*time.Hour)))
	_, err = h.svc.ConfirmLiability(ctx, loader, order.ID)
	require.NoError(t, err)
	_, err = h.svc.MarkFundsSent(ctx, loader, order.ID)
	require.NoError(t, err)

	closed, err := h.svc.CloseExpired(ctx, h.now.Add(time.Hour))
	require.NoError(t, err)
	require.Zero(t, closed)

	h.now = h.now.Add(25 * time.Hour)
	_, err = h.svc.Complete(ctx, receiver, order.ID)
	requireCode(t, err, pkgerrors.CodeStateConflict)

	closed, err = h.svc.CloseExpired(ctx, h.now)
	require.NoError(t, err)
	require.Equal(t, 1, closed)

	stored, err := h.svc.GetOrder(ctx, loader, order.ID)
	require.NoError(t, err)
	require.Equal(t, enums.LoaderOrderStatusClosedNoPayment, stored.Status)
	require.NotNil(t, stored.ClosedAt)

	avail, escrow := h.balances(t, loader)
	require.Equal(t, int64(1000), avail)
	require.Zero(t, escrow)

	closed, err = h.svc.CloseExpired(ctx, h.now)
	require.NoError(t, err)
	require.Zero(t, closed)
}

func TestConfirmLiabilityRejectedAfterDeadline(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()
	loader, receiver := uuid.New(), uuid.New()
	h.fund(t, loader, 1000)
	ad := h.postAd(t, loader, 1000, 0)

	order, err := h.svc.AcceptAd(ctx, receiver, ad.ID)
	require.NoError(t, err)
	_, err = h.svc.SelectLiability(ctx, receiver, order.ID, enums.LiabilityTimeBound24h, true)
	require.NoError(t, err)

	h.now = h.now.Add(24 * time.Hour)
	_, err = h.svc.ConfirmLiability(ctx, loader, order.ID)
	requireCode(t, err, pkgerrors.CodeStateConflict)

	stored, err := h.svc.GetOrder(ctx, loader, order.ID)
	require.NoError(t, err)
	require.False(t, stored.LoaderConfirmed)
}

func TestMarkFundsSentRejectedAfterDeadline(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()
	loader, receiver := uuid.New(), uuid.New()
	h.fund(t, loader, 1000)
	ad := h.postAd(t, loader, 1000, 0)

	order, err := h.svc.AcceptAd(ctx, receiver, ad.ID)
	require.NoError(t, err)
	_, err = h.svc.SelectLiability(ctx, receiver, order.ID, enums.LiabilityTimeBound48h, true)
	require.NoError(t, err)
	_, err = h.svc.ConfirmLiability(ctx, loader, order.ID)
	require.NoError(t, err)

	h.now = h.now.Add(49 * time.Hour)
	_, err = h.svc.MarkFundsSent(ctx, loader, order.ID)
	requireCode(t, err, pkgerrors.CodeStateConflict)

	stored, err := h.svc.GetOrder(ctx, loader, order.ID)
	require.NoError(t, err)
	require.Equal(t, enums.LoaderOrderStatusAwaitingLiabilityConfirmation, stored.Status)
	require.Nil(t, stored.FundsSentAt)
}

func TestCloseExpiredClosesUnconfirmedOrdersAndRefundsUpfront(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()
	loader, receiver := uuid.New(), uuid.New()
	h.fund(t, loader, 1000)
	h.fund(t, receiver, 500)
	ad := h.postAd(t, loader, 1000, 30)

	order, err := h.svc.AcceptAd(ctx, receiver, ad.ID)
	require.NoError(t, err)
	_, err = h.svc.FundUpfront(ctx, receiver, order.ID)
	require.NoError(t, err)
	_, err = h.svc.SelectLiability(ctx, receiver, order.ID, enums.LiabilityTimeBound72h, true)
	require.NoError(t, err)

	closed, err := h.svc.CloseExpired(ctx, h.now.Add(71*time.Hour))
	require.NoError(t, err)
	require.Zero(t, closed)

	closed, err = h.svc.CloseExpired(ctx, h.now.Add(72*time.Hour))
	require.NoError(t, err)
	require.Equal(t, 1, closed)

	stored, err := h.svc.GetOrder(ctx, receiver, order.ID)
	require.NoError(t, err)
	require.Equal(t, enums.LoaderOrderStatusClosedNoPayment, stored.Status)

	avail, escrow := h.balances(t, loader)
	require.Equal(t, int64(1000), avail)
	require.Zero(t, escrow)
	avail, escrow = h.balances(t, receiver)
	require.Equal(t, int64(500), avail)
	require.Zero(t, escrow)
}

func TestLiabilityMessageNamesPayableShare(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()
	loader, receiver := uuid.New(), uuid.New()
	h.fund(t, loader, 1000)
	ad := h.postAd(t, loader, 1000, 0)

	order, err := h.svc.AcceptAd(ctx, receiver, ad.ID)
	require.NoError(t, err)
	_, err = h.svc.SelectLiability(ctx, receiver, order.ID, enums.LiabilityPartial50, true)
	require.NoError(t, err)

	msgs, err := h.svc.ListMessages(ctx, receiver, order.ID)
	require.NoError(t, err)
	require.Contains(t, msgs[len(msgs)-1].Body, "50% payable")
	require.Contains(t, liabilityMessage(enums.LiabilityTimeBound24h, &h.now), "deadline 2026-10-01T12:00:00Z")
}

func TestOrderChatIsLimitedToParties(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()
	loader, receiver, outsider := uuid.New(), uuid.New(), uuid.New()
	h.fund(t, loader, 1000)
	ad := h.postAd(t, loader, 1000, 0)
	order, err := h.svc.AcceptAd(ctx, receiver, ad.ID)
	require.NoError(t, err)

	_, err = h.svc.PostMessage(ctx, outsider, order.ID, "hello")
	requireCode(t, err, pkgerrors.CodeForbidden)
	_, err = h.svc.ListMessages(ctx, outsider, order.ID)
	requireCode(t, err, pkgerrors.CodeForbidden)
	_, err = h.svc.PostMessage(ctx, receiver, order.ID, "   ")
	requireCode(t, err, pkgerrors.CodeValidation)

	msg, err := h.svc.PostMessage(ctx, receiver, order.ID, "  sending details now ")
	require.NoError(t, err)
	require.Equal(t, "sending details now", msg.Body)
	require.False(t, msg.IsSystem)

	msgs, err := h.svc.ListMessages(ctx, loader, order.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
}

func TestListingsAreScoped(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()
	alice, bob := uuid.New(), uuid.New()
	h.fund(t, alice, 1000)
	h.fund(t, bob, 1000)
	first := h.postAd(t, alice, 100, 0)
	h.postAd(t, alice, 200, 0)
	h.postAd(t, bob, 300, 0)

	_, err := h.svc.AcceptAd(ctx, bob, first.ID)
	require.NoError(t, err)

	active, err := h.svc.ListActiveAds(ctx, pagination.Params{Limit: 10})
	require.NoError(t, err)
	require.Len(t, active.Items, 2)

	mine, err := h.svc.ListMyAds(ctx, alice, pagination.Params{Limit: 10})
	require.NoError(t, err)
	require.Len(t, mine.Items, 2)

	orders, err := h.svc.ListMyOrders(ctx, bob, pagination.Params{Limit: 10})
	require.NoError(t, err)
	require.Len(t, orders.Items, 1)
	orders, err = h.svc.ListMyOrders(ctx, alice, pagination.Params{Limit: 10})
	require.NoError(t, err)
	require.Len(t, orders.Items, 1)
}

func TestNewServiceValidatesParams(t *testing.T) {
	_, err := NewService(ServiceParams{})
	require.Error(t, err)
}
