package controllers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/loaderescrow-backend/api/responses"
	"github.com/angelmondragon/loaderescrow-backend/api/validators"
	"github.com/angelmondragon/loaderescrow-backend/internal/loaders"
	"github.com/angelmondragon/loaderescrow-backend/pkg/db/models"
	"github.com/angelmondragon/loaderescrow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/loaderescrow-backend/pkg/errors"
	"github.com/angelmondragon/loaderescrow-backend/pkg/logger"
)

const (
	maxAssetTypeLength    = 64
	maxLoadingTermsLength = 2000
)

type postAdRequest struct {
	AssetType         string   `json:"asset_type" validate:"required,max=64"`
	DealAmount        string   `json:"deal_amount" validate:"required,positive_decimal"`
	PaymentMethods    []string `json:"payment_methods" validate:"required,min=1,max=10,dive,required,max=64"`
	LoadingTerms      *string  `json:"loading_terms" validate:"omitempty,max=2000"`
	UpfrontPercentage int      `json:"upfront_percentage" validate:"min=0,max=100"`
}

type selectLiabilityRequest struct {
	LiabilityType string `json:"liability_type" validate:"required,liability_type"`
	Confirmed     bool   `json:"confirmed"`
}

type postMessageRequest struct {
	Body string `json:"body" validate:"required,max=2000"`
}

type orderActionFunc func(ctx context.Context, userID, orderID uuid.UUID) (*models.LoaderOrder, error)

// LoaderPostAd publishes an ad and freezes the poster's commitment.
func LoaderPostAd(svc loaders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "loaders service unavailable"))
			return
		}
		userID, err := actorID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var body postAdRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		amount, err := validators.ParseAmount("deal_amount", body.DealAmount)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		input := loaders.PostAdInput{
			AssetType:         validators.SanitizeString(body.AssetType, maxAssetTypeLength),
			DealAmount:        amount,
			PaymentMethods:    body.PaymentMethods,
			UpfrontPercentage: body.UpfrontPercentage,
		}
		if body.LoadingTerms != nil {
			terms := validators.SanitizeString(*body.LoadingTerms, maxLoadingTermsLength)
			input.LoadingTerms = &terms
		}
		ad, err := svc.PostAd(r.Context(), userID, input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, toAd(*ad))
	}
}

func LoaderListAds(svc loaders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "loaders service unavailable"))
			return
		}
		params, err := validators.ParsePage(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		page, err := svc.ListActiveAds(r.Context(), params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, mapPage(page, toAd))
	}
}

func LoaderMyAds(svc loaders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "loaders service unavailable"))
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
		page, err := svc.ListMyAds(r.Context(), userID, params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, mapPage(page, toAd))
	}
}

func LoaderMyOrders(svc loaders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "loaders service unavailable"))
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
		page, err := svc.ListMyOrders(r.Context(), userID, params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, mapPage(page, toOrder))
	}
}

// LoaderCancelAd withdraws an active ad and refunds its commitment.
func LoaderCancelAd(svc loaders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "loaders service unavailable"))
			return
		}
		userID, err := actorID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		adID, err := validators.ParseUUIDParam(r, "adId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		ad, err := svc.CancelAd(r.Context(), userID, adID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, toAd(*ad))
	}
}

// LoaderAcceptAd opens an order on the ad for the caller as receiver.
func LoaderAcceptAd(svc loaders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "loaders service unavailable"))
			return
		}
		userID, err := actorID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		adID, err := validators.ParseUUIDParam(r, "adId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		order, err := svc.AcceptAd(r.Context(), userID, adID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, toOrder(*order))
	}
}

func LoaderGetOrder(svc loaders.Service, logg *logger.Logger) http.HandlerFunc {
	if svc == nil {
		return unavailable(logg)
	}
	return orderAction(svc.GetOrder, logg)
}

func LoaderFundUpfront(svc loaders.Service, logg *logger.Logger) http.HandlerFunc {
	if svc == nil {
		return unavailable(logg)
	}
	return orderAction(svc.FundUpfront, logg)
}

func LoaderConfirmLiability(svc loaders.Service, logg *logger.Logger) http.HandlerFunc {
	if svc == nil {
		return unavailable(logg)
	}
	return orderAction(svc.ConfirmLiability, logg)
}

func LoaderMarkFundsSent(svc loaders.Service, logg *logger.Logger) http.HandlerFunc {
	if svc == nil {
		return unavailable(logg)
	}
	return orderAction(svc.MarkFundsSent, logg)
}

func LoaderReportAssetFrozen(svc loaders.Service, logg *logger.Logger) http.HandlerFunc {
	if svc == nil {
		return unavailable(logg)
	}
	return orderAction(svc.ReportAssetFrozen, logg)
}

func LoaderComplete(svc loaders.Service, logg *logger.Logger) http.HandlerFunc {
	if svc == nil {
		return unavailable(logg)
	}
	return orderAction(svc.Complete, logg)
}

func LoaderCancelOrder(svc loaders.Service, logg *logger.Logger) http.HandlerFunc {
	if svc == nil {
		return unavailable(logg)
	}
	return orderAction(svc.Cancel, logg)
}

// LoaderSelectLiability records the receiver's write-once liability choice.
func LoaderSelectLiability(svc loaders.Service, logg *logger.Logger) http.HandlerFunc {
	if svc == nil {
		return unavailable(logg)
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var body selectLiabilityRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		liability, err := enums.ParseLiabilityType(body.LiabilityType)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid liability_type"))
			return
		}
		orderAction(func(ctx context.Context, userID, orderID uuid.UUID) (*models.LoaderOrder, error) {
			return svc.SelectLiability(ctx, userID, orderID, liability, body.Confirmed)
		}, logg)(w, r)
	}
}

func LoaderListMessages(svc loaders.Service, logg *logger.Logger) http.HandlerFunc {
	if svc == nil {
		return unavailable(logg)
	}
	return func(w http.ResponseWriter, r *http.Request) {
		userID, orderID, err := orderParams(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		messages, err := svc.ListMessages(r.Context(), userID, orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		out := make([]messageResponse, 0, len(messages))
		for _, m := range messages {
			out = append(out, toMessage(m))
		}
		responses.WriteSuccess(w, out)
	}
}

func LoaderPostMessage(svc loaders.Service, logg *logger.Logger) http.HandlerFunc {
	if svc == nil {
		return unavailable(logg)
	}
	return func(w http.ResponseWriter, r *http.Request) {
		userID, orderID, err := orderParams(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var body postMessageRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		message, err := svc.PostMessage(r.Context(), userID, orderID, body.Body)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, toMessage(*message))
	}
}

func orderAction(fn orderActionFunc, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, orderID, err := orderParams(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		ctx := r.Context()
		if logg != nil {
			ctx = logg.WithOrderID(ctx, orderID.String())
		}
		order, err := fn(ctx, userID, orderID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, toOrder(*order))
	}
}

func orderParams(r *http.Request) (uuid.UUID, uuid.UUID, error) {
	userID, err := actorID(r)
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	orderID, err := validators.ParseUUIDParam(r, "orderId")
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	return userID, orderID, nil
}

func unavailable(logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "service unavailable"))
	}
}
