package presentation

import (
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/petportre/orders-service/internal/domain"
	"github.com/petportre/orders-service/internal/logger"
	"github.com/petportre/orders-service/internal/presentation/helpers"
)

type attemptView struct {
	Endpoint string `json:"endpoint"`
	Status   int    `json:"status,omitempty"`
	Error    string `json:"error,omitempty"`
	Body     string `json:"body,omitempty"`
}

type carrierErrorView struct {
	OK       bool          `json:"ok"`
	Error    string        `json:"error"`
	Attempts []attemptView `json:"attempts"`
	LastBody string        `json:"lastBody,omitempty"`
}

// writeError is the single place domain errors become HTTP statuses.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		verrs validator.ValidationErrors
		cerr  *domain.CarrierUnavailableError
	)
	switch {
	case errors.Is(err, domain.ErrMissingIdentifier):
		helpers.HttpError(w, http.StatusBadRequest, domain.ErrMissingIdentifier.Error())
	case errors.As(err, &verrs):
		helpers.HttpError(w, http.StatusBadRequest, validationMessage(verrs))
	case errors.Is(err, helpers.ErrBodyTooLarge):
		helpers.HttpError(w, http.StatusRequestEntityTooLarge, err.Error())
	case errors.Is(err, domain.ErrUnauthorized):
		helpers.HttpError(w, http.StatusUnauthorized, "unauthorized")
	case errors.Is(err, domain.ErrNotFound):
		helpers.HttpError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrShipmentNotCreated), errors.Is(err, domain.ErrDeliveryRegressed):
		helpers.HttpError(w, http.StatusConflict, err.Error())
	case errors.As(err, &cerr):
		logger.FromContext(r.Context()).Warnw("carrier unavailable", "op", cerr.Op, "err", err)
		view := carrierErrorView{Error: cerr.Error(), Attempts: []attemptView{}, LastBody: cerr.LastBody}
		for _, a := range cerr.Attempts {
			view.Attempts = append(view.Attempts, attemptView{Endpoint: a.Endpoint, Status: a.Status, Error: a.Err, Body: a.Body})
		}
		helpers.WriteJSON(w, http.StatusBadGateway, view)
	default:
		logger.FromContext(r.Context()).Errorw("request failed", "path", r.URL.Path, "err", err)
		helpers.HttpError(w, http.StatusInternalServerError, "internal error")
	}
}

func validationMessage(errs validator.ValidationErrors) string {
	if len(errs) == 0 {
		return "invalid request"
	}
	e := errs[0]
	switch e.Tag() {
	case "required_without", "required_without_all":
		return e.Field() + " required"
	case "oneof":
		return e.Field() + " must be one of: " + e.Param()
	default:
		return e.Field() + " is invalid"
	}
}
