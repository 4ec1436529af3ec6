package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/kart-fulfillment/internal/domain/auth"
	"github.com/xenking/kart-fulfillment/internal/domain/order"
	"github.com/xenking/kart-fulfillment/internal/domain/product"
)

// inputError reports a request that could not be decoded.
type inputError struct {
	err error
}

func (e *inputError) Error() string { return e.err.Error() }
func (e *inputError) Unwrap() error { return e.err }

func invalidInput(err error) error { return &inputError{err: err} }

// apiError is the response for one failure class.
type apiError struct {
	status int
	code   string
}

var kindErrors = map[order.Kind]apiError{
	order.KindInsufficientStock:      {http.StatusConflict, "insufficient_stock"},
	order.KindConcurrencyConflict:    {http.StatusConflict, "concurrency_conflict"},
	order.KindNotFound:               {http.StatusNotFound, "not_found"},
	order.KindInvalidStateTransition: {http.StatusUnprocessableEntity, "invalid_state_transition"},
	order.KindInvalidInput:           {http.StatusBadRequest, "invalid_input"},
	order.KindForbidden:              {http.StatusForbidden, "forbidden"},
	order.KindCancelled:              {http.StatusGatewayTimeout, "cancelled"},
}

func classify(err error) apiError {
	var ie *inputError
	switch {
	case errors.Is(err, auth.ErrUnauthorized):
		return apiError{http.StatusUnauthorized, "unauthorized"}
	case errors.As(err, &ie):
		return apiError{http.StatusBadRequest, "invalid_input"}
	case errors.Is(err, product.ErrNotFound), errors.Is(err, auth.ErrCustomerNotFound):
		return apiError{http.StatusNotFound, "not_found"}
	case errors.Is(err, order.ErrExpired):
		return apiError{http.StatusUnprocessableEntity, "expired"}
	case errors.Is(err, order.ErrNoQueue):
		return apiError{http.StatusServiceUnavailable, "unavailable"}
	}
	if e, ok := kindErrors[order.KindOf(err)]; ok {
		return e
	}
	return apiError{http.StatusInternalServerError, "internal"}
}

// writeError answers with {"error": code, "message": text}. Internal errors
// are logged and their text is not sent.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	e := classify(err)
	msg := err.Error()
	if e.status == http.StatusInternalServerError {
		zctx.From(r.Context()).Error("Request failed", zap.Error(err))
		msg = "internal server error"
	}
	if e.status == http.StatusUnauthorized {
		msg = "missing or invalid api key"
	}

	var enc jx.Encoder
	enc.ObjStart()
	enc.FieldStart("error")
	enc.Str(e.code)
	enc.FieldStart("message")
	enc.Str(msg)
	enc.ObjEnd()
	writeJSON(w, e.status, &enc)
}

func writeJSON(w http.ResponseWriter, status int, e *jx.Encoder) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}
