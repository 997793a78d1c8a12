package main

import (
	"errors"
	"log/slog"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"

	"licensekit"
)

type apiHandler struct {
	controller *licensekit.Controller
	logger     *slog.Logger
	validate   *validator.Validate
}

// newValidator mirrors the teacher's validation-middleware setup: a single
// *validator.Validate instance with JSON tag names substituted into field
// error messages so responses read the same way the request bodies do.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// activateRequestBody is the JSON body for POST /activate.
type activateRequestBody struct {
	Email      string `json:"email" validate:"required,email"`
	LicenseKey string `json:"license_key" validate:"required,min=4"`
}

// trialRequestBody is the JSON body for POST /trial.
type trialRequestBody struct {
	Email string `json:"email" validate:"required,email"`
}

// errorResponse is the JSON shape every failed request renders.
type errorResponse struct {
	HTTPStatusCode int    `json:"-"`
	Error          string `json:"error"`
	Kind           string `json:"kind,omitempty"`
	TraceID        string `json:"trace_id,omitempty"`
}

func (e *errorResponse) Render(w http.ResponseWriter, r *http.Request) error {
	render.Status(r, e.HTTPStatusCode)
	return nil
}

func newErrorResponse(status int, kind, message, traceID string) *errorResponse {
	return &errorResponse{HTTPStatusCode: status, Error: message, Kind: kind, TraceID: traceID}
}

// statusResponse is the JSON shape returned by GET /status.
type statusResponse struct {
	Status     string `json:"status"`
	Message    string `json:"message"`
	ProductUid string `json:"product_uid,omitempty"`
}

// activationResponse is the JSON shape returned after a successful
// activate/trial call.
type activationResponse struct {
	Status      string     `json:"status"`
	ProductUid  string     `json:"product_uid"`
	LicenseType string     `json:"license_type"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

func (h *apiHandler) healthz(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string]string{"status": "ok"})
}

func (h *apiHandler) status(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, statusResponse{
		Status:  string(h.controller.GetStatus()),
		Message: h.controller.GetStatusUserMessage(false),
	})
}

func (h *apiHandler) activate(w http.ResponseWriter, r *http.Request) {
	body := &activateRequestBody{}
	if err := render.DecodeJSON(r.Body, body); err != nil {
		h.renderError(w, r, newErrorResponse(http.StatusBadRequest, "InputError", "malformed request body", h.traceID(r)))
		return
	}
	if err := h.validate.Struct(body); err != nil {
		h.renderError(w, r, newErrorResponse(http.StatusBadRequest, "InputError", formatValidationError(err), h.traceID(r)))
		return
	}

	ctx, cancel := withTimeout(r, 30*time.Second)
	defer cancel()

	activation, err := h.controller.Activate(ctx, body.Email, body.LicenseKey)
	if err != nil {
		h.renderControllerError(w, r, err)
		return
	}

	render.JSON(w, r, activationResponse{
		Status:      string(activation.Status()),
		ProductUid:  activation.ProductUid,
		LicenseType: string(activation.LicenseType),
		ExpiresAt:   activation.ExpiresAt,
	})
}

func (h *apiHandler) trial(w http.ResponseWriter, r *http.Request) {
	body := &trialRequestBody{}
	if err := render.DecodeJSON(r.Body, body); err != nil {
		h.renderError(w, r, newErrorResponse(http.StatusBadRequest, "InputError", "malformed request body", h.traceID(r)))
		return
	}
	if err := h.validate.Struct(body); err != nil {
		h.renderError(w, r, newErrorResponse(http.StatusBadRequest, "InputError", formatValidationError(err), h.traceID(r)))
		return
	}

	ctx, cancel := withTimeout(r, 30*time.Second)
	defer cancel()

	activation, err := h.controller.StartTrial(ctx, body.Email)
	if err != nil {
		h.renderControllerError(w, r, err)
		return
	}

	render.JSON(w, r, activationResponse{
		Status:      string(activation.Status()),
		ProductUid:  activation.ProductUid,
		LicenseType: string(activation.LicenseType),
		ExpiresAt:   activation.ExpiresAt,
	})
}

func (h *apiHandler) traceID(r *http.Request) string {
	return r.Header.Get("X-Request-ID")
}

func (h *apiHandler) renderError(w http.ResponseWriter, r *http.Request, resp *errorResponse) {
	h.logger.WarnContext(r.Context(), "request rejected", slog.String("kind", resp.Kind), slog.String("error", resp.Error))
	render.Render(w, r, resp)
}

// renderControllerError maps the closed licensekit.Kind taxonomy onto HTTP
// status codes, the same per-kind switch the teacher's handlers use to turn
// a typed error into a response.
func (h *apiHandler) renderControllerError(w http.ResponseWriter, r *http.Request, err error) {
	traceID := h.traceID(r)

	var licErr *licensekit.Error
	if !errors.As(err, &licErr) {
		h.logger.ErrorContext(r.Context(), "unexpected error", slog.String("error", err.Error()))
		h.renderError(w, r, newErrorResponse(http.StatusInternalServerError, "", "internal error", traceID))
		return
	}

	status := http.StatusInternalServerError
	switch licErr.Kind {
	case licensekit.KindConfiguration:
		status = http.StatusServiceUnavailable
	case licensekit.KindInput:
		status = http.StatusBadRequest
	case licensekit.KindValidation:
		status = http.StatusForbidden
	case licensekit.KindServer:
		status = http.StatusBadGateway
	case licensekit.KindTransport:
		status = http.StatusGatewayTimeout
	case licensekit.KindCrypto, licensekit.KindStore, licensekit.KindFileShape:
		status = http.StatusInternalServerError
	}

	h.renderError(w, r, newErrorResponse(status, string(licErr.Kind), licErr.Message, traceID))
}

func formatValidationError(err error) string {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err.Error()
	}
	var parts []string
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			parts = append(parts, fe.Field()+" is required")
		case "email":
			parts = append(parts, fe.Field()+" must be a valid email address")
		case "min":
			parts = append(parts, fe.Field()+" is too short")
		default:
			parts = append(parts, fe.Field()+" is invalid")
		}
	}
	return strings.Join(parts, "; ")
}
