package whatsapp

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"

	"wabridge/internal/lib/api/response"
	"wabridge/internal/lib/sl"
	"wabridge/internal/service/whatsapp"
)

// Account is the Graph API account-management surface.
type Account interface {
	ListTemplates(ctx context.Context) ([]whatsapp.TemplateInfo, error)
	ListPhoneNumbers(ctx context.Context) (json.RawMessage, error)
	RegisterNumber(ctx context.Context, cc, phoneNumber, displayName, verifiedName string) (json.RawMessage, error)
	ConfirmNumber(ctx context.Context, phoneNumberID, code string) (json.RawMessage, error)
}

// Templates lists the approved message templates of the account.
func Templates(log *slog.Logger, account Account) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		templates, err := account.ListTemplates(r.Context())
		if err != nil {
			log.With(sl.Err(err)).Error("list templates")
			render.Status(r, http.StatusBadGateway)
			render.JSON(w, r, response.Error("Failed to fetch templates"))
			return
		}
		render.JSON(w, r, response.Ok(templates))
	}
}

// Numbers lists the phone numbers attached to the business account.
func Numbers(log *slog.Logger, account Account) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		numbers, err := account.ListPhoneNumbers(r.Context())
		if err != nil {
			log.With(sl.Err(err)).Error("list phone numbers")
			render.Status(r, http.StatusBadGateway)
			render.JSON(w, r, response.Error("Failed to fetch phone numbers"))
			return
		}
		render.JSON(w, r, response.Ok(numbers))
	}
}

// RegisterNumberRequest registers a new phone number; the provider replies
// with the id of the new number and sends an SMS code to it.
type RegisterNumberRequest struct {
	CC           string `json:"cc" validate:"required"`
	PhoneNumber  string `json:"phone_number" validate:"required"`
	DisplayName  string `json:"display_name" validate:"required"`
	VerifiedName string `json:"verified_name" validate:"required"`
}

func RegisterNumber(log *slog.Logger, account Account) http.HandlerFunc {
	validate := validator.New()
	return func(w http.ResponseWriter, r *http.Request) {
		var req RegisterNumberRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, response.Error("Invalid request body"))
			return
		}
		if err := validate.Struct(req); err != nil {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, response.Error(err.Error()))
			return
		}

		result, err := account.RegisterNumber(r.Context(), req.CC, req.PhoneNumber, req.DisplayName, req.VerifiedName)
		if err != nil {
			log.With(sl.Err(err)).Error("register number")
			render.Status(r, http.StatusBadGateway)
			render.JSON(w, r, response.Error("Failed to register number"))
			return
		}
		render.JSON(w, r, response.Ok(result))
	}
}

// ConfirmNumberRequest confirms a registered number with its SMS code.
type ConfirmNumberRequest struct {
	PhoneNumberID string `json:"phone_number_id" validate:"required"`
	ConfirmCode   string `json:"confirm_code" validate:"required"`
}

func ConfirmNumber(log *slog.Logger, account Account) http.HandlerFunc {
	validate := validator.New()
	return func(w http.ResponseWriter, r *http.Request) {
		var req ConfirmNumberRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, response.Error("Invalid request body"))
			return
		}
		if err := validate.Struct(req); err != nil {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, response.Error(err.Error()))
			return
		}

		result, err := account.ConfirmNumber(r.Context(), req.PhoneNumberID, req.ConfirmCode)
		if err != nil {
			log.With(sl.Err(err)).Error("confirm number")
			render.Status(r, http.StatusBadGateway)
			render.JSON(w, r, response.Error("Failed to confirm number"))
			return
		}
		render.JSON(w, r, response.Ok(result))
	}
}
