package rest

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/dmitrijs2005/cosauth/internal/common"
	"github.com/go-playground/validator/v10"
)

type registerRequest struct {
	Username string `json:"username" validate:"required"`
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required,min=8,maxbytes=72"`
}

// loginRequest accepts a username or an email in Username.
type loginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword" validate:"required"`
	NewPassword     string `json:"newPassword" validate:"required,min=8,maxbytes=72"`
}

// requestError is a 400 with a fixed title and message.
type requestError struct {
	title   string
	message string
}

func (e *requestError) Error() string { return e.message }

func (e *requestError) Unwrap() error { return common.ErrValidation }

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// bcrypt stops at 72 bytes; min and max count characters.
	_ = v.RegisterValidation("maxbytes", func(fl validator.FieldLevel) bool {
		n, err := strconv.Atoi(fl.Param())
		return err == nil && len(fl.Field().String()) <= n
	})
	return v
}

func passwordField(fe validator.FieldError) string {
	if fe.Field() == "NewPassword" {
		return "New password"
	}
	return "Password"
}

// decode reads a JSON body into dst and validates it. missing is the message
// used when required fields are absent.
func decode(r *http.Request, dst any, missing string) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return &requestError{title: "Invalid request body", message: "Request body must be a JSON object"}
	}

	err := validate.Struct(dst)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %w", common.ErrValidation, err)
	}
	for _, fe := range verrs {
		if fe.Tag() == "required" {
			return &requestError{title: "Missing required fields", message: missing}
		}
	}
	fe := verrs[0]
	switch fe.Tag() {
	case "min":
		return &requestError{
			title:   "Invalid password",
			message: fmt.Sprintf("%s must be at least %s characters long", passwordField(fe), fe.Param()),
		}
	case "maxbytes":
		return &requestError{
			title:   "Invalid password",
			message: fmt.Sprintf("%s must be at most %s bytes long", passwordField(fe), fe.Param()),
		}
	default:
		return &requestError{title: "Invalid request", message: fmt.Sprintf("Field %s is invalid", fe.Field())}
	}
}

func writeRequestError(w http.ResponseWriter, err error) {
	var re *requestError
	if errors.As(err, &re) {
		writeError(w, http.StatusBadRequest, re.title, re.message)
		return
	}
	writeFailure(w, "Invalid request", err)
}
