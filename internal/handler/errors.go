package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"

	"github.com/Ablestor/expo-electron-updates-server/internal/domain"
)

var validate = newValidator()

// newValidator называет поля так же, как они приходят в запросе
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("electron_platform", func(fl validator.FieldLevel) bool {
		_, ok := domain.ParseElectronPlatform(fl.Field().String())
		return ok
	})
	return v
}

type errorDetail struct {
	Errors []string `json:"errors"`
}

type errorResponse struct {
	Message string       `json:"message"`
	Detail  *errorDetail `json:"detail,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

// writeError переводит доменные ошибки в HTTP статусы
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var verrs domain.ValidationErrors
	switch {
	case errors.As(err, &verrs):
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Message: domain.ErrValidation.Error(),
			Detail:  &errorDetail{Errors: verrs.Messages()},
		})
	case errors.Is(err, domain.ErrValidation):
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Message: domain.ErrValidation.Error(),
			Detail:  &errorDetail{Errors: domain.ValidationErrors{err}.Messages()},
		})
	case errors.Is(err, domain.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Message: err.Error()})
	case errors.Is(err, domain.ErrConflict):
		writeJSON(w, http.StatusConflict, errorResponse{Message: err.Error()})
	case errors.Is(err, domain.ErrUnavailable):
		writeJSON(w, http.StatusBadRequest, errorResponse{Message: err.Error()})
	default:
		log.Error().Err(err).Str("method", r.Method).Str("path", r.URL.Path).Msg("request failed")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Message: "internal server error"})
	}
}

// validateRequest проверяет структуру запроса и возвращает ошибки в доменном виде
func validateRequest(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}

	out := make(domain.ValidationErrors, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		out = append(out, fieldError(fe))
	}
	return out
}

func fieldError(fe validator.FieldError) error {
	// имя корневой структуры клиенту ничего не говорит
	_, field, ok := strings.Cut(fe.Namespace(), ".")
	if !ok {
		field = fe.Field()
	}

	switch fe.Tag() {
	case "required":
		return fmt.Errorf("%w: %s is required", domain.ErrValidation, field)
	case "oneof":
		return fmt.Errorf("%w: %s must be one of [%s]", domain.ErrValidation, field, fe.Param())
	case "electron_platform":
		return fmt.Errorf("%w: %s must be one of %v", domain.ErrValidation, field, domain.ElectronPlatforms)
	default:
		return fmt.Errorf("%w: %s failed on %q", domain.ErrValidation, field, fe.Tag())
	}
}
