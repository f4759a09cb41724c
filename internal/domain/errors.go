package domain

import (
	"errors"
	"strings"
)

var (
	ErrNotFound    = errors.New("not found")
	ErrValidation  = errors.New("validation failed")
	ErrConflict    = errors.New("conflict")
	ErrUnavailable = errors.New("unavailable")

	// ErrManifestAssetsNotFound - строка манифеста есть, но его ассеты не найдены
	ErrManifestAssetsNotFound = errors.Join(ErrNotFound, errors.New("manifest assets not found"))
)

// ValidationErrors собирает все ошибки загрузки, чтобы вернуть их одним ответом
type ValidationErrors []error

func (v ValidationErrors) Error() string {
	msgs := make([]string, 0, len(v))
	for _, err := range v {
		msgs = append(msgs, err.Error())
	}
	return "validation failed: " + strings.Join(msgs, "; ")
}

func (v ValidationErrors) Unwrap() []error {
	return v
}

func (v ValidationErrors) Is(target error) bool {
	return target == ErrValidation
}

// Messages возвращает тексты ошибок без общего префикса
func (v ValidationErrors) Messages() []string {
	msgs := make([]string, 0, len(v))
	for _, err := range v {
		msgs = append(msgs, strings.TrimPrefix(err.Error(), ErrValidation.Error()+": "))
	}
	return msgs
}

// Flatten раскрывает вложенные ValidationErrors
func (v ValidationErrors) Flatten() ValidationErrors {
	var out ValidationErrors
	for _, err := range v {
		var nested ValidationErrors
		if errors.As(err, &nested) {
			out = append(out, nested.Flatten()...)
			continue
		}
		out = append(out, err)
	}
	return out
}
