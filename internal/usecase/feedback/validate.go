package feedback

import (
	"fmt"
	"strings"

	"feedback-hub/internal/domain"
	"feedback-hub/internal/infra/metrics"
)

// ValidationError — ошибка валидации с указанием поля и причины.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("валидация %s: %s", e.Field, e.Reason)
}

func validationError(field, reason string) error {
	metrics.SubmitValidationErrors.WithLabelValues(field).Inc()
	return &ValidationError{Field: field, Reason: reason}
}

func validateCreateRequest(req CreateRequest) error {
	if strings.TrimSpace(req.Message) == "" {
		return validationError("message", "обязательное поле")
	}
	if len([]rune(req.Message)) > domain.MaxMessageLength {
		return validationError("message", fmt.Sprintf("длина не может превышать %d символов", domain.MaxMessageLength))
	}
	if len(req.PredefinedOptions) > domain.MaxOptionsCount {
		return validationError("predefinedOptions", fmt.Sprintf("не более %d вариантов", domain.MaxOptionsCount))
	}
	for i, option := range req.PredefinedOptions {
		if strings.TrimSpace(option) == "" {
			return validationError("predefinedOptions", fmt.Sprintf("вариант [%d] пуст", i))
		}
		if len([]rune(option)) > domain.MaxOptionLength {
			return validationError("predefinedOptions", fmt.Sprintf("вариант [%d] длиннее %d символов", i, domain.MaxOptionLength))
		}
	}
	if req.TimeoutSeconds < 0 {
		return validationError("timeout", "не может быть отрицательным")
	}
	return nil
}

// validateSubmitRequest проверяет отправку против сессии: нужен хотя бы
// один из selectedOptions и непустого freeText, каждый выбранный
// вариант обязан точно совпадать с одним из predefinedOptions.
func validateSubmitRequest(req SubmitRequest, session domain.FeedbackSession) error {
	if len(req.SelectedOptions) == 0 && strings.TrimSpace(req.FreeText) == "" {
		return validationError("feedback", "нужны selectedOptions или непустой freeText")
	}
	if len(req.SelectedOptions) > 0 && len(session.PredefinedOptions) == 0 {
		return validationError("selectedOptions", "сессия не содержит предопределённых вариантов")
	}
	for _, option := range req.SelectedOptions {
		if !containsOption(session.PredefinedOptions, option) {
			return validationError("selectedOptions", fmt.Sprintf("%q нет среди предопределённых вариантов", option))
		}
	}
	if len([]rune(req.FreeText)) > domain.MaxFreeTextLength {
		return validationError("freeText", fmt.Sprintf("длина не может превышать %d символов", domain.MaxFreeTextLength))
	}
	return nil
}

func containsOption(options []string, option string) bool {
	for _, candidate := range options {
		if candidate == option {
			return true
		}
	}
	return false
}
