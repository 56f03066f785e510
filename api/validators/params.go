package validators

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	pkgerrors "github.com/angelmondragon/fieldsync/pkg/errors"
)

const dayLayout = "2006-01-02"

// ParseDayParam reads a YYYY-MM-DD path parameter.
func ParseDayParam(r *http.Request, key string) (string, error) {
	raw := strings.TrimSpace(chi.URLParam(r, key))
	if raw == "" {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "date is required").WithDetails(map[string]any{"field": key})
	}
	if _, err := time.Parse(dayLayout, raw); err != nil {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "date must be YYYY-MM-DD").WithDetails(map[string]any{"field": key, "value": raw})
	}
	return raw, nil
}

func ParseRequiredParam(r *http.Request, key string) (string, error) {
	raw := strings.TrimSpace(chi.URLParam(r, key))
	if raw == "" {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "path parameter is required").WithDetails(map[string]any{"field": key})
	}
	return raw, nil
}

func ParseUUIDParam(r *http.Request, key string) (uuid.UUID, error) {
	raw, err := ParseRequiredParam(r, key)
	if err != nil {
		return uuid.Nil, err
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "path parameter must be a uuid").WithDetails(map[string]any{"field": key})
	}
	return id, nil
}
