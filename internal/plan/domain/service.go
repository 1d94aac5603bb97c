package domain

import (
	"context"
	"errors"
	"strings"
)

var (
	ErrPlanNotFound    = errors.New("plan_not_found")
	ErrInvalidPlanCode = errors.New("invalid_plan_code")
	ErrInvalidPlanID   = errors.New("invalid_plan_id")
)

type Service interface {
	// GetByCode returns the latest version of a plan.
	GetByCode(ctx context.Context, code string) (*Plan, error)
	GetByID(ctx context.Context, id string) (*Plan, error)
	List(ctx context.Context) ([]Plan, error)
}

// NormalizeCode upper-cases and validates a plan code.
func NormalizeCode(raw string) (Code, error) {
	code := Code(strings.ToUpper(strings.TrimSpace(raw)))
	if code == "" {
		return "", ErrInvalidPlanCode
	}
	return code, nil
}
