package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

type CreateSubscriptionRequest struct {
	TenantID  string     `json:"tenant_id"`
	PlanCode  string     `json:"plan_code"`
	StartDate *time.Time `json:"start_date,omitempty"`
}

type Service interface {
	Create(ctx context.Context, req CreateSubscriptionRequest) (*Detail, error)
	GetByID(ctx context.Context, id string) (*Detail, error)
	// ListDue returns live subscriptions whose period has ended at now.
	ListDue(ctx context.Context, now time.Time, limit int) ([]Subscription, error)
	TransitionStatus(ctx context.Context, id snowflake.ID, target SubscriptionStatus) error
	Cancel(ctx context.Context, id string) (*Subscription, error)
	SetProcessorCustomerID(ctx context.Context, id snowflake.ID, customerID string) error
}

var (
	ErrSubscriptionNotFound    = errors.New("subscription_not_found")
	ErrSubscriptionExists      = errors.New("subscription_exists")
	ErrSubscriptionInactive    = errors.New("subscription_inactive")
	ErrInvalidSubscription     = errors.New("invalid_subscription")
	ErrInvalidTenant           = errors.New("invalid_tenant_id")
	ErrInvalidStartDate        = errors.New("invalid_start_date")
	ErrInvalidStatusTransition = errors.New("invalid_status_transition")
	ErrLimitsNotFound          = errors.New("subscription_limits_not_found")
)

// CanTransition reports whether from -> to is allowed. Cancelled is terminal.
func CanTransition(from, to SubscriptionStatus) bool {
	switch from {
	case SubscriptionStatusActive:
		return to == SubscriptionStatusPastDue || to == SubscriptionStatusCancelled
	case SubscriptionStatusPastDue:
		return to == SubscriptionStatusActive || to == SubscriptionStatusCancelled
	default:
		return false
	}
}
