package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	subscriptiondomain "github.com/smallbiznis/creditledger/internal/subscription/domain"
)

type createSubscriptionRequest struct {
	TenantID  string `json:"tenant_id"`
	PlanCode  string `json:"plan_code"`
	StartDate string `json:"start_date"`
}

type subscriptionResponse struct {
	SubscriptionID     string    `json:"subscription_id"`
	TenantID           string    `json:"tenant_id"`
	PlanCode           string    `json:"plan_code"`
	Status             string    `json:"status"`
	Currency           string    `json:"currency"`
	CurrentPeriodStart time.Time `json:"current_period_start"`
	CurrentPeriodEnd   time.Time `json:"current_period_end"`
	IncludedCredits    int64     `json:"included_credits"`
	RemainingCredits   int64     `json:"remaining_credits"`
}

func newSubscriptionResponse(detail *subscriptiondomain.Detail) subscriptionResponse {
	resp := subscriptionResponse{
		SubscriptionID:     detail.ID.String(),
		TenantID:           detail.TenantID,
		PlanCode:           detail.PlanCode,
		Status:             string(detail.Status),
		Currency:           detail.Currency,
		CurrentPeriodStart: detail.CurrentPeriodStart,
		CurrentPeriodEnd:   detail.CurrentPeriodEnd,
	}
	if detail.Limits != nil {
		resp.IncludedCredits = detail.Limits.IncludedCredits
		resp.RemainingCredits = detail.Limits.RemainingCredits
	}
	return resp
}

func (s *Server) CreateSubscription(c *gin.Context) {
	var req createSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	startDate, err := parseOptionalDate(req.StartDate)
	if err != nil {
		AbortWithError(c, subscriptiondomain.ErrInvalidStartDate)
		return
	}

	detail, err := s.subscriptionSvc.Create(c.Request.Context(), subscriptiondomain.CreateSubscriptionRequest{
		TenantID:  strings.TrimSpace(req.TenantID),
		PlanCode:  strings.TrimSpace(req.PlanCode),
		StartDate: startDate,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, newSubscriptionResponse(detail))
}

func (s *Server) GetSubscription(c *gin.Context) {
	detail, err := s.subscriptionSvc.GetByID(c.Request.Context(), strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": newSubscriptionResponse(detail)})
}

func (s *Server) CancelSubscription(c *gin.Context) {
	subscription, err := s.subscriptionSvc.Cancel(c.Request.Context(), strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": subscription})
}

// parseOptionalDate accepts RFC3339 or a bare YYYY-MM-DD date in UTC.
func parseOptionalDate(value string) (*time.Time, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, nil
	}
	if parsed, err := time.Parse(time.RFC3339, trimmed); err == nil {
		return &parsed, nil
	}
	parsed, err := time.Parse(time.DateOnly, trimmed)
	if err != nil {
		return nil, err
	}
	return &parsed, nil
}
