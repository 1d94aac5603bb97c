package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	usagedomain "github.com/smallbiznis/creditledger/internal/usage/domain"
)

type trackUsageResponse struct {
	OK               bool    `json:"ok"`
	EventID          string  `json:"event_id"`
	CreditsBurned    int64   `json:"credits_burned"`
	RemainingCredits int64   `json:"remaining_credits"`
	OverageCredits   int64   `json:"overage_credits"`
	UsagePercent     float64 `json:"usage_percent"`
	Alert            *string `json:"alert"`
	Replayed         bool    `json:"replayed,omitempty"`
}

func (s *Server) TrackUsage(c *gin.Context) {
	var req usagedomain.TrackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if eventType := strings.TrimSpace(req.EventType); eventType != "" {
		c.Set("event_type", eventType)
	}

	result, err := s.usageSvc.Track(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp := trackUsageResponse{
		OK:               true,
		EventID:          result.EventID.String(),
		CreditsBurned:    result.CreditsBurned,
		RemainingCredits: result.RemainingCredits,
		OverageCredits:   result.OverageCredits,
		UsagePercent:     result.UsagePercent,
		Replayed:         result.Replayed,
	}
	if result.Alert != usagedomain.AlertNone {
		alert := string(result.Alert)
		resp.Alert = &alert
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) UsageSummary(c *gin.Context) {
	subscriptionID := strings.TrimSpace(c.Query("subscriptionId"))
	if subscriptionID == "" {
		subscriptionID = strings.TrimSpace(c.Query("subscription_id"))
	}

	summary, err := s.usageSvc.Summary(c.Request.Context(), usagedomain.SummaryRequest{
		SubscriptionID: subscriptionID,
		Period:         strings.TrimSpace(c.Query("period")),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, summary)
}

func (s *Server) ListUsageEvents(c *gin.Context) {
	var req usagedomain.ListEventsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.SubscriptionID = strings.TrimSpace(req.SubscriptionID)
	req.EventType = strings.TrimSpace(req.EventType)

	resp, err := s.usageSvc.ListEvents(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":      resp.Events,
		"page_info": resp.PageInfo,
	})
}

func (s *Server) RebuildBalance(c *gin.Context) {
	result, err := s.usageSvc.RebuildBalance(c.Request.Context(), strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": result})
}
