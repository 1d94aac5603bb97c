package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	gainsharedomain "github.com/smallbiznis/creditledger/internal/gainshare/domain"
	"gorm.io/datatypes"
)

type calculateGainShareRequest struct {
	TenantID    string          `json:"tenant_id"`
	PeriodStart string          `json:"period_start"`
	PeriodEnd   string          `json:"period_end"`
	SharePct    decimal.Decimal `json:"share_pct"`
}

type gainShareDecisionRequest struct {
	Actor string `json:"actor"`
}

type gainShareRunResponse struct {
	GainShareRunID    string            `json:"gainshare_run_id"`
	TenantID          string            `json:"tenant_id"`
	PeriodStart       time.Time         `json:"period_start"`
	PeriodEnd         time.Time         `json:"period_end"`
	CalculatedSavings decimal.Decimal   `json:"calculated_savings"`
	SharePct          decimal.Decimal   `json:"share_pct"`
	Fee               decimal.Decimal   `json:"fee"`
	Status            string            `json:"status"`
	SavingsBreakdown  datatypes.JSONMap `json:"savings_breakdown"`
	DecidedBy         *string           `json:"decided_by,omitempty"`
	DecidedAt         *time.Time        `json:"decided_at,omitempty"`
}

func newGainShareRunResponse(run *gainsharedomain.GainShareRun) gainShareRunResponse {
	return gainShareRunResponse{
		GainShareRunID:    run.ID.String(),
		TenantID:          run.TenantID,
		PeriodStart:       run.PeriodStart,
		PeriodEnd:         run.PeriodEnd,
		CalculatedSavings: run.CalculatedSavings,
		SharePct:          run.SharePct,
		Fee:               run.Fee,
		Status:            string(run.Status),
		SavingsBreakdown:  run.Report,
		DecidedBy:         run.DecidedBy,
		DecidedAt:         run.DecidedAt,
	}
}

func (s *Server) CreateBaseline(c *gin.Context) {
	var req gainsharedomain.CreateBaselineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	baseline, err := s.gainShareSvc.CreateBaseline(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": baseline})
}

func (s *Server) RecordMeasurement(c *gin.Context) {
	var req gainsharedomain.RecordMeasurementRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	measurement, err := s.gainShareSvc.RecordMeasurement(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": measurement})
}

func (s *Server) CalculateGainShare(c *gin.Context) {
	var req calculateGainShareRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	start, err := parseRequiredDate(req.PeriodStart)
	if err != nil {
		AbortWithError(c, newValidationError("period_start", "invalid_period_start", "invalid period_start"))
		return
	}
	end, err := parseRequiredDate(req.PeriodEnd)
	if err != nil {
		AbortWithError(c, newValidationError("period_end", "invalid_period_end", "invalid period_end"))
		return
	}

	run, err := s.gainShareSvc.Calculate(c.Request.Context(), gainsharedomain.CalculateRequest{
		TenantID:    strings.TrimSpace(req.TenantID),
		PeriodStart: start,
		PeriodEnd:   end,
		SharePct:    req.SharePct,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, newGainShareRunResponse(run))
}

func (s *Server) GetGainShareRun(c *gin.Context) {
	run, err := s.gainShareSvc.GetByID(c.Request.Context(), strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": newGainShareRunResponse(run)})
}

func (s *Server) ListGainShareRuns(c *gin.Context) {
	var req gainsharedomain.ListRunsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.gainShareSvc.List(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	runs := make([]gainShareRunResponse, 0, len(resp.Runs))
	for i := range resp.Runs {
		runs = append(runs, newGainShareRunResponse(&resp.Runs[i]))
	}

	c.JSON(http.StatusOK, gin.H{
		"data":      runs,
		"page_info": resp.PageInfo,
	})
}

func (s *Server) ApproveGainShareRun(c *gin.Context) {
	s.decideGainShareRun(c, s.gainShareSvc.Approve)
}

func (s *Server) RejectGainShareRun(c *gin.Context) {
	s.decideGainShareRun(c, s.gainShareSvc.Reject)
}

func (s *Server) decideGainShareRun(c *gin.Context, decide func(ctx context.Context, req gainsharedomain.DecisionRequest) (*gainsharedomain.GainShareRun, error)) {
	var req gainShareDecisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	run, err := decide(c.Request.Context(), gainsharedomain.DecisionRequest{
		RunID: strings.TrimSpace(c.Param("id")),
		Actor: strings.TrimSpace(req.Actor),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, newGainShareRunResponse(run))
}

func parseRequiredDate(value string) (time.Time, error) {
	parsed, err := parseOptionalDate(value)
	if err != nil {
		return time.Time{}, err
	}
	if parsed == nil {
		return time.Time{}, gainsharedomain.ErrInvalidPeriod
	}
	return *parsed, nil
}
