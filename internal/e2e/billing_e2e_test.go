package e2e

import (
	"net/http"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

type subscriptionBody struct {
	SubscriptionID     string    `json:"subscription_id"`
	TenantID           string    `json:"tenant_id"`
	PlanCode           string    `json:"plan_code"`
	Status             string    `json:"status"`
	CurrentPeriodStart time.Time `json:"current_period_start"`
	CurrentPeriodEnd   time.Time `json:"current_period_end"`
	IncludedCredits    int64     `json:"included_credits"`
	RemainingCredits   int64     `json:"remaining_credits"`
}

type trackBody struct {
	OK               bool    `json:"ok"`
	EventID          string  `json:"event_id"`
	CreditsBurned    int64   `json:"credits_burned"`
	RemainingCredits int64   `json:"remaining_credits"`
	OverageCredits   int64   `json:"overage_credits"`
	UsagePercent     float64 `json:"usage_percent"`
	Alert            *string `json:"alert"`
}

type invoiceBody struct {
	InvoiceID      string          `json:"invoice_id"`
	SubscriptionID string          `json:"subscription_id"`
	Status         string          `json:"status"`
	PeriodStart    time.Time       `json:"period_start"`
	PeriodEnd      time.Time       `json:"period_end"`
	Total          decimal.Decimal `json:"total"`
	SyncStatus     string          `json:"processor_sync_status"`
	Existing       bool            `json:"existing"`
	Breakdown      struct {
		Base         decimal.Decimal `json:"base"`
		AssetUplift  decimal.Decimal `json:"asset_uplift"`
		UsageOverage decimal.Decimal `json:"usage_overage"`
		Tax          decimal.Decimal `json:"tax"`
	} `json:"breakdown"`
}

func createSubscription(t *testing.T, tenantID, planCode string) subscriptionBody {
	t.Helper()
	resp, body := doJSON(t, http.MethodPost, env.baseURL+"/subscriptions", map[string]any{
		"tenant_id": tenantID,
		"plan_code": planCode,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected status 201 for subscription, got %d: %s", resp.StatusCode, string(body))
	}
	var sub subscriptionBody
	decodeJSON(t, body, &sub)
	if sub.SubscriptionID == "" {
		t.Fatalf("expected subscription id in response: %s", string(body))
	}
	return sub
}

func trackUsage(t *testing.T, tenantID, subscriptionID, eventType string, meta map[string]any) trackBody {
	t.Helper()
	resp, body := doJSON(t, http.MethodPost, env.baseURL+"/usage/track", map[string]any{
		"tenant_id":       tenantID,
		"subscription_id": subscriptionID,
		"event_type":      eventType,
		"meta":            meta,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200 for usage track, got %d: %s", resp.StatusCode, string(body))
	}
	var result trackBody
	decodeJSON(t, body, &result)
	return result
}

func mustDecimal(t *testing.T, value string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(value)
	if err != nil {
		t.Fatalf("parse decimal %q: %v", value, err)
	}
	return d
}

func TestE2E_BillingLifecycle(t *testing.T) {
	env.clock.Set(time.Date(2026, 1, 31, 9, 0, 0, 0, time.UTC))
	tenantID := uniqueTenant("lifecycle")

	sub := createSubscription(t, tenantID, "STARTER")
	wantStart := time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC)
	wantEnd := time.Date(2026, 2, 28, 0, 0, 0, 0, time.UTC)
	if !sub.CurrentPeriodStart.Equal(wantStart) || !sub.CurrentPeriodEnd.Equal(wantEnd) {
		t.Fatalf("expected period %s..%s, got %s..%s", wantStart, wantEnd, sub.CurrentPeriodStart, sub.CurrentPeriodEnd)
	}
	if sub.RemainingCredits != 250000 {
		t.Fatalf("expected 250000 remaining credits, got %d", sub.RemainingCredits)
	}

	resp, body := doJSON(t, http.MethodPost, env.baseURL+"/subscriptions", map[string]any{
		"tenant_id": tenantID,
		"plan_code": "PRO",
	})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected status 409 for second subscription, got %d: %s", resp.StatusCode, string(body))
	}

	resp, body = doJSON(t, http.MethodPost, env.baseURL+"/assets/snapshots", map[string]any{
		"tenant_id":   tenantID,
		"asset_count": 250,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected status 201 for asset snapshot, got %d: %s", resp.StatusCode, string(body))
	}

	llm := trackUsage(t, tenantID, sub.SubscriptionID, "LLM_token_usage", map[string]any{
		"total_tokens": 250500000,
	})
	if llm.CreditsBurned != 250500 {
		t.Fatalf("expected 250500 credits burned, got %d", llm.CreditsBurned)
	}
	if llm.OverageCredits != 500 {
		t.Fatalf("expected 500 overage credits, got %d", llm.OverageCredits)
	}
	if llm.Alert == nil || *llm.Alert != "OVERAGE" {
		t.Fatalf("expected OVERAGE alert, got %v", llm.Alert)
	}

	job := trackUsage(t, tenantID, sub.SubscriptionID, "optimizer_job", nil)
	if job.CreditsBurned != 500 || job.OverageCredits != 1000 {
		t.Fatalf("expected 500 burned and 1000 overage, got %d and %d", job.CreditsBurned, job.OverageCredits)
	}

	resp, body = doJSON(t, http.MethodPost, env.baseURL+"/usage/track", map[string]any{
		"tenant_id":       tenantID,
		"subscription_id": sub.SubscriptionID,
		"event_type":      "teleport",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected status 400 for unknown event type, got %d: %s", resp.StatusCode, string(body))
	}
	if code := errorCode(t, body); code != "unknown_event_type" {
		t.Fatalf("expected unknown_event_type, got %s", code)
	}

	resp, body = doJSON(t, http.MethodGet, env.baseURL+"/usage/summary?subscriptionId="+sub.SubscriptionID+"&period=2026-01", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200 for summary, got %d: %s", resp.StatusCode, string(body))
	}
	var summary struct {
		Period       string `json:"period"`
		TotalCredits int64  `json:"total_credits"`
		ByType       map[string]struct {
			Count   int64 `json:"count"`
			Credits int64 `json:"credits"`
		} `json:"by_type"`
	}
	decodeJSON(t, body, &summary)
	if summary.TotalCredits != 251000 {
		t.Fatalf("expected 251000 credits in summary, got %d", summary.TotalCredits)
	}
	if summary.ByType["optimizer_job"].Count != 1 {
		t.Fatalf("expected one optimizer_job in summary, got %+v", summary.ByType)
	}

	generate := map[string]any{"subscription_id": sub.SubscriptionID}
	resp, body = doJSON(t, http.MethodPost, env.baseURL+"/internal/invoices/generate", generate)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected status 409 before period end, got %d: %s", resp.StatusCode, string(body))
	}

	env.clock.Set(time.Date(2026, 2, 28, 0, 0, 1, 0, time.UTC))

	resp, body = doJSON(t, http.MethodPost, env.baseURL+"/internal/invoices/generate", generate)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected status 201 for invoice, got %d: %s", resp.StatusCode, string(body))
	}
	var inv invoiceBody
	decodeJSON(t, body, &inv)
	if !inv.Total.Equal(mustDecimal(t, "651")) {
		t.Fatalf("expected total 651, got %s", inv.Total)
	}
	if !inv.Breakdown.Base.Equal(mustDecimal(t, "499")) ||
		!inv.Breakdown.AssetUplift.Equal(mustDecimal(t, "150")) ||
		!inv.Breakdown.UsageOverage.Equal(mustDecimal(t, "2")) {
		t.Fatalf("unexpected breakdown: %+v", inv.Breakdown)
	}
	if !inv.Breakdown.Tax.IsZero() {
		t.Fatalf("expected zero tax, got %s", inv.Breakdown.Tax)
	}
	if !inv.PeriodStart.Equal(wantStart) || !inv.PeriodEnd.Equal(wantEnd) {
		t.Fatalf("expected invoice period %s..%s, got %s..%s", wantStart, wantEnd, inv.PeriodStart, inv.PeriodEnd)
	}
	if inv.Existing {
		t.Fatalf("expected a fresh invoice")
	}

	resp, body = doJSON(t, http.MethodPost, env.baseURL+"/internal/invoices/generate", generate)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200 for repeat generate, got %d: %s", resp.StatusCode, string(body))
	}
	var again invoiceBody
	decodeJSON(t, body, &again)
	if !again.Existing || again.InvoiceID != inv.InvoiceID {
		t.Fatalf("expected existing invoice %s, got %s (existing=%v)", inv.InvoiceID, again.InvoiceID, again.Existing)
	}

	resp, body = doJSON(t, http.MethodGet, env.baseURL+"/subscriptions/"+sub.SubscriptionID, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200 for subscription, got %d: %s", resp.StatusCode, string(body))
	}
	var rolled struct {
		Data subscriptionBody `json:"data"`
	}
	decodeJSON(t, body, &rolled)
	if rolled.Data.RemainingCredits != 250000 {
		t.Fatalf("expected credits reset to 250000, got %d", rolled.Data.RemainingCredits)
	}
	nextEnd := time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC)
	if !rolled.Data.CurrentPeriodStart.Equal(wantEnd) || !rolled.Data.CurrentPeriodEnd.Equal(nextEnd) {
		t.Fatalf("expected period %s..%s, got %s..%s", wantEnd, nextEnd, rolled.Data.CurrentPeriodStart, rolled.Data.CurrentPeriodEnd)
	}

	resp, body = doJSON(t, http.MethodGet, env.baseURL+"/invoices/"+inv.InvoiceID+"/pdf", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200 for pdf, got %d: %s", resp.StatusCode, string(body))
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/pdf" {
		t.Fatalf("expected application/pdf, got %s", ct)
	}

	resp, body = doJSON(t, http.MethodGet, env.baseURL+"/audit-logs?tenant_id="+tenantID, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200 for audit logs, got %d: %s", resp.StatusCode, string(body))
	}
	var logs struct {
		Data []struct {
			Action string `json:"action"`
		} `json:"data"`
	}
	decodeJSON(t, body, &logs)
	actions := map[string]bool{}
	for _, entry := range logs.Data {
		actions[entry.Action] = true
	}
	for _, action := range []string{"subscription.create", "invoice.generate"} {
		if !actions[action] {
			t.Fatalf("expected audit action %s, got %v", action, actions)
		}
	}
}

func TestE2E_InvoiceSyncSkipsWithoutProcessor(t *testing.T) {
	resp, body := doJSON(t, http.MethodPost, env.baseURL+"/internal/invoices/sync", map[string]any{"limit": 10})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200 for sync, got %d: %s", resp.StatusCode, string(body))
	}
}

func TestE2E_StripeWebhookDisabled(t *testing.T) {
	resp, body := doJSON(t, http.MethodPost, env.baseURL+"/webhooks/stripe", map[string]any{"type": "invoice.paid"})
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503 without processor, got %d: %s", resp.StatusCode, string(body))
	}
}
