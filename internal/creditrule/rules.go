// Package creditrule converts usage events into credits.
//
// Built-in event types are a closed set resolved by an exhaustive switch.
// Additional types can be registered through billing.yml; anything else is
// rejected with ErrUnknownEventType before a ledger write happens.
package creditrule

import (
	"encoding/json"
	"errors"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/smallbiznis/creditledger/internal/config"
)

type EventType string

const (
	EventTypeLLMTokenUsage    EventType = "LLM_token_usage"
	EventTypeVisionFrameBatch EventType = "vision_frame_batch"
	EventTypeOptimizerJob     EventType = "optimizer_job"
	EventTypeSimulatorRun     EventType = "simulator_run"
)

var (
	ErrUnknownEventType = errors.New("unknown_event_type")
	ErrInvalidUnits     = errors.New("invalid_units")
)

// Rule prices one event type as PerUnitCost * ceil(count / UnitSize).
// A flat rule always counts one unit.
type Rule struct {
	EventType   EventType `json:"event_type"`
	PerUnitCost int64     `json:"per_unit_cost"`
	UnitSize    float64   `json:"unit_size,omitempty"`
	MetaKey     string    `json:"meta_key,omitempty"`
	Flat        bool      `json:"flat"`
	Builtin     bool      `json:"builtin"`
}

// Result is the frozen outcome of pricing one event.
type Result struct {
	EventType EventType
	Units     float64
	Credits   int64
}

func builtinRule(eventType EventType) (Rule, bool) {
	switch eventType {
	case EventTypeLLMTokenUsage:
		return Rule{EventType: eventType, PerUnitCost: 1, UnitSize: 1000, MetaKey: "total_tokens", Builtin: true}, true
	case EventTypeVisionFrameBatch:
		return Rule{EventType: eventType, PerUnitCost: 5, UnitSize: 100, MetaKey: "frames", Builtin: true}, true
	case EventTypeOptimizerJob:
		return Rule{EventType: eventType, PerUnitCost: 500, Flat: true, Builtin: true}, true
	case EventTypeSimulatorRun:
		return Rule{EventType: eventType, PerUnitCost: 1000, Flat: true, Builtin: true}, true
	default:
		return Rule{}, false
	}
}

var builtinTypes = []EventType{
	EventTypeLLMTokenUsage,
	EventTypeVisionFrameBatch,
	EventTypeOptimizerJob,
	EventTypeSimulatorRun,
}

// ComputeCredits prices an event against the built-in rules only.
func ComputeCredits(eventType EventType, meta map[string]any) (int64, error) {
	rule, ok := builtinRule(eventType)
	if !ok {
		return 0, ErrUnknownEventType
	}
	res, err := rule.Apply(nil, meta)
	if err != nil {
		return 0, err
	}
	return res.Credits, nil
}

// Apply computes credits for one event. The unit count comes from
// meta[MetaKey] when present, otherwise from units.
func (r Rule) Apply(units *float64, meta map[string]any) (Result, error) {
	res := Result{EventType: r.EventType}

	if r.Flat {
		res.Units = 1
		if units != nil {
			if !validCount(*units) {
				return Result{}, ErrInvalidUnits
			}
			res.Units = *units
		}
		res.Credits = r.PerUnitCost
		return res, nil
	}

	count, found, err := metaNumber(meta, r.MetaKey)
	if err != nil {
		return Result{}, err
	}
	if !found && units != nil {
		count = *units
	}
	if !validCount(count) {
		return Result{}, ErrInvalidUnits
	}
	res.Units = count

	billable := math.Ceil(count / r.UnitSize)
	if billable > float64(math.MaxInt64/r.PerUnitCost) {
		return Result{}, ErrInvalidUnits
	}
	res.Credits = r.PerUnitCost * int64(billable)
	return res, nil
}

func validCount(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v >= 0
}

func metaNumber(meta map[string]any, key string) (float64, bool, error) {
	if key == "" || meta == nil {
		return 0, false, nil
	}
	raw, ok := meta[key]
	if !ok || raw == nil {
		return 0, false, nil
	}
	switch v := raw.(type) {
	case float64:
		return v, true, nil
	case float32:
		return float64(v), true, nil
	case int:
		return float64(v), true, nil
	case int64:
		return float64(v), true, nil
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return 0, false, ErrInvalidUnits
		}
		return f, true, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, false, ErrInvalidUnits
		}
		return f, true, nil
	default:
		return 0, false, ErrInvalidUnits
	}
}

// Table resolves built-in rules plus extension rules from the hot-reloaded
// billing config.
type Table struct {
	billing *config.BillingConfigHolder
}

func NewTable(billing *config.BillingConfigHolder) *Table {
	return &Table{billing: billing}
}

// Lookup returns the rule for an event type. Built-ins always win over
// configured rules with the same name.
func (t *Table) Lookup(eventType string) (Rule, error) {
	name := EventType(strings.TrimSpace(eventType))
	if rule, ok := builtinRule(name); ok {
		return rule, nil
	}
	for _, ext := range t.extensions() {
		if EventType(strings.TrimSpace(ext.EventType)) == name {
			return Rule{
				EventType:   name,
				PerUnitCost: ext.PerUnitCost,
				UnitSize:    ext.UnitSize,
				MetaKey:     strings.TrimSpace(ext.MetaKey),
				Flat:        ext.Flat,
			}, nil
		}
	}
	return Rule{}, ErrUnknownEventType
}

// Compute prices an event, rejecting unknown types.
func (t *Table) Compute(eventType string, units *float64, meta map[string]any) (Result, error) {
	rule, err := t.Lookup(eventType)
	if err != nil {
		return Result{}, err
	}
	return rule.Apply(units, meta)
}

// Rules lists every active rule, built-ins first.
func (t *Table) Rules() []Rule {
	out := make([]Rule, 0, len(builtinTypes))
	for _, et := range builtinTypes {
		rule, _ := builtinRule(et)
		out = append(out, rule)
	}
	var ext []Rule
	for _, cfg := range t.extensions() {
		name := EventType(strings.TrimSpace(cfg.EventType))
		if _, ok := builtinRule(name); ok {
			continue
		}
		ext = append(ext, Rule{
			EventType:   name,
			PerUnitCost: cfg.PerUnitCost,
			UnitSize:    cfg.UnitSize,
			MetaKey:     cfg.MetaKey,
			Flat:        cfg.Flat,
		})
	}
	sort.Slice(ext, func(i, j int) bool { return ext[i].EventType < ext[j].EventType })
	return append(out, ext...)
}

func (t *Table) extensions() []config.CreditRuleConfig {
	if t == nil || t.billing == nil {
		return nil
	}
	return t.billing.Get().CreditRules
}
