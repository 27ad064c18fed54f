// Package rotation implements the endpoint-rotation and automatic
// model-fallback state machines.
package rotation

import (
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/arenabridge/chat-bridge/internal/config"
	"github.com/arenabridge/chat-bridge/internal/metrics"
)

// AutoModelSentinel is the synthetic model name that triggers automatic
// fallback across the priority list below.
const AutoModelSentinel = "auto-claude"

// PriorityList is the ordered (high to low) list of real models
// auto-fallback walks.
var PriorityList = []string{
	"claude-opus-4-1-20250805-thinking-16k",
	"claude-opus-4-1-20250805",
	"claude-opus-4-20250514-thinking-16k",
	"claude-opus-4-20250514",
	"claude-3-7-sonnet-20250219",
	"claude-sonnet-4-20250514",
	"claude-3-5-sonnet-20241022",
}

// CatalogChecker reports whether a model name is present in the catalog,
// so Select can skip any model absent from it.
type CatalogChecker interface {
	Resolve(name string) string
	List() []string
}

// Engine owns the cooldown and active-auto tables for the lifetime of the
// process.
type Engine struct {
	cooldowns  *cache.Cache
	activeAuto *cache.Cache
}

// NewEngine builds an Engine using the configured cooldown window that
// exhausted models are excluded for, default 1 hour.
func NewEngine() *Engine {
	cooldownTTL := time.Duration(config.CooldownDurationSec) * time.Second
	return &Engine{
		cooldowns:  cache.New(cooldownTTL, cooldownTTL/2),
		activeAuto: cache.New(cache.NoExpiration, 0),
	}
}

// IsCooledDown reports whether model is currently excluded from selection
// because its cooldown expiry is still in the future.
func (e *Engine) IsCooledDown(model string) bool {
	_, found := e.cooldowns.Get(model)
	return found
}

// CoolDown marks model as rate-limited for the configured window.
func (e *Engine) CoolDown(model string) {
	e.cooldowns.SetDefault(model, struct{}{})
	metrics.CooldownCount.Set(float64(e.cooldowns.ItemCount()))
}

// catalogHas reports whether model is listed by catalog. A nil catalog
// counts every model as present, for a caller that only wants to walk the
// static priority list.
func catalogHas(catalog CatalogChecker, model string) bool {
	if catalog == nil {
		return true
	}
	for _, name := range catalog.List() {
		if name == model {
			return true
		}
	}
	return false
}

// Select walks PriorityList, skipping cooled-down or uncataloged models,
// and returns the first eligible one. If every model is cooled down, it
// forces the last entry as a fallback rather than erroring.
func (e *Engine) Select(catalog CatalogChecker) string {
	for _, model := range PriorityList {
		if e.IsCooledDown(model) {
			continue
		}
		if !catalogHas(catalog, model) {
			continue
		}
		return model
	}
	return PriorityList[len(PriorityList)-1]
}

// BeginAuto records requestID as driving the synthetic auto model and
// returns the initially selected real model.
func (e *Engine) BeginAuto(requestID string, catalog CatalogChecker) string {
	model := e.Select(catalog)
	e.activeAuto.SetDefault(requestID, model)
	return model
}

// CurrentAuto returns the real model currently driving requestID's
// auto-fallback stream, if any.
func (e *Engine) CurrentAuto(requestID string) (string, bool) {
	v, found := e.activeAuto.Get(requestID)
	if !found {
		return "", false
	}
	return v.(string), true
}

// SwitchResult describes the outcome of a mid-stream fallback switch.
type SwitchResult struct {
	From string
	To   string
}

// Switch marks the current model for requestID as cooled down, re-selects
// the next eligible model, and records it as the new current model for
// requestID. At most one model may be current at a time; switches are
// sequential.
func (e *Engine) Switch(requestID string, catalog CatalogChecker) SwitchResult {
	from, _ := e.CurrentAuto(requestID)
	if from != "" {
		e.CoolDown(from)
	}
	to := e.Select(catalog)
	e.activeAuto.SetDefault(requestID, to)
	metrics.FallbackSwitches.Inc()
	return SwitchResult{From: from, To: to}
}

// EndAuto drops requestID's active-auto entry, mirroring the finally path
// that removes it on cancellation.
func (e *Engine) EndAuto(requestID string) {
	e.activeAuto.Delete(requestID)
}
