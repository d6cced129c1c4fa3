package api

import (
	"github.com/SherClockHolmes/webpush-go"

	"str-manager/config"
	"str-manager/internal/clock"
	"str-manager/internal/orchestrator"
	"str-manager/internal/store"
)

// StatusSource exposes the configured units and their latest poll outcome.
type StatusSource interface {
	Units() []config.UnitConfig
	Status() []orchestrator.UnitStatus
}

// Handler holds shared dependencies for API handlers.
type Handler struct {
	store   store.Store
	status  StatusSource
	clock   clock.Clock
	webpush *webpush.Options
}

// NewHandler creates a new API handler.
func NewHandler(s store.Store, status StatusSource, clk clock.Clock, webpushOptions *webpush.Options) *Handler {
	return &Handler{
		store:   s,
		status:  status,
		clock:   clk,
		webpush: webpushOptions,
	}
}
