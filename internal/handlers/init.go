// Package handlers contains the HTTP handlers of the billing and payment API.
package handlers

import (
	"database/sql"
	"time"

	"steward/internal/ledger"
	"steward/internal/payments"
	"steward/pkg/logging"
)

var (
	db           *sql.DB
	logger       logging.Logger
	orchestrator *payments.Orchestrator
	ledgerStore  *ledger.Store

	jwtSecret   []byte
	tokenTTL    time.Duration
	frontendURL string
)

// Config carries the handler-level settings
type Config struct {
	JWTSecret   []byte
	TokenTTL    time.Duration
	FrontendURL string
}

// Init sets up the handlers package with its dependencies
func Init(database *sql.DB, log logging.Logger, orch *payments.Orchestrator, ldg *ledger.Store, cfg Config) {
	db = database
	logger = log
	orchestrator = orch
	ledgerStore = ldg
	jwtSecret = cfg.JWTSecret
	tokenTTL = cfg.TokenTTL
	if tokenTTL == 0 {
		tokenTTL = 24 * time.Hour
	}
	frontendURL = cfg.FrontendURL
}
