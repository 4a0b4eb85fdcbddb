// Package eligibility answers per-page-view display decisions and records the
// events that feed the frequency ledger and experiment counters.
package eligibility

import (
	"time"

	"github.com/headline-goat/popup-goat/internal/assign"
	"github.com/headline-goat/popup-goat/internal/ledger"
	"github.com/headline-goat/popup-goat/internal/lifecycle"
	"github.com/headline-goat/popup-goat/internal/logger"
	"github.com/headline-goat/popup-goat/internal/metrics"
	"github.com/headline-goat/popup-goat/internal/store"
)

type Service struct {
	store      store.Store
	ledger     *ledger.Ledger
	engine     *assign.Engine
	controller *lifecycle.Controller
	metrics    *metrics.Metrics
	log        *logger.Logger
	now        func() time.Time
	newID      func() string
}

type Deps struct {
	Store      store.Store
	Ledger     *ledger.Ledger
	Engine     *assign.Engine
	Controller *lifecycle.Controller
	Metrics    *metrics.Metrics
	Logger     *logger.Logger
}

func New(d Deps) *Service {
	return &Service{
		store:      d.Store,
		ledger:     d.Ledger,
		engine:     d.Engine,
		controller: d.Controller,
		metrics:    d.Metrics,
		log:        d.Logger,
		now:        time.Now,
		newID:      newUUID,
	}
}
