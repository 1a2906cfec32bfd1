package recovery

import (
	"context"
	"fmt"
	"time"

	"github.com/chatcart/chatcart/internal/abandonment"
	"github.com/chatcart/chatcart/internal/domain"
	"github.com/chatcart/chatcart/internal/logging"
	"github.com/chatcart/chatcart/internal/store"
)

// CycleReport summarizes one scheduler cycle.
type CycleReport struct {
	SessionsScanned int      `json:"sessions_scanned"`
	CartsAbandoned  int      `json:"carts_abandoned"`
	CampaignsSent   int      `json:"campaigns_sent"`
	CartsExpired    int      `json:"carts_expired"`
	Errors          []string `json:"errors"`
}

// Scheduler drives the recovery workflow end to end: detect stalled
// sessions, send campaigns to eligible carts, expire write-offs.
type Scheduler struct {
	detector *abandonment.Detector
	engine   *Engine
	carts    *store.CartStore

	cartExpiry time.Duration // abandoned carts become EXPIRED after this
	sendDelay  time.Duration // pause between consecutive campaign sends

	now   func() time.Time
	sleep func(time.Duration)
	log   *logging.Logger
}

// SchedulerConfig carries the scheduler's policy knobs.
type SchedulerConfig struct {
	CartExpiry time.Duration // default 7 days
	SendDelay  time.Duration // default 2s
}

// NewScheduler wires the scheduler over the detector and engine.
func NewScheduler(detector *abandonment.Detector, engine *Engine, carts *store.CartStore, cfg SchedulerConfig, log *logging.Logger) *Scheduler {
	return &Scheduler{
		detector:   detector,
		engine:     engine,
		carts:      carts,
		cartExpiry: cfg.CartExpiry,
		sendDelay:  cfg.SendDelay,
		now:        time.Now,
		sleep:      time.Sleep,
		log:        log.Sub("scheduler"),
	}
}

// Run executes cycles at the given interval until the context is done.
// The first cycle runs immediately.
func (s *Scheduler) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := s.Cycle(ctx); err != nil {
			s.log.Error().Err(err).Msg("recovery cycle failed")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Cycle runs one detection, campaign, and expiry pass.
func (s *Scheduler) Cycle(ctx context.Context) (*CycleReport, error) {
	report := &CycleReport{Errors: []string{}}

	detect, err := s.detector.Detect()
	if err != nil {
		return nil, fmt.Errorf("detection pass: %w", err)
	}
	report.SessionsScanned = detect.SessionsScanned
	report.CartsAbandoned = detect.CartsAbandoned
	report.Errors = append(report.Errors, detect.Errors...)

	abandoned, err := s.carts.ByStatus(domain.CartAbandoned)
	if err != nil {
		return nil, fmt.Errorf("listing abandoned carts: %w", err)
	}

	for _, cart := range abandoned {
		if !s.detector.IsEligibleForRecovery(cart) {
			continue
		}
		if report.CampaignsSent > 0 {
			s.sleep(s.sendDelay)
		}
		if err := s.runCampaign(ctx, cart); err != nil {
			report.Errors = append(report.Errors,
				fmt.Sprintf("cart %d: %v", cart.ID, err))
			continue
		}
		report.CampaignsSent++
	}

	expired, err := s.expireStale()
	if err != nil {
		report.Errors = append(report.Errors, fmt.Sprintf("expiry pass: %v", err))
	}
	report.CartsExpired = expired

	s.log.Info().
		Int("scanned", report.SessionsScanned).
		Int("abandoned", report.CartsAbandoned).
		Int("sent", report.CampaignsSent).
		Int("expired", report.CartsExpired).
		Int("errors", len(report.Errors)).
		Msg("recovery cycle complete")
	return report, nil
}

func (s *Scheduler) runCampaign(ctx context.Context, cart *domain.CartSession) error {
	campaign, err := s.engine.CreateCampaign(ctx, cart)
	if err != nil {
		return err
	}
	return s.engine.Send(ctx, campaign)
}

// expireStale writes off carts abandoned past the expiry window.
func (s *Scheduler) expireStale() (int, error) {
	cutoff := s.now().UTC().Add(-s.cartExpiry)
	stale, err := s.carts.AbandonedBefore(cutoff)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, cart := range stale {
		cart.Status = domain.CartExpired
		if err := s.carts.Update(cart); err != nil {
			s.log.Error().Err(err).Int64("cart_id", cart.ID).Msg("failed to expire cart")
			continue
		}
		s.log.Info().Int64("cart_id", cart.ID).Msg("abandoned cart expired")
		expired++
	}
	return expired, nil
}
