package conversation

import (
	"context"
	"fmt"
	"time"

	"github.com/chatcart/chatcart/internal/domain"
	"github.com/chatcart/chatcart/internal/logging"
	"github.com/chatcart/chatcart/internal/store"
)

// CleanupReport summarizes one janitor pass. Per-session failures land in
// Errors instead of aborting the pass.
type CleanupReport struct {
	SessionsChecked        int      `json:"sessions_checked"`
	StaleSessionsReset     int      `json:"stale_sessions_reset"`
	InvalidStatesRecovered int      `json:"invalid_states_recovered"`
	Errors                 []string `json:"errors"`
}

// Janitor resets stale and inconsistent sessions. Each pass runs in a
// single transaction: per-session failures are recorded and skipped, and
// only a failure of the batch-level query itself rolls the pass back.
type Janitor struct {
	db       *store.DB
	sessions *store.SessionStore
	machine  *StateMachine

	now func() time.Time
	log *logging.Logger
}

// NewJanitor creates a janitor over the given database and state machine.
func NewJanitor(db *store.DB, sessions *store.SessionStore, machine *StateMachine, log *logging.Logger) *Janitor {
	return &Janitor{
		db:       db,
		sessions: sessions,
		machine:  machine,
		now:      time.Now,
		log:      log.Sub("janitor"),
	}
}

// CleanupStaleSessions walks all active sessions. Sessions inactive beyond
// maxInactive are force-reset to WELCOME; the rest are validated and
// repaired per the validator's recommendation.
func (j *Janitor) CleanupStaleSessions(maxInactive time.Duration) (*CleanupReport, error) {
	tx, err := j.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("starting cleanup pass: %w", err)
	}

	sessions := j.sessions.WithTx(tx)
	active, err := sessions.ListActive()
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("listing active sessions: %w", err)
	}

	report := &CleanupReport{Errors: []string{}}
	now := j.now()

	for _, sess := range active {
		report.SessionsChecked++

		// Resets go through the state machine so they stamp
		// LastInteraction (a reset session leaves the stale window) and
		// show up in the trace stream like any other transition.
		if sess.InactiveFor(maxInactive, now) {
			if _, err := j.machine.TransitionIn(sessions, sess, Step{
				Target: domain.StateWelcome,
				Force:  true,
				Action: "janitor_stale_reset",
			}); err != nil {
				report.Errors = append(report.Errors,
					fmt.Sprintf("session %d: %v", sess.ID, err))
				continue
			}
			report.StaleSessionsReset++
			continue
		}

		check := j.machine.ValidateConsistency(sess)
		if check.Valid || check.RecommendedAction == RepairNone {
			continue
		}

		target := domain.StateIdle
		if check.RecommendedAction == RepairResetToWelcome {
			target = domain.StateWelcome
		}
		if _, err := j.machine.TransitionIn(sessions, sess, Step{
			Target: target,
			Force:  true,
			Action: "janitor_repair",
		}); err != nil {
			report.Errors = append(report.Errors,
				fmt.Sprintf("session %d: %v", sess.ID, err))
			continue
		}
		j.log.Info().
			Int64("session_id", sess.ID).
			Str("customer_id", sess.CustomerID).
			Strs("issues", check.Issues).
			Str("action", string(check.RecommendedAction)).
			Msg("repaired inconsistent session")
		report.InvalidStatesRecovered++
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing cleanup pass: %w", err)
	}

	j.log.Info().
		Int("checked", report.SessionsChecked).
		Int("stale_reset", report.StaleSessionsReset).
		Int("recovered", report.InvalidStatesRecovered).
		Int("errors", len(report.Errors)).
		Msg("cleanup pass complete")
	return report, nil
}

// Run executes cleanup passes on the given interval until the context is
// cancelled. Pass failures are logged, never fatal.
func (j *Janitor) Run(ctx context.Context, interval, maxInactive time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	j.log.Info().Dur("interval", interval).Msg("janitor loop started")
	for {
		select {
		case <-ctx.Done():
			j.log.Info().Msg("janitor loop stopped")
			return
		case <-ticker.C:
			if _, err := j.CleanupStaleSessions(maxInactive); err != nil {
				j.log.Error().Err(err).Msg("cleanup pass failed")
			}
		}
	}
}
