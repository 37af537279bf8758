package engine

import (
	"time"

	"polymarket-predictor/internal/keywords"
	"polymarket-predictor/pkg/types"
)

// tier2StrongFollowers is the follower count that lets a social source
// qualify a burst without an S1/S2 tier.
const tier2StrongFollowers = 100_000

// noteTier2Signals inspects a batch of freshly collected signals for a
// crypto news burst. Activation requires the configured minimum of
// crypto-mentioning signals with at least one strong source (S1/S2 tier or
// a large following); while the burst lane is active, any further crypto
// signal extends the window.
func (e *Engine) noteTier2Signals(sigs []types.Signal, now time.Time) {
	crypto := 0
	strong := 0
	for _, s := range sigs {
		if !keywords.MentionsCrypto(s.Text) {
			continue
		}
		crypto++
		if s.SourceTier == types.TierS1 || s.SourceTier == types.TierS2 || s.Followers >= tier2StrongFollowers {
			strong++
		}
	}
	if crypto == 0 {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	active := now.Before(e.tier2Until)
	switch {
	case active:
		e.tier2Until = now.Add(e.cfg.Signals.Tier2Window)
	case crypto >= e.cfg.Signals.Tier2MinSignals && strong >= 1:
		e.tier2Until = now.Add(e.cfg.Signals.Tier2Window)
		e.startTier2Locked()
		e.logger.Info("tier-2 burst activated",
			"crypto_signals", crypto,
			"strong_sources", strong,
			"until", e.tier2Until,
		)
	}
}

// startTier2Locked registers the fast-lane cron entry. Caller holds e.mu.
func (e *Engine) startTier2Locked() {
	if e.tier2Entry != 0 {
		return
	}
	entry, err := e.cron.AddFunc("@every "+e.cfg.Tier2.ScanInterval.String(), e.runTier2Scan)
	if err != nil {
		e.logger.Error("tier-2 schedule failed", "error", err)
		return
	}
	e.tier2Entry = entry
}

// runTier2Scan is the fast-lane cron job. It deactivates itself once the
// burst window has lapsed with no new qualifying signals.
func (e *Engine) runTier2Scan() {
	now := time.Now().UTC()

	e.mu.Lock()
	if now.After(e.tier2Until) {
		if e.tier2Entry != 0 {
			e.cron.Remove(e.tier2Entry)
			e.tier2Entry = 0
		}
		e.mu.Unlock()
		e.logger.Info("tier-2 burst window expired, lane deactivated")
		return
	}
	e.mu.Unlock()

	e.runScan(e.ctx, 2, e.cfg.Tier2)
}

// tier2Active reports whether the burst lane is live at the given time.
func (e *Engine) tier2Active(now time.Time) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return now.Before(e.tier2Until)
}
