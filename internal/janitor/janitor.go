// Package janitor runs the periodic sweep that bounds the rotation
// store's memory growth. It is purely additive: every read in
// internal/keys already checks expiry lazily, so a stopped or delayed
// janitor never produces incorrect routing decisions, only larger maps.
package janitor

import (
	"time"

	cronlib "github.com/robfig/cron/v3"

	. "github.com/BenItBuhner/Model-Proxy/internal/logging"
	"github.com/BenItBuhner/Model-Proxy/internal/keys"
)

// Janitor periodically purges expired cooldown entries from a rotation
// Store so long-lived processes with a high churn of distinct keys don't
// accumulate unbounded failure-entry maps.
type Janitor struct {
	store *keys.Store
	clock keys.Clock
	cron  *cronlib.Cron
}

// New builds a Janitor. schedule is a standard five-field cron
// expression (e.g. "*/5 * * * *" to sweep every five minutes); clock may
// be nil to use the system clock.
func New(store *keys.Store, clock keys.Clock, schedule string) (*Janitor, error) {
	if clock == nil {
		clock = keys.SystemClock{}
	}
	j := &Janitor{
		store: store,
		clock: clock,
		cron:  cronlib.New(),
	}
	if _, err := j.cron.AddFunc(schedule, j.sweep); err != nil {
		return nil, err
	}
	return j, nil
}

// Start begins running the janitor's schedule in the background.
func (j *Janitor) Start() {
	j.cron.Start()
	L_info("janitor: started")
}

// Stop halts the schedule and waits for any in-flight sweep to finish.
func (j *Janitor) Stop() {
	ctx := j.cron.Stop()
	<-ctx.Done()
	L_info("janitor: stopped")
}

// sweep is the scheduled job: it purges expired entries across every
// known provider. cooldownDisabled mirrors KeyCooldownSeconds() <= 0 at
// sweep time so a disabled cooldown window purges everything immediately
// rather than leaving stale entries the universal-disable rule would
// otherwise treat as expired anyway.
func (j *Janitor) sweep() {
	start := time.Now()
	j.store.PurgeExpired(j.clock.Now(), keys.KeyCooldownSeconds() <= 0)
	L_debug("janitor: sweep complete", "elapsed", time.Since(start))
}
