// Package timersvc wraps the periodic timers the Funder event loop needs
// (spec.md §9 GLOSSARY "TimerClient": keepalive sends, liveness-timeout
// checks, inconsistency-retry backoff) behind a single injectable
// interface, the way the teacher wraps its own batch and reconnect timers
// with github.com/lightningnetwork/lnd/ticker instead of a bare
// time.Ticker, so tests can fire ticks deterministically.
package timersvc

import (
	"time"

	"github.com/lightningnetwork/lnd/ticker"
)

// Timer is the subset of ticker.Ticker the Funder event loop depends on.
type Timer interface {
	Ticks() <-chan time.Time
	Resume()
	Pause()
	Stop()
}

// Service owns the independently-paced timers a running node needs.
type Service struct {
	Keepalive        Timer
	LivenessCheck    Timer
	InconsistencyRetry Timer
}

// Config sets each timer's period; a zero or negative duration disables
// that timer by giving it a period long enough it will not plausibly fire.
type Config struct {
	KeepaliveInterval         time.Duration
	LivenessCheckInterval     time.Duration
	InconsistencyRetryInterval time.Duration
}

// New builds a Service from real lnd/ticker.Ticker instances.
func New(cfg Config) *Service {
	period := func(d time.Duration) time.Duration {
		if d <= 0 {
			return time.Duration(1<<63 - 1)
		}
		return d
	}
	return &Service{
		Keepalive:          ticker.New(period(cfg.KeepaliveInterval)),
		LivenessCheck:      ticker.New(period(cfg.LivenessCheckInterval)),
		InconsistencyRetry: ticker.New(period(cfg.InconsistencyRetryInterval)),
	}
}

// Start resumes every timer.
func (s *Service) Start() {
	s.Keepalive.Resume()
	s.LivenessCheck.Resume()
	s.InconsistencyRetry.Resume()
}

// Stop halts every timer, releasing its underlying resources.
func (s *Service) Stop() {
	s.Keepalive.Stop()
	s.LivenessCheck.Stop()
	s.InconsistencyRetry.Stop()
}
