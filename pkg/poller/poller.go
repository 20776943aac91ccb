// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package poller periodically reads a device and owns the latest snapshot.
// The poll loop is the only writer; any number of readers may call Latest or
// subscribe to results.
package poller

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Thermoquad/vsensor/pkg/vsensor"
)

// Reader is the subset of *vsensor.Client the poller needs.
type Reader interface {
	ReadTelemetry() (vsensor.Telemetry, error)
	ReadHeartbeat() (uint16, error)
	ReadDisplayValue() (float64, error)
}

// Snapshot is one complete poll.
type Snapshot struct {
	vsensor.Telemetry
	Heartbeat    uint16
	DisplayValue float64
	Time         time.Time
	Seq          uint64
}

// Result is delivered to subscribers after every poll.
type Result struct {
	Snapshot Snapshot
	Err      error
}

// Config controls polling.
type Config struct {
	Interval time.Duration
	Logger   zerolog.Logger
}

// Poller owns the shared device state.
type Poller struct {
	reader   Reader
	interval time.Duration
	log      zerolog.Logger

	mu      sync.RWMutex
	latest  Snapshot
	valid   bool
	lastErr error
	stats   *Statistics
	seq     uint64

	subMu sync.Mutex
	subs  map[chan Result]struct{}
}

// New validates cfg and returns a poller; it does not start polling.
func New(reader Reader, cfg Config) (*Poller, error) {
	if reader == nil {
		return nil, errors.New("poller: reader required")
	}
	if cfg.Interval <= 0 {
		return nil, errors.New("poller: interval must be > 0")
	}
	return &Poller{
		reader:   reader,
		interval: cfg.Interval,
		log:      cfg.Logger,
		stats:    NewStatistics(),
		subs:     make(map[chan Result]struct{}),
	}, nil
}

// PollOnce reads telemetry, heartbeat and display value. It is
// all-or-nothing: on any failure the previous snapshot stays in place.
func (p *Poller) PollOnce() (Snapshot, error) {
	snap, err := p.read()

	p.mu.Lock()
	p.stats.Update(err)
	if err != nil {
		p.lastErr = err
	} else {
		p.seq++
		snap.Seq = p.seq
		p.latest = snap
		p.valid = true
		p.lastErr = nil
	}
	p.mu.Unlock()

	if err != nil {
		p.log.Warn().Err(err).Str("kind", vsensor.KindOf(err).String()).Msg("Poll failed")
	} else {
		p.log.Debug().
			Float64("pressure", snap.PressurePa).
			Float64("output", snap.OutputPercent).
			Float64("setpoint", snap.AutoSetpoint).
			Str("mode", snap.Mode.String()).
			Uint16("heartbeat", snap.Heartbeat).
			Msg("Poll")
	}

	p.publish(Result{Snapshot: snap, Err: err})
	return snap, err
}

func (p *Poller) read() (Snapshot, error) {
	t, err := p.reader.ReadTelemetry()
	if err != nil {
		return Snapshot{}, err
	}
	hb, err := p.reader.ReadHeartbeat()
	if err != nil {
		return Snapshot{}, err
	}
	display, err := p.reader.ReadDisplayValue()
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{
		Telemetry:    t,
		Heartbeat:    hb,
		DisplayValue: display,
		Time:         time.Now(),
	}, nil
}

// Run polls immediately and then on every tick until ctx is done.
func (p *Poller) Run(ctx context.Context) error {
	p.PollOnce()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.closeSubscribers()
			return ctx.Err()
		case <-ticker.C:
			p.PollOnce()
		}
	}
}

// Latest returns the most recent good snapshot, if any.
func (p *Poller) Latest() (Snapshot, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.latest, p.valid
}

// LastError returns the error of the most recent poll, or nil if it succeeded.
func (p *Poller) LastError() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastErr
}

// Stats returns a copy of the poll statistics.
func (p *Poller) Stats() Statistics {
	p.mu.RLock()
	defer p.mu.RUnlock()
	s := *p.stats
	s.CalculateRates()
	return s
}

// Subscribe returns a channel that receives every poll result. Results are
// dropped for a subscriber whose buffer is full. Call cancel to unsubscribe.
func (p *Poller) Subscribe(buffer int) (<-chan Result, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Result, buffer)

	p.subMu.Lock()
	if p.subs == nil {
		p.subMu.Unlock()
		close(ch)
		return ch, func() {}
	}
	p.subs[ch] = struct{}{}
	p.subMu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			p.subMu.Lock()
			defer p.subMu.Unlock()
			if _, ok := p.subs[ch]; ok {
				delete(p.subs, ch)
				close(ch)
			}
		})
	}
	return ch, cancel
}

func (p *Poller) publish(r Result) {
	p.subMu.Lock()
	defer p.subMu.Unlock()
	for ch := range p.subs {
		select {
		case ch <- r:
		default:
		}
	}
}

func (p *Poller) closeSubscribers() {
	p.subMu.Lock()
	defer p.subMu.Unlock()
	for ch := range p.subs {
		close(ch)
	}
	p.subs = nil
}
