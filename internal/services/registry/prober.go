package registry

import (
	"context"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/easel/internal/interfaces"
)

// Prober pings every node at a fixed interval and feeds results back into
// the registry. A failed probe downgrades the node until the next tick; no
// retry happens within a tick.
type Prober struct {
	registry interfaces.RegistryService
	pool     interfaces.ClientPool
	interval time.Duration
	timeout  time.Duration
	logger   arbor.ILogger

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewProber creates a health prober.
func NewProber(registry interfaces.RegistryService, pool interfaces.ClientPool, interval, timeout time.Duration, logger arbor.ILogger) interfaces.HealthProber {
	return &Prober{
		registry: registry,
		pool:     pool,
		interval: interval,
		timeout:  timeout,
		logger:   logger,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the probe loop with an immediate first pass.
func (p *Prober) Start() {
	go func() {
		defer close(p.done)

		p.logger.Info().Str("interval", p.interval.String()).Msg("Health prober started")
		p.probeAll()

		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				p.probeAll()
			case <-p.stop:
				p.logger.Info().Msg("Health prober stopped")
				return
			}
		}
	}()
}

// Stop halts the probe loop and waits for the in-flight pass.
func (p *Prober) Stop() {
	p.stopOnce.Do(func() { close(p.stop) })
	<-p.done
}

func (p *Prober) probeAll() {
	var wg sync.WaitGroup
	for _, client := range p.pool.All() {
		wg.Add(1)
		go func(c interfaces.WorkerClient) {
			defer wg.Done()
			p.probeOne(c)
		}(client)
	}
	wg.Wait()
}

func (p *Prober) probeOne(client interfaces.WorkerClient) {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	latency, err := client.Probe(ctx)
	if err != nil {
		if uerr := p.registry.UpdateHealth(client.NodeID(), false, 0); uerr != nil {
			p.logger.Warn().Err(uerr).Str("node", client.NodeID()).Msg("Failed to record probe result")
		}
		return
	}

	if uerr := p.registry.UpdateHealth(client.NodeID(), true, latency); uerr != nil {
		p.logger.Warn().Err(uerr).Str("node", client.NodeID()).Msg("Failed to record probe result")
	}
}
