// Package backendpool tracks a fixed fleet of generation/embedding backend
// instances, health-probes them in the background, and selects the best
// candidate for a given query category.
package backendpool

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/connexus-ai/ragsupport-gateway/internal/config"
	"github.com/connexus-ai/ragsupport-gateway/internal/model"
)

// ErrBackendUnavailable is returned by Pick when no backend can serve a request.
var ErrBackendUnavailable = errors.New("backendpool: no healthy backend available")

// probeInterval is how often the background loop re-checks every backend.
const probeInterval = 30 * time.Second

// probeTimeout bounds a single health probe request.
const probeTimeout = 5 * time.Second

// specializationOrder is the round-robin assignment used when the configured
// instance list carries no explicit specialization tags. It guarantees an
// embeddings_search backend exists as soon as four or more instances are
// configured.
var specializationOrder = []model.Specialization{
	model.SpecChatQA,
	model.SpecCodeTechnical,
	model.SpecReasoningMath,
	model.SpecEmbeddingsSearch,
}

// backend is one fleet member. healthy/lastProbeAt/lastRTTMs are guarded by
// mu; they are written by the probe loop and by ReportFailure/ReportSuccess
// after real requests, and read by request handlers.
type backend struct {
	name           string
	url            string
	specialization model.Specialization
	model          string

	mu          sync.RWMutex
	healthy     bool
	lastProbeAt time.Time
	lastRTTMs   int64

	inFlight int64
}

func (b *backend) snapshot() model.BackendStatus {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return model.BackendStatus{
		Name:           b.name,
		URL:            b.url,
		Specialization: b.specialization,
		Healthy:        b.healthy,
		LastProbeAt:    b.lastProbeAt,
		LastRTTMs:      b.lastRTTMs,
		InFlightCount:  int(atomic.LoadInt64(&b.inFlight)),
	}
}

func (b *backend) setProbeResult(healthy bool, rtt time.Duration, at time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.healthy = healthy
	b.lastProbeAt = at
	b.lastRTTMs = rtt.Milliseconds()
}

func (b *backend) isHealthy() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.healthy
}

func (b *backend) lastRTT() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastRTTMs
}

// Backend is the handle request handlers and the generation orchestrator
// use to address one fleet member and report request outcomes.
type Backend struct {
	b *backend
}

// Name is the configured backend name.
func (bk Backend) Name() string { return bk.b.name }

// URL is the backend's base endpoint.
func (bk Backend) URL() string { return bk.b.url }

// Model is the model name to request on this backend for its specialization.
func (bk Backend) Model() string { return bk.b.model }

// IncrInFlight records that a new request was dispatched to this backend.
func (bk Backend) IncrInFlight() { atomic.AddInt64(&bk.b.inFlight, 1) }

// DecrInFlight records that a dispatched request finished, successfully or not.
func (bk Backend) DecrInFlight() { atomic.AddInt64(&bk.b.inFlight, -1) }

// ReportFailure demotes the backend to unhealthy immediately, ahead of the
// next scheduled probe, following a failed real request.
func (bk Backend) ReportFailure() {
	bk.b.setProbeResult(false, 0, time.Now())
}

// ReportSuccess opportunistically marks the backend healthy and records the
// observed RTT, following a successful real request.
func (bk Backend) ReportSuccess(rtt time.Duration) {
	bk.b.setProbeResult(true, rtt, time.Now())
}

// Pool holds the fleet and runs the background probe loop.
type Pool struct {
	backends   []*backend
	embedding  *backend
	httpClient *http.Client
}

// New builds a Pool from configured instances. Each instance is assigned a
// specialization round-robin from the fixed catalog, and a generation model
// name drawn from the matching config field.
func New(cfg *config.Config) *Pool {
	p := &Pool{
		httpClient: &http.Client{Timeout: probeTimeout},
	}

	modelFor := func(s model.Specialization) string {
		switch s {
		case model.SpecCodeTechnical:
			return cfg.CodingModel
		case model.SpecReasoningMath:
			return cfg.ReasoningModel
		case model.SpecEmbeddingsSearch:
			return cfg.EmbeddingModel
		default:
			return cfg.ChatModel
		}
	}

	for i, spec := range cfg.OllamaInstances {
		specialization := specializationOrder[i%len(specializationOrder)]
		b := &backend{
			name:           spec.Name,
			url:            spec.URL,
			specialization: specialization,
			model:          modelFor(specialization),
			healthy:        true, // optimistic until first probe
			lastProbeAt:    time.Time{},
		}
		p.backends = append(p.backends, b)
		if specialization == model.SpecEmbeddingsSearch && p.embedding == nil {
			p.embedding = b
		}
	}

	// Guarantee an embedding backend exists even with a tiny fleet.
	if p.embedding == nil && len(p.backends) > 0 {
		p.embedding = p.backends[0]
	}

	return p
}

// Start launches the background probe loop. It returns immediately; the
// loop runs until ctx is cancelled.
func (p *Pool) Start(ctx context.Context) {
	p.probeAll(ctx)
	go func() {
		ticker := time.NewTicker(probeInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.probeAll(ctx)
			}
		}
	}()
}

func (p *Pool) probeAll(ctx context.Context) {
	var wg sync.WaitGroup
	for _, b := range p.backends {
		wg.Add(1)
		go func(b *backend) {
			defer wg.Done()
			p.probeOne(ctx, b)
		}(b)
	}
	wg.Wait()
}

func (p *Pool) probeOne(ctx context.Context, b *backend) {
	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	start := time.Now()
	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, b.url+"/api/tags", nil)
	if err != nil {
		b.setProbeResult(false, 0, time.Now())
		return
	}

	resp, err := p.httpClient.Do(req)
	rtt := time.Since(start)
	if err != nil {
		b.setProbeResult(false, rtt, time.Now())
		return
	}
	defer resp.Body.Close()

	b.setProbeResult(resp.StatusCode == http.StatusOK, rtt, time.Now())
}

// Pick selects the best backend for category per the contract: prefer a
// specialization match, break ties by (in_flight_count, last_rtt), fall back
// to any healthy backend, and raise ErrBackendUnavailable if none qualify.
func (p *Pool) Pick(category model.Specialization) (Backend, error) {
	var best *backend
	for _, b := range p.backends {
		if !b.isHealthy() || b.specialization != category {
			continue
		}
		if best == nil || isBetter(b, best) {
			best = b
		}
	}
	if best != nil {
		return Backend{b: best}, nil
	}

	for _, b := range p.backends {
		if !b.isHealthy() {
			continue
		}
		if best == nil || isBetter(b, best) {
			best = b
		}
	}
	if best != nil {
		return Backend{b: best}, nil
	}

	return Backend{}, ErrBackendUnavailable
}

// PickExcluding is Pick with one backend name excluded, used by the
// generation orchestrator's single retry on connection failure.
func (p *Pool) PickExcluding(category model.Specialization, excludeName string) (Backend, error) {
	var best *backend
	consider := func(b *backend) {
		if b.name == excludeName || !b.isHealthy() {
			return
		}
		if best == nil || isBetter(b, best) {
			best = b
		}
	}
	for _, b := range p.backends {
		if b.specialization == category {
			consider(b)
		}
	}
	if best == nil {
		for _, b := range p.backends {
			consider(b)
		}
	}
	if best == nil {
		return Backend{}, ErrBackendUnavailable
	}
	return Backend{b: best}, nil
}

// EmbeddingBackend returns the designated backend for query embedding.
func (p *Pool) EmbeddingBackend() (Backend, error) {
	if p.embedding == nil || !p.embedding.isHealthy() {
		if b, err := p.Pick(model.SpecEmbeddingsSearch); err == nil {
			return b, nil
		}
		if p.embedding != nil {
			return Backend{b: p.embedding}, nil
		}
		return Backend{}, ErrBackendUnavailable
	}
	return Backend{b: p.embedding}, nil
}

func isBetter(a, b *backend) bool {
	af, bf := atomic.LoadInt64(&a.inFlight), atomic.LoadInt64(&b.inFlight)
	if af != bf {
		return af < bf
	}
	return a.lastRTT() < b.lastRTT()
}

// Statuses returns a snapshot of every backend, for the /api/ollama-health endpoint.
func (p *Pool) Statuses() []model.BackendStatus {
	out := make([]model.BackendStatus, 0, len(p.backends))
	for _, b := range p.backends {
		out = append(out, b.snapshot())
	}
	return out
}

// Ping reports degraded health if no backend in the fleet is currently healthy.
func (p *Pool) Ping(ctx context.Context) error {
	for _, b := range p.backends {
		if b.isHealthy() {
			return nil
		}
	}
	return fmt.Errorf("backendpool.Ping: no healthy backend in fleet of %d", len(p.backends))
}
