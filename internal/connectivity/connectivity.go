package connectivity

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// State is the platform connectivity snapshot.
type State struct {
	IsConnected bool
	Type        string
}

// Observer is the platform connectivity collaborator: a point-in-time fetch
// plus change notifications. AddEventListener returns an unsubscribe func.
type Observer interface {
	Fetch(ctx context.Context) (State, error)
	AddEventListener(callback func(State)) (unsubscribe func())
}

// Prober implements Observer by probing an HTTP endpoint on an interval.
// It caches the last state and notifies listeners only on transitions.
type Prober struct {
	mu        sync.Mutex
	endpoint  string
	client    *http.Client
	interval  time.Duration
	state     State
	listeners map[int]func(State)
	nextID    int
	logger    *slog.Logger
}

type ProberOption func(*Prober)

func WithProbeInterval(interval time.Duration) ProberOption {
	return func(p *Prober) {
		if interval > 0 {
			p.interval = interval
		}
	}
}

func WithProbeLogger(logger *slog.Logger) ProberOption {
	return func(p *Prober) {
		p.logger = logger
	}
}

func WithProbeClient(client *http.Client) ProberOption {
	return func(p *Prober) {
		if client != nil {
			p.client = client
		}
	}
}

func NewProber(endpoint string, opts ...ProberOption) *Prober {
	p := &Prober{
		endpoint:  endpoint,
		client:    &http.Client{Timeout: 5 * time.Second},
		interval:  15 * time.Second,
		state:     State{IsConnected: true, Type: "unknown"},
		listeners: make(map[int]func(State)),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	return p
}

// Fetch probes the endpoint once and updates the cached state.
func (p *Prober) Fetch(ctx context.Context) (State, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.endpoint, nil)
	if err != nil {
		return State{}, err
	}
	resp, err := p.client.Do(req)
	connected := err == nil && resp.StatusCode < 500
	if resp != nil {
		resp.Body.Close()
	}
	state := State{IsConnected: connected, Type: "probe"}
	p.setState(state)
	return state, nil
}

// IsConnected reports the last observed state without probing.
func (p *Prober) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state.IsConnected
}

func (p *Prober) AddEventListener(callback func(State)) func() {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextID
	p.nextID++
	p.listeners[id] = callback
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.listeners, id)
	}
}

// Start probes periodically until ctx is cancelled.
func (p *Prober) Start(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if _, err := p.Fetch(ctx); err != nil {
				p.logger.Debug("connectivity probe failed", "error", err)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (p *Prober) setState(state State) {
	p.mu.Lock()
	changed := state.IsConnected != p.state.IsConnected
	p.state = state
	listeners := make([]func(State), 0, len(p.listeners))
	for _, callback := range p.listeners {
		listeners = append(listeners, callback)
	}
	p.mu.Unlock()

	if !changed {
		return
	}
	p.logger.Info("connectivity changed", "connected", state.IsConnected)
	for _, callback := range listeners {
		callback(state)
	}
}
