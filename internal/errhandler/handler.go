package errhandler

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"authcore/internal/errclass"
	"authcore/internal/metrics"
)

// Context describes where a failure happened.
type Context struct {
	Service   string
	Operation string
	UserID    string
	SessionID string
}

// RecoveryAction is a discrete instruction for the rest of the app.
type RecoveryAction struct {
	Type   string
	Target string
}

// Recovery action types emitted by the built-in handlers.
const (
	ActionLogout         = "logout"
	ActionRedirect       = "redirect"
	ActionRetryOperation = "retry_operation"
)

// HandlerResult is the decision returned for a handled error.
type HandlerResult struct {
	Handled             bool
	ShouldRetry         bool
	RetryDelay          time.Duration
	UserMessage         string
	RequiresReauth      bool
	RequiresLogout      bool
	PropagateToServices []string
	RecoveryActions     []RecoveryAction
}

// HandlerFunc decides what to do about one classified failure.
type HandlerFunc func(err error, classification errclass.Classification, ctx Context) HandlerResult

// Registration is one entry of the handler registry. Service and ErrorTypes
// accept "*" as a wildcard; ErrorTypes entries match the classified type or
// the raw provider error code.
type Registration struct {
	ID         string
	Service    string
	ErrorTypes []string
	Priority   int
	Handler    HandlerFunc
}

type registered struct {
	Registration
	seq int
}

// ActiveError is the latest unresolved error per service+operation.
type ActiveError struct {
	Service        string
	Operation      string
	Classification errclass.Classification
	Message        string
	At             time.Time
}

// Config bounds the sliding-window aggregation.
type Config struct {
	CountWindow time.Duration
}

func DefaultConfig() Config {
	return Config{CountWindow: 5 * time.Minute}
}

// Handler routes classified errors to the single highest-priority matching
// registration. Built-in defaults cover auth, network, session, and a
// generic catch-all.
type Handler struct {
	mu            sync.Mutex
	cfg           Config
	classify      func(error) errclass.Classification
	registrations []*registered
	nextSeq       int
	active        map[string]*ActiveError
	counts        map[string][]time.Time
	logger        *slog.Logger
	metrics       *metrics.Metrics
	now           func() time.Time
}

type Option func(*Handler)

func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		h.logger = logger
	}
}

func WithConfig(cfg Config) Option {
	return func(h *Handler) {
		if cfg.CountWindow > 0 {
			h.cfg.CountWindow = cfg.CountWindow
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Handler) {
		h.metrics = m
	}
}

// withClock overrides time in tests.
func withClock(now func() time.Time) Option {
	return func(h *Handler) {
		h.now = now
	}
}

func New(classify func(error) errclass.Classification, opts ...Option) (*Handler, error) {
	if classify == nil {
		return nil, fmt.Errorf("classifier is required")
	}
	h := &Handler{
		cfg:      DefaultConfig(),
		classify: classify,
		active:   make(map[string]*ActiveError),
		counts:   make(map[string][]time.Time),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	h.registerDefaults()
	return h, nil
}

// RegisterHandler adds a registration; an existing id is replaced.
func (h *Handler) RegisterHandler(reg Registration) error {
	if reg.ID == "" || reg.Handler == nil {
		return errors.New("handler registration requires id and handler")
	}
	if reg.Service == "" {
		reg.Service = "*"
	}
	if len(reg.ErrorTypes) == 0 {
		reg.ErrorTypes = []string{"*"}
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.unregisterLocked(reg.ID)
	h.registrations = append(h.registrations, &registered{Registration: reg, seq: h.nextSeq})
	h.nextSeq++
	return nil
}

func (h *Handler) UnregisterHandler(id string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.unregisterLocked(id)
}

func (h *Handler) unregisterLocked(id string) bool {
	for i, reg := range h.registrations {
		if reg.ID == id {
			h.registrations = append(h.registrations[:i], h.registrations[i+1:]...)
			return true
		}
	}
	return false
}

// HandleError classifies the failure, records it, and executes exactly one
// matching handler: the highest priority, ties broken by registration
// order.
func (h *Handler) HandleError(err error, ctx Context) HandlerResult {
	classification := h.classify(err)
	rawCode := codeOf(err)

	h.mu.Lock()
	now := h.now()
	h.active[activeKey(ctx)] = &ActiveError{
		Service:        ctx.Service,
		Operation:      ctx.Operation,
		Classification: classification,
		Message:        classification.UserMessage,
		At:             now,
	}
	h.recordCountLocked(ctx.Service, string(classification.Type), now)
	winner := h.selectLocked(ctx.Service, classification, rawCode)
	h.mu.Unlock()

	if h.metrics != nil {
		h.metrics.ErrorsHandled.WithLabelValues(ctx.Service, string(classification.Type)).Inc()
	}

	if winner == nil {
		// The generic catch-all makes this unreachable unless every
		// default was unregistered.
		return HandlerResult{Handled: false, UserMessage: classification.UserMessage}
	}

	h.logger.Info("handling error",
		"service", ctx.Service,
		"operation", ctx.Operation,
		"error_type", string(classification.Type),
		"handler_id", winner.ID,
	)
	return h.execute(winner, err, classification, ctx)
}

func (h *Handler) execute(reg *registered, err error, classification errclass.Classification, ctx Context) (result HandlerResult) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("error handler panicked", "handler_id", reg.ID, "error", fmt.Sprint(r))
			result = HandlerResult{Handled: false, UserMessage: classification.UserMessage}
		}
	}()
	return reg.Handler(err, classification, ctx)
}

// ClearActiveError drops the latest error for service+operation.
func (h *Handler) ClearActiveError(service, operation string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	key := activeKey(Context{Service: service, Operation: operation})
	if _, ok := h.active[key]; !ok {
		return false
	}
	delete(h.active, key)
	return true
}

// GetActiveErrors returns a copy of the latest error per service+operation.
func (h *Handler) GetActiveErrors() []ActiveError {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]ActiveError, 0, len(h.active))
	for _, active := range h.active {
		out = append(out, *active)
	}
	return out
}

// GetErrorCount reports how many errors of the given type the service saw
// inside the sliding window.
func (h *Handler) GetErrorCount(service, errorType string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	key := service + ":" + errorType
	h.pruneLocked(key, h.now())
	return len(h.counts[key])
}

func (h *Handler) recordCountLocked(service, errorType string, now time.Time) {
	key := service + ":" + errorType
	h.pruneLocked(key, now)
	h.counts[key] = append(h.counts[key], now)
}

func (h *Handler) pruneLocked(key string, now time.Time) {
	cutoff := now.Add(-h.cfg.CountWindow)
	entries := h.counts[key]
	kept := entries[:0]
	for _, at := range entries {
		if at.After(cutoff) {
			kept = append(kept, at)
		}
	}
	if len(kept) == 0 {
		delete(h.counts, key)
		return
	}
	h.counts[key] = kept
}

// selectLocked picks the single winning registration.
func (h *Handler) selectLocked(service string, classification errclass.Classification, rawCode string) *registered {
	var matches []*registered
	for _, reg := range h.registrations {
		if reg.Service != "*" && reg.Service != service {
			continue
		}
		if matchesType(reg.ErrorTypes, classification, rawCode) {
			matches = append(matches, reg)
		}
	}
	if len(matches) == 0 {
		return nil
	}
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Priority != matches[j].Priority {
			return matches[i].Priority > matches[j].Priority
		}
		return matches[i].seq < matches[j].seq
	})
	return matches[0]
}

func matchesType(errorTypes []string, classification errclass.Classification, rawCode string) bool {
	for _, t := range errorTypes {
		if t == "*" || t == string(classification.Type) || (rawCode != "" && t == rawCode) {
			return true
		}
	}
	return false
}

func activeKey(ctx Context) string {
	return ctx.Service + ":" + ctx.Operation
}

func codeOf(err error) string {
	var coder errclass.Coder
	if errors.As(err, &coder) {
		return coder.ErrorCode()
	}
	return ""
}
