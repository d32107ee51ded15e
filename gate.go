package paygate

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// Presentation is the view the gate wants on screen.
type Presentation string

const (
	// PresentNone means nothing is decided yet, or the paywall was dismissed.
	PresentNone Presentation = "none"
	// PresentPaywall means the subscription offer must be shown.
	PresentPaywall Presentation = "paywall"
	// PresentFeature means the gated feature is available.
	PresentFeature Presentation = "feature"
)

// GateEvent is a snapshot published to subscribers after every change.
type GateEvent struct {
	State        EntitlementState
	Presentation Presentation
	// Alert is the pending user-facing message, empty if none.
	Alert string
}

// Outcomes receives the terminal result of purchase attempts.
// Gate implements it; the Controller calls it on the dispatcher.
type Outcomes interface {
	OnPurchaseSucceeded()
	OnPurchaseFailed(reason string)
}

// Gate owns the entitlement state and decides between the paywall and the feature.
// The Gate is safe for concurrent use.
type Gate struct {
	source EntitlementSource
	logger zerolog.Logger
	checks singleflight.Group

	mu          sync.RWMutex
	state       EntitlementState
	paywallOpen bool
	alert       string
	subscribers map[int]chan GateEvent
	nextSubID   int
}

// GateOption configures a Gate.
type GateOption func(*Gate)

// WithGateLogger sets the logger used by the Gate.
func WithGateLogger(logger zerolog.Logger) GateOption {
	return func(g *Gate) {
		g.logger = logger
	}
}

// NewGate creates a Gate in the unknown state.
// A nil source behaves like StaticEntitlementSource{}.
func NewGate(source EntitlementSource, opts ...GateOption) *Gate {
	if source == nil {
		source = StaticEntitlementSource{}
	}
	g := &Gate{
		source:      source,
		logger:      log.With().Str("component", "paygate.gate").Logger(),
		state:       EntitlementUnknown,
		subscribers: make(map[int]chan GateEvent),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// CheckEntitlement asks the entitlement source once, while the state is still unknown.
// Later calls return the decided state without contacting the source.
// A failing source is treated as "not entitled": the paywall is shown and the
// error is returned for the caller to log.
func (g *Gate) CheckEntitlement(ctx context.Context) (EntitlementState, error) {
	if st := g.State(); st != EntitlementUnknown {
		return st, nil
	}

	v, err, _ := g.checks.Do("check", func() (interface{}, error) {
		return g.source.Check(ctx)
	})
	next := EntitlementNotEntitled
	if err != nil {
		g.logger.Warn().Err(err).Msg("entitlement check failed, showing paywall")
	} else if entitled, _ := v.(bool); entitled {
		next = EntitlementEntitled
	}

	g.mu.Lock()
	if g.transitionLocked(next) && next == EntitlementNotEntitled {
		g.paywallOpen = true
	}
	st := g.state
	g.publishLocked()
	g.mu.Unlock()

	g.logger.Debug().Str("state", string(st)).Msg("entitlement checked")
	return st, err
}

// OnPurchaseSucceeded grants entitlement and closes the paywall.
func (g *Gate) OnPurchaseSucceeded() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.transitionLocked(EntitlementEntitled) {
		g.logger.Info().Msg("entitlement granted")
	}
	g.paywallOpen = false
	g.publishLocked()
}

// OnPurchaseFailed surfaces reason to the user. The entitlement state is left
// unchanged unless it was still unknown, and the paywall stays where it is.
func (g *Gate) OnPurchaseFailed(reason string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.transitionLocked(EntitlementNotEntitled) {
		g.paywallOpen = true
	}
	g.alert = reason
	g.publishLocked()
}

// transitionLocked applies to if the transition table allows it.
func (g *Gate) transitionLocked(to EntitlementState) bool {
	if !CanTransition(g.state, to) {
		return false
	}
	g.state = to
	return true
}

// DismissPaywall closes the paywall without a purchase.
func (g *Gate) DismissPaywall() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.paywallOpen {
		return
	}
	g.paywallOpen = false
	g.publishLocked()
}

// ShowPaywall presents the paywall again while the user is not entitled.
func (g *Gate) ShowPaywall() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state != EntitlementNotEntitled || g.paywallOpen {
		return
	}
	g.paywallOpen = true
	g.publishLocked()
}

// AcknowledgeAlert clears the pending alert.
func (g *Gate) AcknowledgeAlert() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.alert == "" {
		return
	}
	g.alert = ""
	g.publishLocked()
}

// Alert returns the pending alert message, if any.
func (g *Gate) Alert() (string, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.alert, g.alert != ""
}

func (g *Gate) State() EntitlementState {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.state
}

func (g *Gate) IsEntitled() bool {
	return g.State() == EntitlementEntitled
}

// Presentation returns which view should be on screen.
func (g *Gate) Presentation() Presentation {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.presentationLocked()
}

func (g *Gate) presentationLocked() Presentation {
	switch {
	case g.state == EntitlementEntitled:
		return PresentFeature
	case g.state == EntitlementNotEntitled && g.paywallOpen:
		return PresentPaywall
	default:
		return PresentNone
	}
}

// Subscribe returns a channel receiving the latest GateEvent after each change.
// Slow readers only see the most recent event. Call the returned func to unsubscribe.
func (g *Gate) Subscribe() (<-chan GateEvent, func()) {
	g.mu.Lock()
	defer g.mu.Unlock()

	id := g.nextSubID
	g.nextSubID++
	ch := make(chan GateEvent, 1)
	g.subscribers[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			g.mu.Lock()
			defer g.mu.Unlock()
			delete(g.subscribers, id)
			close(ch)
		})
	}
}

func (g *Gate) publishLocked() {
	ev := GateEvent{
		State:        g.state,
		Presentation: g.presentationLocked(),
		Alert:        g.alert,
	}
	for _, ch := range g.subscribers {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- ev:
		default:
		}
	}
}
