package paygate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// Controller drives single-product purchases against a Store and turns the
// store's stream of transaction updates into one outcome per attempt.
// Outcomes are delivered to the Gate on the dispatcher.
// The Controller is safe for concurrent use. Create one per app session and
// pass it to whatever composes the gate and the feature UI.
type Controller struct {
	store          Store
	outcomes       Outcomes
	dispatcher     Dispatcher
	ownsDispatcher bool
	ledger         Ledger
	metrics        Metrics
	logger         zerolog.Logger
	ackRetry       RetryConfig
	throttle       *rate.Limiter
	historySize    int

	mu        sync.Mutex
	closed    bool
	resolving map[string]time.Time
	pending   map[string]*PurchaseAttempt
	history   []*PurchaseAttempt

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// NewController creates a Controller and starts observing store updates.
// The context bounds the lifetime of the observer; call Shutdown to stop it.
func NewController(ctx context.Context, store Store, outcomes Outcomes, opts ...Option) (*Controller, error) {
	if store == nil {
		return nil, fmt.Errorf("store is not configured")
	}
	if outcomes == nil {
		return nil, fmt.Errorf("outcomes receiver is not configured")
	}

	cfg := defaultControllerConfig()
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	controllerCtx, cancel := context.WithCancel(ctx)
	c := &Controller{
		store:       store,
		outcomes:    outcomes,
		dispatcher:  cfg.dispatcher,
		ledger:      cfg.ledger,
		metrics:     cfg.metrics,
		ackRetry:    cfg.ackRetry,
		throttle:    cfg.throttle,
		historySize: cfg.historySize,
		resolving:   make(map[string]time.Time),
		pending:     make(map[string]*PurchaseAttempt),
		ctx:         controllerCtx,
		cancel:      cancel,
	}

	if cfg.logger != nil {
		c.logger = *cfg.logger
	} else {
		c.logger = log.With().Str("component", "paygate.controller").Logger()
	}
	if c.ledger == nil {
		c.ledger = NewInMemoryLedger()
	}
	if c.metrics == nil {
		c.metrics = &NoOpMetrics{}
	}
	if c.dispatcher == nil {
		d, err := NewDispatcher(ctx, cfg.queueSize)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("failed to create dispatcher: %w", err)
		}
		c.dispatcher = d
		c.ownsDispatcher = true
	}

	c.wg.Add(1)
	go c.observe()

	return c, nil
}

// StartPurchase begins a purchase of productID in the background and returns
// immediately. It returns false, doing nothing, when a purchase of the product
// is already being resolved or is pending, when the trigger is throttled, or
// after Shutdown. The outcome reaches the Gate through the dispatcher.
func (c *Controller) StartPurchase(ctx context.Context, productID string) bool {
	if err := c.begin(productID, true); err != nil {
		c.logger.Debug().Err(err).Str("product", productID).Msg("ignoring purchase trigger")
		return false
	}

	go func() {
		defer c.wg.Done()
		_, _ = c.purchaseReserved(ctx, productID)
	}()
	return true
}

// Purchase resolves productID and submits a payment for it, blocking until the
// store accepted or rejected the submission. It does not wait for the terminal
// transaction update. Failures are reported to the Gate as well as returned.
// ErrPurchaseInFlight, ErrPurchaseThrottled and ErrControllerClosed are only
// returned, since nothing was attempted.
func (c *Controller) Purchase(ctx context.Context, productID string) (*PurchaseAttempt, error) {
	if err := c.begin(productID, false); err != nil {
		return nil, err
	}
	return c.purchaseReserved(ctx, productID)
}

func (c *Controller) purchaseReserved(ctx context.Context, productID string) (*PurchaseAttempt, error) {
	logger := c.logger.With().Str("product", productID).Logger()

	product, err := c.resolveProduct(ctx, productID)
	if err != nil {
		startedAt := c.release(productID)
		logger.Warn().Err(err).Msg("product resolution failed")
		c.recordOutcome(productID, "resolution_failed", time.Since(startedAt))
		c.reportFailure(err)
		return nil, err
	}

	attempt := c.onProductResolved(product)
	logger = logger.With().Str("attempt", attempt.ID).Logger()

	if err := c.store.SubmitPayment(ctx, product); err != nil {
		c.discard(attempt)
		perr := &PurchaseError{
			ProductID: productID,
			Reason:    "Could not submit the payment. Please try again.",
			Err:       err,
		}
		logger.Warn().Err(err).Msg("payment submission failed")
		c.recordOutcome(productID, "submit_failed", time.Since(attempt.StartedAt))
		c.reportFailure(perr)
		return nil, perr
	}

	logger.Info().Msg("payment submitted")
	return c.snapshot(attempt), nil
}

func (c *Controller) resolveProduct(ctx context.Context, productID string) (ProductDescriptor, error) {
	products, err := c.store.Products(ctx, []string{productID})
	if err != nil {
		return ProductDescriptor{}, &ProductResolutionError{ProductID: productID, Err: err}
	}
	for _, p := range products {
		if p.ID == productID {
			return p, nil
		}
	}
	return ProductDescriptor{}, &ProductResolutionError{ProductID: productID, Err: ErrProductNotFound}
}

// begin marks productID as being resolved. It fails if the controller is shut
// down, a purchase of the product is already in flight, or the trigger is
// throttled. A background purchase is added to the wait group under the same
// lock so Shutdown cannot miss it.
func (c *Controller) begin(productID string, background bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrControllerClosed
	}
	if _, ok := c.resolving[productID]; ok {
		return ErrPurchaseInFlight
	}
	if _, ok := c.pending[productID]; ok {
		return ErrPurchaseInFlight
	}
	if c.throttle != nil && !c.throttle.Allow() {
		c.recordOutcome(productID, "throttled", 0)
		return ErrPurchaseThrottled
	}
	c.resolving[productID] = time.Now()
	if background {
		c.wg.Add(1)
	}
	return nil
}

func (c *Controller) release(productID string) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	startedAt := c.resolving[productID]
	delete(c.resolving, productID)
	return startedAt
}

// onProductResolved creates the pending attempt for product.
func (c *Controller) onProductResolved(product ProductDescriptor) *PurchaseAttempt {
	c.mu.Lock()
	defer c.mu.Unlock()

	startedAt, ok := c.resolving[product.ID]
	if !ok {
		startedAt = time.Now()
	}
	delete(c.resolving, product.ID)

	attempt := &PurchaseAttempt{
		ID:        uuid.NewString(),
		Product:   product,
		Status:    AttemptPending,
		StartedAt: startedAt,
	}
	c.pending[product.ID] = attempt
	c.recordPurchaseStarted(product.ID)
	c.recordPending(len(c.pending))
	return attempt
}

func (c *Controller) discard(attempt *PurchaseAttempt) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pending[attempt.Product.ID] == attempt {
		delete(c.pending, attempt.Product.ID)
	}
	c.recordPending(len(c.pending))
}

// HandleTransactions processes a batch of store updates. The observer calls it
// for every batch read from Store.Updates; it may also be called directly.
func (c *Controller) HandleTransactions(ctx context.Context, txs ...Transaction) {
	for _, tx := range txs {
		c.onTransactionUpdate(ctx, tx)
	}
}

func (c *Controller) onTransactionUpdate(ctx context.Context, tx Transaction) {
	logger := c.logger.With().
		Str("handle", tx.Handle).
		Str("product", tx.ProductID).
		Str("state", string(tx.State)).
		Logger()

	if tx.Handle == "" {
		logger.Warn().Msg("transaction update without handle, ignoring")
		return
	}
	if !tx.State.Terminal() {
		c.bind(tx)
		logger.Debug().Msg("intermediate transaction update, waiting")
		return
	}

	if err := c.finalize(ctx, tx); err != nil {
		if errors.Is(err, ErrDuplicateFinalization) {
			logger.Debug().Msg("transaction already finalized, ignoring")
			c.recordDuplicate(tx.ProductID)
			return
		}
		logger.Error().Err(err).Msg("failed to finalize transaction")
		return
	}

	attempt := c.complete(tx)
	if attempt != nil {
		logger = logger.With().Str("attempt", attempt.ID).Logger()
		c.recordOutcome(tx.ProductID, string(attempt.Status), attempt.CompletedAt.Sub(attempt.StartedAt))
	}

	switch tx.State {
	case TransactionPurchased, TransactionRestored:
		logger.Info().Msg("purchase confirmed")
		c.dispatch(c.outcomes.OnPurchaseSucceeded)
	case TransactionFailed:
		if attempt == nil {
			logger.Info().Msg("finalized failed transaction from a previous session")
			return
		}
		reason := tx.failureReason()
		logger.Warn().Str("reason", reason).Msg("purchase failed")
		c.dispatch(func() { c.outcomes.OnPurchaseFailed(reason) })
	}
}

// finalize records tx in the ledger and acknowledges it to the store.
// It returns ErrDuplicateFinalization if the handle was finalized before.
func (c *Controller) finalize(ctx context.Context, tx Transaction) error {
	rec := &FinalizedTransaction{
		Handle:      tx.Handle,
		ProductID:   tx.ProductID,
		State:       tx.State,
		FinalizedAt: time.Now().UTC(),
	}
	if tx.State == TransactionFailed {
		rec.Reason = tx.failureReason()
	}

	stored, err := c.ledger.Record(ctx, rec)
	if err != nil {
		return fmt.Errorf("record transaction: %w", err)
	}
	if !stored {
		existing, err := c.ledger.Get(ctx, tx.Handle)
		if err != nil {
			c.logger.Warn().Err(err).Str("handle", tx.Handle).Msg("failed to load finalized transaction")
		} else if existing != nil && !existing.Acknowledged {
			c.acknowledge(ctx, tx.Handle)
		}
		return ErrDuplicateFinalization
	}

	c.acknowledge(ctx, tx.Handle)
	return nil
}

// acknowledge calls Store.Finish. A failure leaves the ledger record
// unacknowledged so a redelivery of the handle retries it.
func (c *Controller) acknowledge(ctx context.Context, handle string) {
	err := WithRetry(ctx, c.ackRetry, func(ctx context.Context) error {
		return c.store.Finish(ctx, handle)
	})
	if err != nil {
		c.logger.Warn().Err(err).Str("handle", handle).Msg("failed to finish transaction")
		return
	}
	if err := c.ledger.MarkAcknowledged(ctx, handle); err != nil {
		c.logger.Warn().Err(err).Str("handle", handle).Msg("failed to mark transaction acknowledged")
	}
}

// bind attaches an intermediate transaction's handle to the pending attempt for its product.
func (c *Controller) bind(tx Transaction) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if attempt, ok := c.pending[tx.ProductID]; ok && attempt.Handle == "" {
		attempt.Handle = tx.Handle
	}
}

// complete closes the pending attempt matching tx, if any, and returns a copy of it.
// A failure only closes an attempt already bound to its handle; an unbound
// attempt cannot tell its own failure from one left over by an earlier session.
func (c *Controller) complete(tx Transaction) *PurchaseAttempt {
	c.mu.Lock()
	defer c.mu.Unlock()

	attempt, ok := c.pending[tx.ProductID]
	if !ok {
		return nil
	}
	if attempt.Handle == "" && tx.State == TransactionFailed {
		return nil
	}
	if attempt.Handle != "" && attempt.Handle != tx.Handle {
		return nil
	}
	delete(c.pending, tx.ProductID)

	attempt.Handle = tx.Handle
	attempt.Status = attemptStatusFor(tx.State)
	attempt.CompletedAt = time.Now()
	if tx.State == TransactionFailed {
		attempt.Reason = tx.failureReason()
	}

	c.history = append(c.history, attempt)
	if len(c.history) > c.historySize {
		c.history = c.history[len(c.history)-c.historySize:]
	}
	c.recordPending(len(c.pending))

	cp := *attempt
	return &cp
}

func (c *Controller) reportFailure(err error) {
	msg := UserMessage(err)
	c.dispatch(func() { c.outcomes.OnPurchaseFailed(msg) })
}

// dispatch hands task to the dispatcher. Submission outlives the controller
// context so outcomes produced during Shutdown still reach the gate.
func (c *Controller) dispatch(task Task) {
	if err := c.dispatcher.Submit(context.WithoutCancel(c.ctx), task); err != nil {
		c.logger.Error().Err(err).Msg("failed to dispatch gate update")
	}
}

func (c *Controller) observe() {
	defer c.wg.Done()

	updates := c.store.Updates()
	for {
		select {
		case batch, ok := <-updates:
			if !ok {
				c.logger.Debug().Msg("store updates closed")
				return
			}
			c.HandleTransactions(c.ctx, batch...)
		case <-c.ctx.Done():
			return
		}
	}
}

// Busy reports whether a purchase of productID is being resolved or is pending.
// The purchase trigger should be disabled while it returns true.
func (c *Controller) Busy(productID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, resolving := c.resolving[productID]
	_, pending := c.pending[productID]
	return resolving || pending
}

// Pending returns copies of the attempts still waiting for a terminal update.
func (c *Controller) Pending() []PurchaseAttempt {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]PurchaseAttempt, 0, len(c.pending))
	for _, a := range c.pending {
		out = append(out, *a)
	}
	return out
}

// History returns up to limit completed attempts, newest first.
func (c *Controller) History(limit int) []PurchaseAttempt {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := len(c.history)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]PurchaseAttempt, 0, n)
	for i := len(c.history) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, *c.history[i])
	}
	return out
}

func (c *Controller) snapshot(attempt *PurchaseAttempt) *PurchaseAttempt {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := *attempt
	return &cp
}

// Shutdown stops observing the store, waits for background purchases and,
// if the Controller created its own dispatcher, drains and closes it.
func (c *Controller) Shutdown() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()
	if c.ownsDispatcher {
		c.dispatcher.Close()
	}
}
