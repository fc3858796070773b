package onchain

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/mbd888/txguard/internal/address"
	"github.com/mbd888/txguard/internal/circuitbreaker"
	"github.com/mbd888/txguard/internal/logging"
	"github.com/mbd888/txguard/internal/metrics"
	"github.com/mbd888/txguard/internal/retry"
	"github.com/mbd888/txguard/internal/traces"
)

// Defaults for a Collector built without options.
const (
	DefaultTimeout   = 2 * time.Second
	DefaultAttempts  = 2
	DefaultBaseDelay = 100 * time.Millisecond
)

const day = 24 * time.Hour

// Collector runs the four lookups for an address concurrently, each under
// its own deadline, retry policy and circuit breaker.
type Collector struct {
	provider Provider
	timeout  time.Duration
	policy   retry.Policy
	breaker  *circuitbreaker.Breaker
	now      func() time.Time
}

// CollectorOption configures a Collector.
type CollectorOption func(*Collector)

// WithTimeout sets the per-lookup deadline, retries included.
func WithTimeout(d time.Duration) CollectorOption {
	return func(c *Collector) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithRetry sets how many times a lookup is attempted and the first backoff.
func WithRetry(attempts int, baseDelay time.Duration) CollectorOption {
	return func(c *Collector) {
		c.policy = retry.Policy{Attempts: attempts, BaseDelay: baseDelay, MaxDelay: c.timeout / 2}
	}
}

// WithBreaker replaces the per-lookup circuit breaker.
func WithBreaker(b *circuitbreaker.Breaker) CollectorOption {
	return func(c *Collector) { c.breaker = b }
}

// WithClock sets the time source used for contract age.
func WithClock(now func() time.Time) CollectorOption {
	return func(c *Collector) { c.now = now }
}

// NewCollector creates a collector over p. A nil provider yields unknown
// signals for every address.
func NewCollector(p Provider, opts ...CollectorOption) *Collector {
	c := &Collector{
		provider: p,
		timeout:  DefaultTimeout,
		breaker:  circuitbreaker.New(5, 30*time.Second),
		now:      time.Now,
	}
	c.policy = retry.Policy{Attempts: DefaultAttempts, BaseDelay: DefaultBaseDelay, MaxDelay: c.timeout / 2}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Collect gathers the on-chain signals for addr. It never fails: every
// lookup that errors, times out or is rejected by its breaker leaves its
// field nil and is listed in Signals.Unavailable.
func (c *Collector) Collect(ctx context.Context, addr address.Address) Signals {
	if c == nil || c.provider == nil || !addr.Valid {
		return Unknown()
	}

	ctx, span := traces.StartSpan(ctx, "onchain.Collect", traces.Address(addr.Normalized))
	defer span.End()

	target := addr.Common()
	var (
		nonce     uint64
		code      []byte
		verified  bool
		createdAt time.Time
		errs      [4]error
	)

	// Lookups never return an error to the group so that one failure does
	// not cancel its siblings.
	var g errgroup.Group
	g.Go(func() error {
		errs[0] = c.lookup(ctx, SignalTxCount, func(ctx context.Context) (err error) {
			nonce, err = c.provider.TransactionCount(ctx, target)
			return err
		})
		return nil
	})
	g.Go(func() error {
		errs[1] = c.lookup(ctx, SignalCode, func(ctx context.Context) (err error) {
			code, err = c.provider.Code(ctx, target)
			return err
		})
		return nil
	})
	g.Go(func() error {
		errs[2] = c.lookup(ctx, SignalVerification, func(ctx context.Context) (err error) {
			verified, err = c.provider.Verified(ctx, target)
			return err
		})
		return nil
	})
	g.Go(func() error {
		errs[3] = c.lookup(ctx, SignalAge, func(ctx context.Context) (err error) {
			createdAt, err = c.provider.CreatedAt(ctx, target)
			return err
		})
		return nil
	})
	_ = g.Wait()

	s := Signals{ContractType: ContractTypeUnknown}
	if errs[0] == nil {
		n := int64(min(nonce, uint64(1<<63-1))) //nolint:gosec // clamped above
		s.TxCount = &n
	}
	if errs[1] == nil {
		isContract := len(code) > 0
		s.IsContract = &isContract
		s.ContractType = ClassifyCode(code)
	}

	eoa := s.IsContract != nil && !*s.IsContract
	if !eoa {
		if errs[2] == nil {
			v := verified
			s.IsVerified = &v
		}
		if errs[3] == nil {
			age := int64(c.now().Sub(createdAt) / day)
			if age < 0 {
				age = 0
			}
			s.ContractAgeDays = &age
		}
	}

	names := [4]string{SignalTxCount, SignalCode, SignalVerification, SignalAge}
	for i, err := range errs {
		if err == nil || (eoa && i >= 2) {
			continue
		}
		s.Unavailable = append(s.Unavailable, names[i])
		metrics.SignalUnavailableTotal.WithLabelValues(names[i]).Inc()
		if !errors.Is(err, ErrUnsupported) {
			logging.L(ctx).Debug("on-chain signal unavailable",
				"address", addr.Normalized, "signal", names[i], "error", err)
		}
	}
	span.SetAttributes(attribute.StringSlice("onchain.unavailable", s.Unavailable))
	return s
}

// lookup runs fn under the breaker for signal, retrying within a single
// deadline. ErrUnsupported and ErrNotFound are answers, not outages: they
// are neither retried nor counted against the breaker.
func (c *Collector) lookup(ctx context.Context, signal string, fn func(context.Context) error) error {
	if !c.breaker.Allow(signal) {
		return circuitbreaker.ErrOpen
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	err := c.policy.Do(callCtx, func() error {
		err := fn(callCtx)
		if errors.Is(err, ErrUnsupported) || errors.Is(err, ErrNotFound) {
			return retry.Permanent(err)
		}
		return err
	})
	if err == nil && callCtx.Err() != nil {
		// The provider ignored the deadline; a late answer is no answer.
		err = callCtx.Err()
	}

	switch {
	case err == nil, errors.Is(err, ErrUnsupported), errors.Is(err, ErrNotFound):
		c.breaker.RecordSuccess(signal)
	default:
		c.breaker.RecordFailure(signal)
	}
	return err
}
