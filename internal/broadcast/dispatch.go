package broadcast

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc/pool"

	"market-oracle-bot/config"
	"market-oracle-bot/internal/report"
	"market-oracle-bot/internal/types"
	"market-oracle-bot/lib/helpers"
)

// Sender is the outbound message transport
type Sender interface {
	Text(ctx context.Context, chatID int64, text string) error
	Image(ctx context.Context, chatID int64, png []byte, caption string) error
}

// Summary counts what one dispatch delivered
type Summary struct {
	Subscribers int
	Messages    int
	Photos      int
	Failures    int
}

// Throttle enforces a minimum delay between two sends to the same chat,
// including sends from earlier passes.
type Throttle struct {
	mu    sync.Mutex
	delay time.Duration
	last  map[int64]time.Time
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func NewThrottle(delay time.Duration) *Throttle {
	return &Throttle{
		delay: delay,
		last:  make(map[int64]time.Time),
		now:   time.Now,
		sleep: sleepContext,
	}
}

// Wait reserves the next send slot for chatID and blocks until it arrives
func (t *Throttle) Wait(ctx context.Context, chatID int64) error {
	t.mu.Lock()
	now := t.now()
	slot := now
	if last, ok := t.last[chatID]; ok {
		if next := last.Add(t.delay); next.After(now) {
			slot = next
		}
	}
	t.last[chatID] = slot
	t.mu.Unlock()

	if wait := slot.Sub(now); wait > 0 {
		return t.sleep(ctx, wait)
	}
	return nil
}

// Dispatcher fans batches out to subscribers in parallel
type Dispatcher struct {
	sender   Sender
	cfg      config.DeliverySettings
	workers  int
	throttle *Throttle
}

type DispatcherOption func(*Dispatcher)

func WithThrottle(t *Throttle) DispatcherOption {
	return func(d *Dispatcher) {
		d.throttle = t
	}
}

func WithWorkers(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.workers = n
		}
	}
}

func NewDispatcher(sender Sender, cfg config.DeliverySettings, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		sender:   sender,
		cfg:      cfg,
		workers:  4,
		throttle: NewThrottle(cfg.MessageDelay),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch delivers every batch. A failing subscriber is logged and counted
// and never blocks the others.
func (d *Dispatcher) Dispatch(ctx context.Context, batches []Batch, kind types.PassKind, at time.Time) Summary {
	var (
		mu  sync.Mutex
		sum Summary
	)

	p := pool.New().WithMaxGoroutines(d.workers).WithContext(ctx)
	for _, b := range batches {
		b := b
		p.Go(func(ctx context.Context) error {
			msgs, photos, err := d.deliver(ctx, b, kind, at)

			mu.Lock()
			defer mu.Unlock()
			sum.Subscribers++
			sum.Messages += msgs
			sum.Photos += photos
			if err != nil {
				sum.Failures++
				log.WithFields(log.Fields{
					"chat_id": b.Subscriber.ChatID,
					"sent":    msgs,
				}).Errorf("delivery failed: %v", err)
			}
			return nil
		})
	}
	p.Wait()
	return sum
}

func (d *Dispatcher) deliver(ctx context.Context, b Batch, kind types.PassKind, at time.Time) (int, int, error) {
	chatID := b.Subscriber.ChatID
	photos := 0

	if d.cfg.ChartsEnabled {
		for _, r := range b.Reports {
			if !r.Significant || len(r.Chart) == 0 {
				continue
			}
			if err := d.throttle.Wait(ctx, chatID); err != nil {
				return 0, photos, err
			}
			caption := fmt.Sprintf("<b>%s</b>", helpers.EscapeHTML(r.Ticker))
			if err := d.sender.Image(ctx, chatID, r.Chart, caption); err != nil {
				return 0, photos, errors.Wrapf(err, "chart %s", r.Ticker)
			}
			photos++
		}
	}

	blocks := make([]string, 0, len(b.Reports)+1)
	blocks = append(blocks, report.Header(kind, at))
	for _, r := range b.Reports {
		blocks = append(blocks, r.Body)
	}

	sent := 0
	for _, chunk := range report.Split(blocks, d.cfg.ChunkLimit) {
		if err := d.throttle.Wait(ctx, chatID); err != nil {
			return sent, photos, err
		}
		if err := d.sender.Text(ctx, chatID, chunk); err != nil {
			return sent, photos, err
		}
		sent++
	}
	return sent, photos, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
