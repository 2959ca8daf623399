// Package reconciler expires unpaid orders and advances event and ticket
// lifecycle state on a schedule.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"booking-service/internal/apperr"
	"booking-service/internal/models"
	"booking-service/internal/redisclient"
	"booking-service/internal/store"
	"booking-service/internal/util"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

const (
	sweepJobName = "reconciler-sweep"
	dailyJobName = "reconciler-daily"
)

// Locker elects a single sweeper across replicas
type Locker interface {
	TryLock(ctx context.Context, name string, ttl time.Duration) (*redisclient.Lock, error)
}

// ExpiredPublisher announces orders cancelled by the sweep
type ExpiredPublisher interface {
	PublishOrderExpired(ctx context.Context, event *models.OrderExpiredEvent) error
}

type Config struct {
	Interval    time.Duration
	BatchSize   int
	TicketGrace time.Duration
	Location    *time.Location
	LockTTL     time.Duration
}

// SweepReport counts the records changed by one Sweep
type SweepReport struct {
	Skipped           bool  `json:"skipped"`
	OrdersExpired     int   `json:"orders_expired"`
	OrderFailures     int   `json:"order_failures"`
	EventsPending     int64 `json:"events_pending"`
	EventsActive      int64 `json:"events_active"`
	EventsCompleted   int64 `json:"events_completed"`
	CheckInsReset     int64 `json:"check_ins_reset"`
	TicketsExpired    int64 `json:"tickets_expired"`
	TicketsReconciled int64 `json:"tickets_reconciled"`
}

// DailyReport counts the check-ins created by one DailySweep
type DailyReport struct {
	Skipped       bool  `json:"skipped"`
	CheckInsAdded int64 `json:"check_ins_added"`
}

// Reconciler owns the scheduled sweeps. Start registers the jobs, Stop
// cancels a running sweep and shuts the scheduler down.
type Reconciler struct {
	repo      store.Repository
	locker    Locker
	publisher ExpiredPublisher
	clock     clockwork.Clock
	cfg       Config
	scheduler gocron.Scheduler
	logger    *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a reconciler. locker and publisher may be nil.
func New(repo store.Repository, locker Locker, publisher ExpiredPublisher, clock clockwork.Clock, cfg Config) (*Reconciler, error) {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	if cfg.TicketGrace <= 0 {
		cfg.TicketGrace = 7 * 24 * time.Hour
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = cfg.Interval
	}

	scheduler, err := gocron.NewScheduler(
		gocron.WithClock(clock),
		gocron.WithLocation(cfg.Location),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Reconciler{
		repo:      repo,
		locker:    locker,
		publisher: publisher,
		clock:     clock,
		cfg:       cfg,
		scheduler: scheduler,
		logger:    util.GetLogger(),
		ctx:       ctx,
		cancel:    cancel,
	}, nil
}

// Start registers the sweep jobs and starts the scheduler
func (r *Reconciler) Start() error {
	_, err := r.scheduler.NewJob(
		gocron.DurationJob(r.cfg.Interval),
		gocron.NewTask(r.runSweep),
		gocron.WithName(sweepJobName),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("failed to schedule sweep: %w", err)
	}

	_, err = r.scheduler.NewJob(
		gocron.DailyJob(1, gocron.NewAtTimes(gocron.NewAtTime(0, 0, 0))),
		gocron.NewTask(r.runDailySweep),
		gocron.WithName(dailyJobName),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("failed to schedule daily sweep: %w", err)
	}

	r.scheduler.Start()
	r.logger.Info("Reconciler started",
		zap.Duration("interval", r.cfg.Interval),
		zap.String("location", r.cfg.Location.String()))
	return nil
}

// Stop cancels in-flight sweeps and waits for the scheduler to exit
func (r *Reconciler) Stop() error {
	r.cancel()
	if err := r.scheduler.Shutdown(); err != nil {
		return fmt.Errorf("failed to stop scheduler: %w", err)
	}
	r.logger.Info("Reconciler stopped")
	return nil
}

func (r *Reconciler) runSweep() {
	report, err := r.Sweep(r.ctx)
	if err != nil {
		r.logger.Error("Sweep finished with errors", zap.Error(err))
	}
	if report != nil && !report.Skipped {
		r.logger.Debug("Sweep finished", zap.Any("report", report))
	}
}

func (r *Reconciler) runDailySweep() {
	report, err := r.DailySweep(r.ctx)
	if err != nil {
		r.logger.Error("Daily sweep failed", zap.Error(err))
		return
	}
	r.logger.Info("Daily sweep finished", zap.Any("report", report))
}

// Sweep expires unpaid orders and advances event and ticket state. A failing
// step is logged and the remaining steps still run; their errors are joined.
func (r *Reconciler) Sweep(ctx context.Context) (*SweepReport, error) {
	ctx, span := util.StartSpan(ctx, "Reconciler.Sweep")
	defer span.End()

	start := time.Now()
	defer func() {
		util.ReconcilerSweepDuration.WithLabelValues("interval").Observe(time.Since(start).Seconds())
	}()

	release, ok, err := r.acquire(ctx, "sweep")
	if err != nil {
		return nil, err
	}
	if !ok {
		return &SweepReport{Skipped: true}, nil
	}
	defer release()

	now := r.clock.Now()
	report := &SweepReport{}
	var errs []error

	if err := r.expireOrders(ctx, now, report); err != nil {
		errs = append(errs, err)
	}

	steps := []struct {
		name string
		run  func() (int64, error)
		dst  *int64
	}{
		{"events_pending", func() (int64, error) { return r.repo.MarkEventsPending(ctx, now) }, &report.EventsPending},
		{"events_active", func() (int64, error) { return r.repo.MarkEventsActive(ctx, now) }, &report.EventsActive},
		{"events_completed", func() (int64, error) { return r.repo.MarkEventsCompleted(ctx, now) }, &report.EventsCompleted},
		{"check_ins_reset", func() (int64, error) { return r.repo.ResetDailyCheckIns(ctx, r.today(now)) }, &report.CheckInsReset},
		{"tickets_expired", func() (int64, error) {
			return r.repo.ExpireCompletedEventTickets(ctx, now.Add(r.cfg.TicketGrace), now)
		}, &report.TicketsExpired},
		{"tickets_reconciled", func() (int64, error) { return r.repo.ReconcileTicketStatuses(ctx, now) }, &report.TicketsReconciled},
	}

	for _, step := range steps {
		n, err := step.run()
		if err != nil {
			r.logger.Error("Sweep step failed", zap.String("step", step.name), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", step.name, err))
			continue
		}
		*step.dst = n
		if n > 0 {
			util.ReconcilerAffectedTotal.WithLabelValues(step.name).Add(float64(n))
		}
	}

	err = errors.Join(errs...)
	util.RecordError(span, err)
	return report, err
}

// DailySweep adds today's pending check-in to every booked ticket of an
// active event that has not ended
func (r *Reconciler) DailySweep(ctx context.Context) (*DailyReport, error) {
	ctx, span := util.StartSpan(ctx, "Reconciler.DailySweep")
	defer span.End()

	start := time.Now()
	defer func() {
		util.ReconcilerSweepDuration.WithLabelValues("daily").Observe(time.Since(start).Seconds())
	}()

	release, ok, err := r.acquire(ctx, "daily")
	if err != nil {
		return nil, err
	}
	if !ok {
		return &DailyReport{Skipped: true}, nil
	}
	defer release()

	now := r.clock.Now()
	n, err := r.repo.AppendDailyCheckIns(ctx, r.today(now), now)
	if err != nil {
		util.RecordError(span, err)
		return nil, fmt.Errorf("failed to append daily check-ins: %w", err)
	}
	util.ReconcilerAffectedTotal.WithLabelValues("check_ins_added").Add(float64(n))
	return &DailyReport{CheckInsAdded: n}, nil
}

// expireOrders cancels each expired order in its own transaction. A failed
// order is counted and skipped.
func (r *Reconciler) expireOrders(ctx context.Context, now time.Time, report *SweepReport) error {
	orders, err := r.repo.ListExpiredOrders(ctx, now, r.cfg.BatchSize)
	if err != nil {
		r.logger.Error("Failed to list expired orders", zap.Error(err))
		return fmt.Errorf("list expired orders: %w", err)
	}

	for _, o := range orders {
		expired, err := r.expireOrder(ctx, o.ID, now)
		if err != nil {
			report.OrderFailures++
			r.logger.Error("Failed to expire order",
				zap.String("order_id", o.ID),
				zap.Error(err))
			continue
		}
		if !expired {
			continue
		}

		report.OrdersExpired++
		util.OrdersExpiredTotal.Inc()
		r.logger.Info("Order expired",
			zap.String("order_id", o.ID),
			zap.Int("tickets", len(o.TicketIDs)))
		r.publishExpired(ctx, &o, now)
	}
	return nil
}

// expireOrder reports false when the order was paid or removed meanwhile
func (r *Reconciler) expireOrder(ctx context.Context, orderID string, now time.Time) (bool, error) {
	var expired bool
	err := r.repo.WithTx(ctx, func(ctx context.Context, repo store.Repository) error {
		current, err := repo.GetOrder(ctx, orderID)
		if errors.Is(err, apperr.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		cancelled, err := repo.CancelExpiredOrder(ctx, current.ID, now)
		if err != nil || !cancelled {
			return err
		}
		if err := repo.DeleteOrder(ctx, current.ID); err != nil {
			return err
		}
		if _, err := repo.CancelTickets(ctx, current.TicketIDs, now); err != nil {
			return err
		}
		expired = true
		return nil
	})
	return expired, err
}

func (r *Reconciler) publishExpired(ctx context.Context, o *models.Order, now time.Time) {
	if r.publisher == nil {
		return
	}
	event := &models.OrderExpiredEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeOrderExpired,
			Timestamp: now,
		},
		OrderID: o.ID,
		UserID:  o.UserID,
	}
	if err := r.publisher.PublishOrderExpired(ctx, event); err != nil {
		r.logger.Error("Failed to publish OrderExpired event", zap.Error(err))
	}
}

// acquire takes the named sweep lock when a locker is configured
func (r *Reconciler) acquire(ctx context.Context, name string) (func(), bool, error) {
	if r.locker == nil {
		return func() {}, true, nil
	}

	lock, err := r.locker.TryLock(ctx, "reconciler:"+name, r.cfg.LockTTL)
	if err != nil {
		return nil, false, fmt.Errorf("failed to acquire %s lock: %w", name, err)
	}
	if lock == nil {
		r.logger.Debug("Sweep lock held by another instance", zap.String("sweep", name))
		return nil, false, nil
	}

	return func() {
		if err := lock.Release(context.Background()); err != nil {
			r.logger.Warn("Failed to release sweep lock", zap.String("sweep", name), zap.Error(err))
		}
	}, true, nil
}

// today is the current calendar date in the configured location, as a UTC
// midnight for date columns
func (r *Reconciler) today(now time.Time) time.Time {
	y, m, d := now.In(r.cfg.Location).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
