// Package recovery resumes persisted pending tasks after a restart and
// runs the periodic reconciliation loops: order-id recovery, expired
// pending-task cleanup and the pending-task digest broadcast.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/supplywise/supplybot/internal/config"
	"github.com/supplywise/supplybot/internal/db"
	"github.com/supplywise/supplybot/internal/logging"
	"github.com/supplywise/supplybot/internal/marketplace"
	"github.com/supplywise/supplybot/internal/models"
	"github.com/supplywise/supplybot/internal/notify"
	"github.com/supplywise/supplybot/internal/process"
)

// Service errors.
var (
	ErrAlreadyRunning = errors.New("recovery service already running")
	ErrNotRunning     = errors.New("recovery service not running")
)

// TaskLauncher starts a background orchestrator run for a task. The
// wizard handler implements it, so resumed tasks share the live event
// handling end to end.
type TaskLauncher interface {
	LaunchTask(task *models.SupplyTask, creds models.Credentials)
}

// Service drives task resumption and the periodic recovery loops.
type Service struct {
	cfg      config.RecoveryConfig
	retry    config.RetryConfig
	orders   *db.OrderRepository
	creds    *db.CredentialRepository
	client   marketplace.Client
	launcher TaskLauncher
	notifier notify.Notifier
	logger   zerolog.Logger

	mu      sync.Mutex
	running bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	// summaryBusy is the reentrancy guard for the digest broadcast.
	summaryBusy atomic.Bool

	// now is injectable for tests.
	now func() time.Time
}

// NewService creates a recovery Service.
func NewService(
	cfg config.RecoveryConfig,
	retry config.RetryConfig,
	orders *db.OrderRepository,
	creds *db.CredentialRepository,
	client marketplace.Client,
	launcher TaskLauncher,
	notifier notify.Notifier,
) *Service {
	return &Service{
		cfg:      cfg,
		retry:    retry,
		orders:   orders,
		creds:    creds,
		client:   client,
		launcher: launcher,
		notifier: notifier,
		logger:   logging.Component("recovery"),
		now:      time.Now,
	}
}

// Start replays persisted pending tasks and begins the periodic loops.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.running = true
	s.mu.Unlock()

	s.logger.Info().
		Dur("order_id_interval", s.cfg.OrderIDInterval).
		Dur("cleanup_interval", s.cfg.CleanupInterval).
		Dur("summary_interval", s.cfg.SummaryInterval).
		Msg("recovery service starting")

	if err := s.resumePendingTasks(s.ctx); err != nil {
		s.logger.Error().Err(err).Msg("failed to resume pending tasks")
	}

	s.wg.Add(3)
	go s.loop(s.cfg.OrderIDInterval, s.recoverOrderIDs)
	go s.loop(s.cfg.CleanupInterval, s.cleanupExpiredTasks)
	go s.loop(s.cfg.SummaryInterval, s.broadcastSummary)
	return nil
}

// Stop halts the periodic loops.
func (s *Service) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return ErrNotRunning
	}
	s.cancel()
	s.running = false
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info().Msg("recovery service stopped")
	return nil
}

func (s *Service) loop(interval time.Duration, fn func(context.Context)) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			fn(s.ctx)
		}
	}
}

// resumePendingTasks re-drives every persisted pending task through the
// orchestrator, exactly as the live wizard would.
func (s *Service) resumePendingTasks(ctx context.Context) error {
	records, err := s.orders.ListTasks(ctx, 0)
	if err != nil {
		return fmt.Errorf("failed to list pending tasks: %w", err)
	}
	if len(records) == 0 {
		return nil
	}

	s.logger.Info().Int("count", len(records)).Msg("resuming pending tasks")

	group, groupCtx := errgroup.WithContext(ctx)
	for _, record := range records {
		record := record
		group.Go(func() error {
			if record.Task == nil {
				s.logger.Warn().Str("task_id", record.TaskID).Msg("pending record has no task payload, skipping")
				return nil
			}

			creds, err := s.creds.Get(groupCtx, record.ChatID)
			if err != nil {
				s.logger.Warn().
					Err(err).
					Str("task_id", record.TaskID).
					Int64("chat_id", record.ChatID).
					Msg("skipping task resume: credentials unavailable")
				return nil
			}

			task := record.Task.Clone()
			task.ChatID = record.ChatID
			s.launcher.LaunchTask(task, creds)
			return nil
		})
	}
	return group.Wait()
}

// recoverOrderIDs fills in missing order ids for completed supplies. A
// permanent-miss failure on a record older than the staleness threshold
// marks it terminally failed instead of retrying forever.
func (s *Service) recoverOrderIDs(ctx context.Context) {
	records, err := s.orders.ListSupplyMissingOrderID(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to list supplies missing order ids")
		return
	}

	for _, record := range records {
		if ctx.Err() != nil {
			return
		}

		creds, err := s.creds.Get(ctx, record.ChatID)
		if err != nil {
			s.logger.Warn().Err(err).Str("task_id", record.TaskID).Msg("cannot recover order id: credentials unavailable")
			continue
		}

		resolution := process.ResolveOrderIDWithRetries(ctx, s.client, creds, record.OperationID, process.RetryPolicy{
			Attempts: s.retry.OrderIDAttempts,
			Delay:    s.retry.OrderIDDelay,
		})

		if resolution.OK() {
			if err := s.orders.SetOrderID(ctx, record.ChatID, record.TaskID, resolution.First()); err != nil {
				s.logger.Error().Err(err).Str("task_id", record.TaskID).Msg("failed to persist recovered order id")
				continue
			}
			s.logger.Info().
				Str("task_id", record.TaskID).
				Int64("order_id", resolution.First()).
				Msg("order id recovered")
			continue
		}

		if s.isPermanentMiss(resolution) && s.isStale(record) {
			code := string(resolution.FailureReason)
			if resolution.LastStatusCode != 0 {
				code = fmt.Sprintf("%s (%d)", code, resolution.LastStatusCode)
			}
			if err := s.orders.MarkFailedWithoutOrderID(ctx, record.ChatID, record.TaskID, code, resolution.LastErrorMessage); err != nil {
				s.logger.Error().Err(err).Str("task_id", record.TaskID).Msg("failed to mark record failed")
				continue
			}
			s.logger.Warn().
				Str("task_id", record.TaskID).
				Str("code", code).
				Msg("order id marked unresolvable")
			s.notifier.NotifyWizard(ctx, "order_id_unresolvable", []string{
				fmt.Sprintf("task %s (chat %d): %s %s", record.TaskID, record.ChatID, code, resolution.LastErrorMessage),
			})
		}
	}
}

// isPermanentMiss reports the fast-failing class of resolution failure
// (remote saga gone) that retrying cannot fix.
func (s *Service) isPermanentMiss(result process.OrderIDResult) bool {
	if result.FailureReason != process.FailureNotFound {
		return false
	}
	if result.LastStatusCode == 404 {
		return true
	}
	return strings.Contains(strings.ToLower(result.LastErrorMessage), "not found")
}

// isStale reports whether the record is older than the staleness
// threshold, measured from completion when known, creation otherwise.
func (s *Service) isStale(record *models.SupplyOrderRecord) bool {
	reference := record.CreatedAt
	if record.CompletedAt != nil {
		reference = *record.CompletedAt
	}
	return s.now().Sub(reference) > s.cfg.StaleAfter
}

// cleanupExpiredTasks purges pending tasks whose deadline has passed.
func (s *Service) cleanupExpiredTasks(ctx context.Context) {
	records, err := s.orders.ListTasks(ctx, 0)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to list pending tasks")
		return
	}

	now := s.now()
	for _, record := range records {
		if ctx.Err() != nil {
			return
		}
		if record.Task == nil || !record.Task.Expired(now) {
			continue
		}

		if err := s.orders.DeleteByTaskID(ctx, record.ChatID, record.TaskID); err != nil {
			s.logger.Error().Err(err).Str("task_id", record.TaskID).Msg("failed to delete expired task")
			continue
		}

		s.logger.Info().
			Str("task_id", record.TaskID).
			Time("last_day", record.Task.LastDay).
			Msg("expired pending task purged")
		s.notifier.NotifyUser(ctx, record.ChatID,
			fmt.Sprintf("Task %s expired: its delivery deadline %s has passed.", record.TaskID, record.Task.LastDay.Format("2006-01-02")))
		s.notifier.NotifyWizard(ctx, "window_expired", []string{
			fmt.Sprintf("task %s (chat %d): deadline %s passed, record purged", record.TaskID, record.ChatID, record.Task.LastDay.Format(time.RFC3339)),
		})
	}
}

// broadcastSummary publishes the pending-task digest. Skipped when a
// previous broadcast is still in flight.
func (s *Service) broadcastSummary(ctx context.Context) {
	if !s.summaryBusy.CompareAndSwap(false, true) {
		s.logger.Debug().Msg("summary broadcast still in flight, skipping")
		return
	}
	defer s.summaryBusy.Store(false)

	summaries, err := s.orders.ListTaskSummaries(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to list task summaries")
		return
	}
	if len(summaries) == 0 {
		return
	}

	lines := make([]string, 0, len(summaries)+1)
	lines = append(lines, fmt.Sprintf("%d pending supply task(s)", len(summaries)))
	for _, summary := range summaries {
		lines = append(lines, fmt.Sprintf(
			"%s (chat %d): %s / %s, %d item(s), deadline %s",
			summary.TaskID, summary.ChatID, summary.City, summary.WarehouseName,
			summary.ItemCount, summary.LastDay.Format("2006-01-02"),
		))
	}
	s.notifier.NotifyWizard(ctx, "pending_tasks", lines)
}
