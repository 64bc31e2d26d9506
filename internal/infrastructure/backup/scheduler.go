package backup

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"overlaycast/internal/core/domain"
	"overlaycast/internal/core/ports"
	"overlaycast/pkg/backup"

	"go.uber.org/zap"
)

const (
	TypeScheduled = "scheduled"
	TypeManual    = "manual"
)

// Locker guards a scheduled run across instances sharing one store.
type Locker interface {
	TryLock(ctx context.Context) (bool, error)
	Unlock(ctx context.Context) error
}

// Scheduler takes periodic backups of every event layout and prunes the
// ones past retention.
type Scheduler struct {
	backupService *backup.BackupService
	events        ports.EventRepository
	interval      time.Duration
	retentionDays int
	logger        *zap.SugaredLogger
	now           func() time.Time
	newLock       func() Locker

	stopOnce sync.Once
	stopChan chan struct{}
}

type Config struct {
	Interval      time.Duration
	RetentionDays int
}

func NewScheduler(
	backupService *backup.BackupService,
	events ports.EventRepository,
	cfg Config,
	logger *zap.SugaredLogger,
) *Scheduler {
	return &Scheduler{
		backupService: backupService,
		events:        events,
		interval:      cfg.Interval,
		retentionDays: cfg.RetentionDays,
		logger:        logger,
		now:           time.Now,
		stopChan:      make(chan struct{}),
	}
}

// Start runs one backup immediately and then one per interval until ctx is
// done or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.runBackup(ctx)

	for {
		select {
		case <-ticker.C:
			s.runBackup(ctx)
		case <-s.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

// WithLock makes each scheduled run take a fresh lock from newLock first.
// Runs that cannot get it are skipped; another instance is doing the work.
func (s *Scheduler) WithLock(newLock func() Locker) *Scheduler {
	s.newLock = newLock
	return s
}

func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopChan) })
}

func (s *Scheduler) runBackup(ctx context.Context) {
	if s.newLock != nil {
		lock := s.newLock()
		acquired, err := lock.TryLock(ctx)
		if err != nil {
			s.logger.Warnw("failed to acquire backup lock", "error", err)
			return
		}
		if !acquired {
			s.logger.Debug("scheduled backup held by another instance")
			return
		}
		defer func() {
			if err := lock.Unlock(ctx); err != nil {
				s.logger.Warnw("failed to release backup lock", "error", err)
			}
		}()
	}

	s.logger.Info("starting scheduled backup")

	info, err := s.Backup(ctx, TypeScheduled)
	if err != nil {
		s.logger.Errorw("failed to create backup", "error", err)
		return
	}
	s.logger.Infow("backup created successfully", "backup_name", info.Name)

	if err := s.CleanupOldBackups(ctx); err != nil {
		s.logger.Warnw("failed to cleanup old backups", "error", err)
	}
}

// Backup snapshots every stored event and writes it as one backup.
func (s *Scheduler) Backup(ctx context.Context, backupType string) (backup.Info, error) {
	snap, err := s.collectData(ctx)
	if err != nil {
		return backup.Info{}, err
	}
	snap.Metadata["backup_type"] = backupType
	return s.backupService.Create(ctx, snap)
}

func (s *Scheduler) collectData(ctx context.Context) (*backup.Snapshot, error) {
	ids, err := s.events.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}

	snap := &backup.Snapshot{
		Events:   make(map[domain.EventID]domain.EventDocument, len(ids)),
		Metadata: make(map[string]string),
	}
	for _, id := range ids {
		doc, err := s.events.Get(ctx, id)
		if errors.Is(err, domain.ErrEventNotFound) {
			// deleted between List and Get
			continue
		}
		if err != nil {
			s.logger.Warnw("failed to read event for backup", "event_id", id, "error", err)
			continue
		}
		snap.Events[id] = *doc
	}

	snap.Metadata["event_count"] = strconv.Itoa(len(snap.Events))
	return snap, nil
}

// CleanupOldBackups removes backups older than the retention period. A
// non-positive retention keeps everything.
func (s *Scheduler) CleanupOldBackups(ctx context.Context) error {
	if s.retentionDays <= 0 {
		return nil
	}

	backups, err := s.backupService.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list backups: %w", err)
	}

	cutoff := s.now().AddDate(0, 0, -s.retentionDays)
	for _, info := range backups {
		if !info.Timestamp.Before(cutoff) {
			continue
		}
		if err := s.backupService.Delete(ctx, info.Name); err != nil {
			s.logger.Warnw("failed to delete old backup", "backup_name", info.Name, "error", err)
			continue
		}
		s.logger.Infow("deleted old backup", "backup_name", info.Name, "age", s.now().Sub(info.Timestamp))
	}
	return nil
}
