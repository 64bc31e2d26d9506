package backup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"overlaycast/internal/core/domain"
	"overlaycast/internal/core/ports"
	"overlaycast/pkg/backup"

	"go.uber.org/zap"
)

var ErrNoBackup = errors.New("no backup found")

// RestoreService writes event layouts from a backup back into the store.
type RestoreService struct {
	backupService *backup.BackupService
	events        ports.EventRepository
	logger        *zap.SugaredLogger
}

func NewRestoreService(
	backupService *backup.BackupService,
	events ports.EventRepository,
	logger *zap.SugaredLogger,
) *RestoreService {
	return &RestoreService{
		backupService: backupService,
		events:        events,
		logger:        logger,
	}
}

type RestoreOptions struct {
	// OverwriteExisting replaces events that already have a document.
	OverwriteExisting bool
	// EventIDs limits the restore to these events. Empty means all.
	EventIDs []domain.EventID
}

// RestoreResult counts what a restore did.
type RestoreResult struct {
	Backup      string `json:"backup"`
	Restored    int    `json:"restored"`
	Overwritten int    `json:"overwritten"`
	Skipped     int    `json:"skipped"`
}

func (rs *RestoreService) RestoreFromBackup(ctx context.Context, backupName string, options RestoreOptions) (RestoreResult, error) {
	rs.logger.Infow("starting restore", "backup_name", backupName, "overwrite", options.OverwriteExisting, "events", options.EventIDs)

	snap, err := rs.backupService.Load(ctx, backupName)
	if err != nil {
		return RestoreResult{}, fmt.Errorf("failed to load backup: %w", err)
	}

	wanted := make(map[domain.EventID]bool, len(options.EventIDs))
	for _, id := range options.EventIDs {
		wanted[id] = true
	}

	result := RestoreResult{Backup: backupName}
	for id, doc := range snap.Events {
		if len(wanted) > 0 && !wanted[id] {
			continue
		}

		created, err := rs.events.CreateIfAbsent(ctx, id, doc)
		if err != nil {
			return result, fmt.Errorf("failed to restore event %s: %w", id, err)
		}
		if created {
			result.Restored++
			rs.logger.Debugw("restored event", "event_id", id)
			continue
		}

		if !options.OverwriteExisting {
			result.Skipped++
			rs.logger.Debugw("skipping existing event", "event_id", id)
			continue
		}
		if err := rs.events.MergeWrite(ctx, id, doc.Patch()); err != nil {
			return result, fmt.Errorf("failed to overwrite event %s: %w", id, err)
		}
		result.Overwritten++
		rs.logger.Debugw("overwrote event", "event_id", id)
	}

	rs.logger.Infow("restore completed successfully",
		"backup_name", backupName,
		"restored", result.Restored,
		"overwritten", result.Overwritten,
		"skipped", result.Skipped,
	)
	return result, nil
}

// FindBackupByTime returns the newest backup taken at or before targetTime.
func (rs *RestoreService) FindBackupByTime(ctx context.Context, targetTime time.Time) (string, error) {
	backups, err := rs.backupService.List(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to list backups: %w", err)
	}

	var closest string
	for _, info := range backups {
		if info.Timestamp.After(targetTime) {
			break
		}
		closest = info.Name
	}
	if closest == "" {
		return "", fmt.Errorf("%w before or at %v", ErrNoBackup, targetTime)
	}
	return closest, nil
}
