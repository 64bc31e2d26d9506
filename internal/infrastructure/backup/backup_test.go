package backup

import (
	"context"
	"testing"
	"time"

	"overlaycast/internal/core/domain"
	"overlaycast/internal/infrastructure/repositories/memory"
	"overlaycast/pkg/backup"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newBackupService(t *testing.T) *backup.BackupService {
	t.Helper()
	storage, err := backup.NewFileStorage(t.TempDir())
	require.NoError(t, err)
	return backup.NewBackupService(storage, "test")
}

func seed(t *testing.T, repo *memory.MemoryEventRepository, id domain.EventID, name string) domain.EventDocument {
	t.Helper()
	doc := domain.NewEventDocument(name, "", "")
	doc.Items = []domain.WatermarkItem{domain.NewItem(domain.ItemTypeName, "")}
	created, err := repo.CreateIfAbsent(context.Background(), id, doc)
	require.NoError(t, err)
	require.True(t, created)
	return doc
}

func TestScheduler_BackupAndRestore(t *testing.T) {
	ctx := context.Background()
	logger := zaptest.NewLogger(t).Sugar()
	svc := newBackupService(t)

	source := memory.NewMemoryEventRepository()
	defer source.Close()
	first := seed(t, source, "evt1", "Alice")
	second := seed(t, source, "evt2", "Bob")

	scheduler := NewScheduler(svc, source, Config{Interval: time.Hour, RetentionDays: 7}, logger)
	info, err := scheduler.Backup(ctx, TypeManual)
	require.NoError(t, err)

	snap, err := svc.Load(ctx, info.Name)
	require.NoError(t, err)
	assert.Equal(t, "2", snap.Metadata["event_count"])
	assert.Equal(t, TypeManual, snap.Metadata["backup_type"])

	target := memory.NewMemoryEventRepository()
	defer target.Close()
	existing := seed(t, target, "evt2", "Carol")

	restore := NewRestoreService(svc, target, logger)
	result, err := restore.RestoreFromBackup(ctx, info.Name, RestoreOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Restored)
	assert.Equal(t, 1, result.Skipped)

	got, err := target.Get(ctx, "evt1")
	require.NoError(t, err)
	assert.Equal(t, first, *got)
	got, err = target.Get(ctx, "evt2")
	require.NoError(t, err)
	assert.Equal(t, existing, *got)

	result, err = restore.RestoreFromBackup(ctx, info.Name, RestoreOptions{OverwriteExisting: true, EventIDs: []domain.EventID{"evt2"}})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Overwritten)
	got, err = target.Get(ctx, "evt2")
	require.NoError(t, err)
	assert.Equal(t, second, *got)
}

func TestScheduler_CleanupOldBackups(t *testing.T) {
	ctx := context.Background()
	svc := newBackupService(t)
	repo := memory.NewMemoryEventRepository()
	defer repo.Close()

	base := time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)
	oldInfo, err := backupAt(t, svc, base.AddDate(0, 0, -10))
	require.NoError(t, err)
	freshInfo, err := backupAt(t, svc, base.AddDate(0, 0, -1))
	require.NoError(t, err)

	scheduler := NewScheduler(svc, repo, Config{Interval: time.Hour, RetentionDays: 7}, zaptest.NewLogger(t).Sugar())
	scheduler.now = func() time.Time { return base }
	require.NoError(t, scheduler.CleanupOldBackups(ctx))

	infos, err := svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, freshInfo.Name, infos[0].Name)
	assert.NotEqual(t, oldInfo.Name, infos[0].Name)
}

func TestScheduler_StartRunsImmediately(t *testing.T) {
	svc := newBackupService(t)
	repo := memory.NewMemoryEventRepository()
	defer repo.Close()
	seed(t, repo, "evt1", "Alice")

	scheduler := NewScheduler(svc, repo, Config{Interval: time.Hour}, zaptest.NewLogger(t).Sugar())
	done := make(chan struct{})
	go func() {
		scheduler.Start(context.Background())
		close(done)
	}()

	assert.Eventually(t, func() bool {
		infos, err := svc.List(context.Background())
		return err == nil && len(infos) == 1
	}, 2*time.Second, 10*time.Millisecond)

	scheduler.Stop()
	scheduler.Stop()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}

type fakeLocker struct {
	acquire  bool
	unlocked int
}

func (l *fakeLocker) TryLock(context.Context) (bool, error) { return l.acquire, nil }
func (l *fakeLocker) Unlock(context.Context) error         { l.unlocked++; return nil }

func TestScheduler_RunBackupHonoursLock(t *testing.T) {
	ctx := context.Background()
	svc := newBackupService(t)
	repo := memory.NewMemoryEventRepository()
	defer repo.Close()

	held := &fakeLocker{acquire: false}
	scheduler := NewScheduler(svc, repo, Config{Interval: time.Hour}, zaptest.NewLogger(t).Sugar()).
		WithLock(func() Locker { return held })
	scheduler.runBackup(ctx)

	infos, err := svc.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, infos)
	assert.Equal(t, 0, held.unlocked)

	free := &fakeLocker{acquire: true}
	scheduler.WithLock(func() Locker { return free })
	scheduler.runBackup(ctx)

	infos, err = svc.List(ctx)
	require.NoError(t, err)
	assert.Len(t, infos, 1)
	assert.Equal(t, 1, free.unlocked)
}

func TestRestoreService_FindBackupByTime(t *testing.T) {
	ctx := context.Background()
	svc := newBackupService(t)
	repo := memory.NewMemoryEventRepository()
	defer repo.Close()

	base := time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)
	a, err := backupAt(t, svc, base)
	require.NoError(t, err)
	b, err := backupAt(t, svc, base.Add(time.Hour))
	require.NoError(t, err)

	restore := NewRestoreService(svc, repo, zaptest.NewLogger(t).Sugar())

	name, err := restore.FindBackupByTime(ctx, base.Add(30*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, a.Name, name)

	name, err = restore.FindBackupByTime(ctx, base.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, b.Name, name)

	_, err = restore.FindBackupByTime(ctx, base.Add(-time.Minute))
	assert.ErrorIs(t, err, ErrNoBackup)
}

func backupAt(t *testing.T, svc *backup.BackupService, ts time.Time) (backup.Info, error) {
	t.Helper()
	return svc.WithClock(func() time.Time { return ts }).Create(context.Background(), &backup.Snapshot{})
}
