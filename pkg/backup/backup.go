// Package backup writes point-in-time copies of every event layout.
package backup

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"regexp"
	"sort"
	"time"

	"overlaycast/internal/core/domain"
)

const (
	namePrefix = "backup-"
	nameLayout = "20060102-150405.000"
)

var (
	ErrInvalidName = errors.New("invalid backup name")
	ErrNotFound    = errors.New("backup not found")

	namePattern = regexp.MustCompile(`^backup-(\d{8}-\d{6}\.\d{3})\.json$`)
)

// Snapshot is the content of one backup file.
type Snapshot struct {
	Version   string                                  `json:"version"`
	Timestamp time.Time                               `json:"timestamp"`
	Events    map[domain.EventID]domain.EventDocument `json:"events"`
	Metadata  map[string]string                       `json:"metadata,omitempty"`
}

// Storage defines interface for backup storage
type Storage interface {
	Save(ctx context.Context, name string, data io.Reader) error
	Load(ctx context.Context, name string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]string, error)
	Delete(ctx context.Context, name string) error
}

// Info describes a stored backup.
type Info struct {
	Name      string    `json:"name"`
	Timestamp time.Time `json:"timestamp"`
}

type BackupService struct {
	storage Storage
	version string
	now     func() time.Time
}

func NewBackupService(storage Storage, version string) *BackupService {
	return &BackupService{
		storage: storage,
		version: version,
		now:     time.Now,
	}
}

// WithClock returns a copy of bs that reads the time from now.
func (bs *BackupService) WithClock(now func() time.Time) *BackupService {
	out := *bs
	out.now = now
	return &out
}

// Create stamps snap with the service version and current time and stores it.
func (bs *BackupService) Create(ctx context.Context, snap *Snapshot) (Info, error) {
	snap.Version = bs.version
	snap.Timestamp = bs.now().UTC()
	if snap.Events == nil {
		snap.Events = make(map[domain.EventID]domain.EventDocument)
	}

	payload, err := json.Marshal(snap)
	if err != nil {
		return Info{}, fmt.Errorf("failed to marshal backup: %w", err)
	}

	info := Info{Name: NameFor(snap.Timestamp), Timestamp: snap.Timestamp.Truncate(time.Millisecond)}
	if err := bs.storage.Save(ctx, info.Name, bytes.NewReader(payload)); err != nil {
		return Info{}, fmt.Errorf("failed to save backup: %w", err)
	}
	return info, nil
}

// Load reads a stored backup. Items go through the same validation as
// documents read from storage.
func (bs *BackupService) Load(ctx context.Context, name string) (*Snapshot, error) {
	if _, err := ParseName(name); err != nil {
		return nil, err
	}

	reader, err := bs.storage.Load(ctx, name)
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	var stored storedSnapshot
	if err := json.NewDecoder(reader).Decode(&stored); err != nil {
		return nil, fmt.Errorf("failed to decode backup %s: %w", name, err)
	}
	if stored.Version == "" {
		return nil, fmt.Errorf("invalid backup %s: missing version", name)
	}

	snap := &Snapshot{
		Version:   stored.Version,
		Timestamp: stored.Timestamp,
		Events:    make(map[domain.EventID]domain.EventDocument, len(stored.Events)),
		Metadata:  stored.Metadata,
	}
	for id, ev := range stored.Events {
		snap.Events[id] = domain.EventDocument{
			Items:        domain.DecodeItems(ev.Items),
			Name:         ev.Name,
			Email:        ev.Email,
			VimeoEventID: ev.VimeoEventID,
		}
	}
	return snap, nil
}

// storedSnapshot mirrors Snapshot with items left unvalidated.
type storedSnapshot struct {
	Version   string                         `json:"version"`
	Timestamp time.Time                      `json:"timestamp"`
	Events    map[domain.EventID]storedEvent `json:"events"`
	Metadata  map[string]string              `json:"metadata"`
}

type storedEvent struct {
	Items        []domain.RemoteItem `json:"items"`
	Name         string              `json:"name"`
	Email        string              `json:"email"`
	VimeoEventID string              `json:"vimeoEventId"`
}

// List returns stored backups, oldest first. Files that do not look like
// backups are ignored.
func (bs *BackupService) List(ctx context.Context) ([]Info, error) {
	names, err := bs.storage.List(ctx, namePrefix)
	if err != nil {
		return nil, err
	}

	infos := make([]Info, 0, len(names))
	for _, name := range names {
		ts, err := ParseName(name)
		if err != nil {
			continue
		}
		infos = append(infos, Info{Name: name, Timestamp: ts})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Timestamp.Before(infos[j].Timestamp) })
	return infos, nil
}

func (bs *BackupService) Delete(ctx context.Context, name string) error {
	if _, err := ParseName(name); err != nil {
		return err
	}
	return bs.storage.Delete(ctx, name)
}

// NameFor returns the file name of a backup taken at ts.
func NameFor(ts time.Time) string {
	return namePrefix + ts.UTC().Format(nameLayout) + ".json"
}

// ParseName returns the time encoded in a backup name. Anything else,
// including path separators, is ErrInvalidName.
func ParseName(name string) (time.Time, error) {
	m := namePattern.FindStringSubmatch(name)
	if m == nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	ts, err := time.Parse(nameLayout, m[1])
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return ts, nil
}
