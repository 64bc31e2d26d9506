package http

import (
	"context"
	stderrors "errors"
	"net/http"

	"overlaycast/internal/core/domain"
	infrabackup "overlaycast/internal/infrastructure/backup"
	"overlaycast/pkg/backup"
	apperrors "overlaycast/pkg/errors"

	"github.com/gin-gonic/gin"
)

type BackupRunner interface {
	Backup(ctx context.Context, backupType string) (backup.Info, error)
}

type BackupLister interface {
	List(ctx context.Context) ([]backup.Info, error)
}

type BackupRestorer interface {
	RestoreFromBackup(ctx context.Context, name string, options infrabackup.RestoreOptions) (infrabackup.RestoreResult, error)
}

// BackupHandler exposes on-demand backups and restores.
type BackupHandler struct {
	runner   BackupRunner
	lister   BackupLister
	restorer BackupRestorer
}

func NewBackupHandler(runner BackupRunner, lister BackupLister, restorer BackupRestorer) *BackupHandler {
	return &BackupHandler{
		runner:   runner,
		lister:   lister,
		restorer: restorer,
	}
}

func (h *BackupHandler) SetupRoutes(api *gin.RouterGroup) {
	api.GET("/backups", h.ListBackups)
	api.POST("/backups", h.CreateBackup)
	api.POST("/backups/:name/restore", h.RestoreBackup)
}

func (h *BackupHandler) ListBackups(c *gin.Context) {
	infos, err := h.lister.List(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		return
	}
	if infos == nil {
		infos = []backup.Info{}
	}
	c.JSON(http.StatusOK, gin.H{"backups": infos})
}

func (h *BackupHandler) CreateBackup(c *gin.Context) {
	info, err := h.runner.Backup(c.Request.Context(), infrabackup.TypeManual)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"backup": info})
}

func (h *BackupHandler) RestoreBackup(c *gin.Context) {
	var req struct {
		Overwrite bool     `json:"overwrite"`
		EventIDs  []string `json:"event_ids" binding:"max=1000"`
	}
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			_ = c.Error(apperrors.NewInvalidInputError(err.Error()))
			return
		}
	}

	options := infrabackup.RestoreOptions{OverwriteExisting: req.Overwrite}
	for _, id := range req.EventIDs {
		options.EventIDs = append(options.EventIDs, domain.EventID(id))
	}

	result, err := h.restorer.RestoreFromBackup(c.Request.Context(), c.Param("name"), options)
	if err != nil {
		_ = c.Error(backupError(err))
		return
	}
	c.JSON(http.StatusOK, result)
}

func backupError(err error) error {
	switch {
	case stderrors.Is(err, backup.ErrInvalidName):
		return apperrors.WrapError(err, apperrors.ErrCodeInvalidInput, "invalid backup name", http.StatusBadRequest)
	case stderrors.Is(err, backup.ErrNotFound):
		return apperrors.WrapError(err, apperrors.ErrCodeNotFound, "backup not found", http.StatusNotFound)
	default:
		return err
	}
}
