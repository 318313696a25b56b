package service

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/Ning0612/submitguard/internal/domain"
	"github.com/Ning0612/submitguard/internal/logger"
	"github.com/Ning0612/submitguard/internal/transport"
)

// Uploader delivers an archive to the submission server
type Uploader interface {
	Upload(ctx context.Context, server, poolID, name, zipPath string) (transport.Result, error)
}

// SubmitService exports a tree and uploads the archive
type SubmitService struct {
	export   *ExportService
	uploader Uploader
	tempDir  string
}

// SubmitResult describes one submission
type SubmitResult struct {
	Export ExportResult
	Result transport.Result
}

// NewSubmitService creates a submit service; archives are staged in tempDir
// (the system temp dir when empty).
func NewSubmitService(export *ExportService, uploader Uploader, tempDir string) (*SubmitService, error) {
	if export == nil || uploader == nil {
		return nil, fmt.Errorf("export service and uploader are required")
	}
	return &SubmitService{export: export, uploader: uploader, tempDir: tempDir}, nil
}

// Submit exports root to a temporary zip and uploads it to the configured or
// recorded submission target. The archive is removed afterwards.
func (s *SubmitService) Submit(ctx context.Context, root string) (SubmitResult, error) {
	f, err := os.CreateTemp(s.tempDir, "submitguard-*.zip")
	if err != nil {
		return SubmitResult{}, fmt.Errorf("create archive: %w", err)
	}
	zipPath := f.Name()
	defer os.Remove(zipPath)

	exported, err := s.export.Export(ctx, root, f, ExportOptions{})
	if cerr := f.Close(); cerr != nil && err == nil {
		err = fmt.Errorf("close archive: %w", cerr)
	}
	if err != nil {
		return SubmitResult{}, err
	}

	result := SubmitResult{Export: exported, Result: transport.ResultTransportError}
	if strings.TrimSpace(exported.Server) == "" || strings.TrimSpace(exported.PoolID) == "" {
		return result, fmt.Errorf("submit %s: %w", root, domain.ErrServerNotConfigured)
	}

	server := transport.NormalizeServer(exported.Server)
	logger.Get().Info("Submitting project", "tree", root, "server", server, "pool", exported.PoolID,
		"name", exported.Name, "sha256", exported.SHA256)

	result.Result, err = s.uploader.Upload(ctx, server, exported.PoolID, exported.Name, zipPath)
	return result, err
}
