package artifacts

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/easel/internal/interfaces"
	"github.com/ternarybob/easel/internal/models"
)

// Service stores generated images under a base directory, one folder per
// session with a stage subfolder per iteration round.
type Service struct {
	baseDir string
	logger  arbor.ILogger
}

// NewService creates an artifact store rooted at baseDir, creating it if
// needed.
func NewService(baseDir string, logger arbor.ILogger) (interfaces.ArtifactService, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, models.WrapError(models.ErrConfig, "failed to create artifact directory", err)
	}
	return &Service{baseDir: baseDir, logger: logger}, nil
}

// Save writes artifact bytes and returns the path relative to the base
// directory.
func (s *Service) Save(sessionID string, stage int, generationID string, data []byte) (string, error) {
	relDir := filepath.Join(sessionID, fmt.Sprintf("stage_%d", stage))
	if err := os.MkdirAll(filepath.Join(s.baseDir, relDir), 0o755); err != nil {
		return "", models.WrapError(models.ErrTransport, "failed to create stage directory", err)
	}

	relPath := filepath.Join(relDir, generationID+".png")
	if err := os.WriteFile(filepath.Join(s.baseDir, relPath), data, 0o644); err != nil {
		return "", models.WrapError(models.ErrTransport, "failed to write artifact", err)
	}

	s.logger.Debug().Str("path", relPath).Int("bytes", len(data)).Msg("Artifact saved")
	return relPath, nil
}

// Get reads artifact bytes from a relative path. Paths escaping the base
// directory are rejected.
func (s *Service) Get(relPath string) ([]byte, error) {
	clean := filepath.Clean(relPath)
	if strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
		return nil, models.Errorf(models.ErrNotFound, "artifact not found: %s", relPath)
	}

	data, err := os.ReadFile(filepath.Join(s.baseDir, clean))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, models.Errorf(models.ErrNotFound, "artifact not found: %s", relPath)
		}
		return nil, models.WrapError(models.ErrTransport, "failed to read artifact", err)
	}
	return data, nil
}

// DeleteSession removes all artifacts for a session.
func (s *Service) DeleteSession(sessionID string) (int, error) {
	dir := filepath.Join(s.baseDir, filepath.Clean(sessionID))
	count := 0
	err := filepath.Walk(dir, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			count++
		}
		return nil
	})
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, models.WrapError(models.ErrTransport, "failed to scan session artifacts", err)
	}

	if err := os.RemoveAll(dir); err != nil {
		return 0, models.WrapError(models.ErrTransport, "failed to delete session artifacts", err)
	}
	s.logger.Info().Str("session_id", sessionID).Int("files", count).Msg("Session artifacts deleted")
	return count, nil
}

// DiskUsage reports total bytes used by a session's artifacts.
func (s *Service) DiskUsage(sessionID string) (int64, error) {
	dir := filepath.Join(s.baseDir, filepath.Clean(sessionID))
	var total int64
	err := filepath.Walk(dir, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			total += info.Size()
		}
		return nil
	})
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, models.WrapError(models.ErrTransport, "failed to scan session artifacts", err)
	}
	return total, nil
}
