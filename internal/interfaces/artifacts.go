package interfaces

// ArtifactService manages generated images on the filesystem, laid out as
// {base}/{session}/stage_{N}/{generation}.png.
type ArtifactService interface {
	// Save writes artifact bytes and returns the path relative to the base
	// directory.
	Save(sessionID string, stage int, generationID string, data []byte) (string, error)

	// Get reads artifact bytes from a relative path.
	Get(relPath string) ([]byte, error)

	// DeleteSession removes all artifacts for a session; returns the count
	// of deleted files.
	DeleteSession(sessionID string) (int, error)

	// DiskUsage reports total bytes used by a session's artifacts.
	DiskUsage(sessionID string) (int64, error)
}
