package store

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// FileStore writes one transcript file per session, plus the raw audio when present.
type FileStore struct {
	dir string
}

func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// PublishFinal is a no-op; files are written once the session ends.
func (fs *FileStore) PublishFinal(context.Context, uuid.UUID, string) error {
	return nil
}

func (fs *FileStore) Save(_ context.Context, rec Record) error {
	if rec.Transcript != "" {
		metadata := fmt.Sprintf("Session ID: %s\nProvider: %s\nLanguage: %s\nStart Time: %s\nDuration: %v\nSample Rate: %dHz\n\n---TRANSCRIPT---\n\n",
			rec.SessionID,
			rec.Provider,
			rec.Language,
			rec.StartTime.Format("2006-01-02 15:04:05"),
			rec.Duration(),
			rec.SampleRate,
		)

		filename := fs.path(rec, "txt")
		if err := os.WriteFile(filename, []byte(metadata+rec.Transcript+"\n"), 0644); err != nil {
			return fmt.Errorf("failed to save transcript: %w", err)
		}
		log.Printf("Session %s: Transcript saved to %s", rec.SessionID, filename)
	}

	if len(rec.Audio) > 0 {
		filename := fs.path(rec, "raw")
		if err := os.WriteFile(filename, rec.Audio, 0644); err != nil {
			return fmt.Errorf("failed to save audio: %w", err)
		}
		seconds := 0.0
		if rec.SampleRate > 0 {
			seconds = float64(len(rec.Audio)) / (float64(rec.SampleRate) * 2)
		}
		log.Printf("Session %s: Audio saved to %s (%.2f seconds)", rec.SessionID, filename, seconds)
	}
	return nil
}

func (fs *FileStore) path(rec Record, ext string) string {
	return filepath.Join(fs.dir, fmt.Sprintf("%s_%s_%s.%s",
		rec.StartTime.Format("20060102_150405"),
		rec.Provider,
		rec.SessionID.String()[:8],
		ext,
	))
}
