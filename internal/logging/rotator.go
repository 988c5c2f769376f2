package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// FileRotator is an io.Writer that rotates the log file once it grows
// past the configured size, keeping a bounded number of backups.
type FileRotator struct {
	config *Config
	mu     sync.Mutex
	file   *os.File
	size   int64
}

// NewFileRotator opens the log file, creating its directory if needed.
func NewFileRotator(cfg *Config) (*FileRotator, error) {
	r := &FileRotator{config: cfg}

	if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0750); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	if err := r.openFile(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *FileRotator) openFile() error {
	file, err := os.OpenFile(r.config.FilePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0640)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return fmt.Errorf("stat log file: %w", err)
	}

	r.file = file
	r.size = info.Size()
	return nil
}

// Write implements io.Writer.
func (r *FileRotator) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file == nil {
		if err := r.openFile(); err != nil {
			return 0, err
		}
	}

	if r.config.MaxSizeMB > 0 && r.size+int64(len(p)) > r.config.MaxSizeMB*1024*1024 {
		if err := r.rotate(); err != nil {
			// Keep logging into the oversized file rather than drop
			// entries.
			fmt.Fprintf(os.Stderr, "log rotation failed: %v\n", err)
		}
	}

	n, err := r.file.Write(p)
	r.size += int64(n)
	return n, err
}

// rotate renames the current file with a timestamp suffix and starts a
// fresh one. Caller holds r.mu.
func (r *FileRotator) rotate() error {
	if err := r.file.Close(); err != nil {
		return fmt.Errorf("close log file: %w", err)
	}
	r.file = nil

	backup := fmt.Sprintf("%s.%s", r.config.FilePath, time.Now().UTC().Format("20060102T150405"))
	if err := os.Rename(r.config.FilePath, backup); err != nil {
		return fmt.Errorf("rename log file: %w", err)
	}

	r.pruneBackups()
	return r.openFile()
}

// pruneBackups deletes the oldest rotated files beyond MaxBackups.
func (r *FileRotator) pruneBackups() {
	if r.config.MaxBackups <= 0 {
		return
	}

	dir := filepath.Dir(r.config.FilePath)
	base := filepath.Base(r.config.FilePath)

	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}

	var backups []string
	for _, entry := range entries {
		name := entry.Name()
		if !entry.IsDir() && strings.HasPrefix(name, base+".") {
			backups = append(backups, name)
		}
	}

	if len(backups) <= r.config.MaxBackups {
		return
	}

	// Timestamp suffixes sort chronologically.
	sort.Strings(backups)
	for _, name := range backups[:len(backups)-r.config.MaxBackups] {
		os.Remove(filepath.Join(dir, name))
	}
}

// Close closes the underlying file.
func (r *FileRotator) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	return err
}
