package utils

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// RotationConfig holds settings for a size-rotated log file.
type RotationConfig struct {
	// Filename is the file to write logs to.
	Filename string

	// MaxSizeMB is the size in megabytes that triggers rotation. Zero
	// disables rotation and the file grows without bound.
	MaxSizeMB int

	// MaxBackups is how many rotated files to retain. Zero retains all.
	MaxBackups int

	// Compress gzips rotated files.
	Compress bool
}

// LogRotator is an io.Writer that rotates its file once it passes the
// configured size. Rotated files carry a UTC timestamp in their name.
type LogRotator struct {
	mu sync.Mutex

	config RotationConfig
	file   *os.File
	size   int64
}

// NewLogRotator opens the log file and returns a rotating writer over it.
func NewLogRotator(config RotationConfig) (*LogRotator, error) {
	if config.Filename == "" {
		return nil, fmt.Errorf("log filename is required")
	}

	lr := &LogRotator{config: config}
	if err := lr.openFile(); err != nil {
		return nil, err
	}
	return lr, nil
}

// Write implements io.Writer.
func (lr *LogRotator) Write(p []byte) (int, error) {
	lr.mu.Lock()
	defer lr.mu.Unlock()

	if lr.shouldRotate(int64(len(p))) {
		if err := lr.rotate(); err != nil {
			return 0, fmt.Errorf("failed to rotate log: %w", err)
		}
	}

	n, err := lr.file.Write(p)
	lr.size += int64(n)
	return n, err
}

// Close closes the underlying file.
func (lr *LogRotator) Close() error {
	lr.mu.Lock()
	defer lr.mu.Unlock()

	if lr.file == nil {
		return nil
	}
	err := lr.file.Close()
	lr.file = nil
	return err
}

// Rotate forces an immediate rotation regardless of size.
func (lr *LogRotator) Rotate() error {
	lr.mu.Lock()
	defer lr.mu.Unlock()
	return lr.rotate()
}

func (lr *LogRotator) shouldRotate(writeSize int64) bool {
	if lr.config.MaxSizeMB <= 0 {
		return false
	}
	return lr.size+writeSize >= int64(lr.config.MaxSizeMB)*1024*1024
}

func (lr *LogRotator) rotate() error {
	if lr.file != nil {
		if err := lr.file.Close(); err != nil {
			return fmt.Errorf("failed to close current log file: %w", err)
		}
		lr.file = nil
	}

	backup := lr.backupFilename(time.Now().UTC())
	if err := os.Rename(lr.config.Filename, backup); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to rename log file: %w", err)
	}

	if lr.config.Compress {
		if err := compressLogFile(backup); err != nil {
			// A failed compression keeps the uncompressed backup.
			fmt.Fprintf(os.Stderr, "failed to compress log file %s: %v\n", backup, err)
		}
	}

	if err := lr.cleanupBackups(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to clean up old log backups: %v\n", err)
	}

	return lr.openFile()
}

func (lr *LogRotator) openFile() error {
	if err := os.MkdirAll(filepath.Dir(lr.config.Filename), 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	file, err := os.OpenFile(lr.config.Filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return fmt.Errorf("failed to stat log file: %w", err)
	}

	lr.file = file
	lr.size = info.Size()
	return nil
}

// backupFilename puts the timestamp between the base name and the extension:
// vvmviz.log becomes vvmviz-2026-01-02T15-04-05.log.
func (lr *LogRotator) backupFilename(ts time.Time) string {
	dir := filepath.Dir(lr.config.Filename)
	base := filepath.Base(lr.config.Filename)
	ext := filepath.Ext(base)
	prefix := strings.TrimSuffix(base, ext)

	return filepath.Join(dir, fmt.Sprintf("%s-%s%s", prefix, ts.Format("2006-01-02T15-04-05"), ext))
}

// cleanupBackups deletes the oldest backups beyond MaxBackups.
func (lr *LogRotator) cleanupBackups() error {
	if lr.config.MaxBackups <= 0 {
		return nil
	}

	backups, err := lr.backupFiles()
	if err != nil {
		return err
	}
	if len(backups) <= lr.config.MaxBackups {
		return nil
	}

	sort.Slice(backups, func(i, j int) bool {
		return backups[i].ModTime().Before(backups[j].ModTime())
	})

	dir := filepath.Dir(lr.config.Filename)
	for _, info := range backups[:len(backups)-lr.config.MaxBackups] {
		full := filepath.Join(dir, info.Name())
		if err := os.Remove(full); err != nil {
			fmt.Fprintf(os.Stderr, "failed to remove old log backup %s: %v\n", full, err)
		}
	}
	return nil
}

// backupFiles returns the rotated siblings of the log file.
func (lr *LogRotator) backupFiles() ([]os.FileInfo, error) {
	dir := filepath.Dir(lr.config.Filename)
	base := filepath.Base(lr.config.Filename)
	ext := filepath.Ext(base)
	prefix := strings.TrimSuffix(base, ext)

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var backups []os.FileInfo
	for _, entry := range entries {
		name := entry.Name()
		if name == base || !strings.HasPrefix(name, prefix+"-") {
			continue
		}
		if !strings.HasSuffix(name, ext) && !strings.HasSuffix(name, ext+".gz") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		backups = append(backups, info)
	}
	return backups, nil
}

// compressLogFile gzips the file in place, replacing it with a .gz copy.
func compressLogFile(filename string) error {
	src, err := os.Open(filename)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.Create(filename + ".gz")
	if err != nil {
		return err
	}

	gz := gzip.NewWriter(dst)
	if _, err := io.Copy(gz, src); err != nil {
		dst.Close()
		return err
	}
	if err := gz.Close(); err != nil {
		dst.Close()
		return err
	}
	if err := dst.Close(); err != nil {
		return err
	}

	return os.Remove(filename)
}
