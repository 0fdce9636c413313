// Package scratch manages per-job temporary directories and enforces the
// disk-usage ceiling that acts as the worker's bulkhead.
package scratch

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"soniq/logger"

	"golang.org/x/sys/unix"
)

// Manager allocates and reclaims job scratch directories under a single root.
// Admission compares aggregate usage and remaining volume space against the
// ceiling before new work may start.
type Manager struct {
	root    string
	ceiling atomic.Int64
	margin  int64 // free volume bytes that must remain available
}

// NewManager creates the scratch root if needed.
func NewManager(root string, ceiling, margin int64) (*Manager, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create scratch root %s: %w", root, err)
	}
	m := &Manager{root: root, margin: margin}
	m.ceiling.Store(ceiling)
	return m, nil
}

// SetCeiling updates the admission ceiling; used by config hot reload.
func (m *Manager) SetCeiling(ceiling int64) {
	m.ceiling.Store(ceiling)
}

// Admit reports whether a new job may start. Denial is a soft, retryable
// condition: disk pressure from running jobs clears itself.
func (m *Manager) Admit() bool {
	usage, err := m.Usage()
	if err != nil {
		// 算不出用量时宁可拒绝，等下一次重试
		logger.Warn("scratch用量统计失败，拒绝新作业", logger.ErrorField(err))
		return false
	}
	if usage >= m.ceiling.Load() {
		logger.Warn("scratch用量超过上限，拒绝新作业",
			logger.Int64("usage", usage),
			logger.Int64("ceiling", m.ceiling.Load()))
		return false
	}

	var stat unix.Statfs_t
	if err := unix.Statfs(m.root, &stat); err != nil {
		logger.Warn("statfs失败，拒绝新作业", logger.ErrorField(err))
		return false
	}
	free := int64(stat.Bavail) * stat.Bsize
	if free < m.margin {
		logger.Warn("磁盘剩余空间低于安全边际，拒绝新作业",
			logger.Int64("free", free),
			logger.Int64("margin", m.margin))
		return false
	}
	return true
}

// Usage returns the aggregate size of everything under the scratch root.
func (m *Manager) Usage() (int64, error) {
	var total int64
	err := filepath.WalkDir(m.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// 并发清理中的目录会消失，跳过即可
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.Type().IsRegular() {
			if info, err := d.Info(); err == nil {
				total += info.Size()
			}
		}
		return nil
	})
	return total, err
}

// CreateJobScratch allocates the job's scratch directory.
func (m *Manager) CreateJobScratch(jobID string) (string, error) {
	dir := filepath.Join(m.root, jobID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create job scratch %s: %w", dir, err)
	}
	return dir, nil
}

// ScratchPath names a file inside the job's scratch directory.
func (m *Manager) ScratchPath(jobID, name string) string {
	return filepath.Join(m.root, jobID, name)
}

// Cleanup removes the job's scratch directory. It is idempotent and swallows
// its own I/O errors: cleanup must never mask the real processing result.
func (m *Manager) Cleanup(jobID string) {
	dir := filepath.Join(m.root, jobID)
	if err := os.RemoveAll(dir); err != nil {
		logger.Warn("scratch目录清理失败",
			logger.String("jobId", jobID),
			logger.ErrorField(err))
	}
}

// CleanupOrphans removes scratch directories older than maxAge, covering jobs
// abandoned by a crashed worker. Returns the number of directories reclaimed.
func (m *Manager) CleanupOrphans(maxAge time.Duration) int {
	entries, err := os.ReadDir(m.root)
	if err != nil {
		logger.Warn("读取scratch根目录失败", logger.ErrorField(err))
		return 0
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.RemoveAll(filepath.Join(m.root, e.Name())); err != nil {
				logger.Warn("孤儿scratch目录清理失败",
					logger.String("dir", e.Name()),
					logger.ErrorField(err))
				continue
			}
			removed++
		}
	}
	if removed > 0 {
		logger.Info("回收孤儿scratch目录", logger.Int("count", removed))
	}
	return removed
}
