package render

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Memory is an in-process target. Observers poll Content after a signal on
// Updates.
type Memory struct {
	mu           sync.RWMutex
	content      string
	version      uint64
	updateSignal chan struct{}
}

func NewMemory(initial string) *Memory {
	return &Memory{content: initial, updateSignal: make(chan struct{}, 1)}
}

func (m *Memory) Write(content string) error {
	m.mu.Lock()
	m.content = content
	m.version++
	m.mu.Unlock()

	select {
	case m.updateSignal <- struct{}{}:
	default:
	}
	return nil
}

// Content returns the current content and how many writes produced it.
func (m *Memory) Content() (string, uint64) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.content, m.version
}

// Updates signals after writes. Consecutive writes may share one signal.
func (m *Memory) Updates() <-chan struct{} {
	return m.updateSignal
}

// MarkdownFile persists the panel to a markdown file. Writes go to a
// temporary file that is renamed over the target so readers never see a
// partial file.
type MarkdownFile struct {
	path string
	mu   sync.Mutex
}

func NewMarkdownFile(path string) *MarkdownFile {
	return &MarkdownFile{path: path}
}

func (f *MarkdownFile) Path() string { return f.path }

func (f *MarkdownFile) Write(content string) (err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create panel directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(f.path)+".*")
	if err != nil {
		return fmt.Errorf("failed to create temporary panel file: %w", err)
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()

	if _, err := tmp.WriteString(content); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write panel: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close panel: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("failed to replace panel: %w", err)
	}
	return nil
}

// Load returns the file's content, or an empty string if it does not exist.
func (f *MarkdownFile) Load() (string, error) {
	content, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read panel: %w", err)
	}
	return string(content), nil
}

// Mirrored writes to Primary and then copies the content to every mirror.
// The write fails only when Primary fails. Mirror failures are logged and
// leave Primary showing the new content.
type Mirrored struct {
	Primary Target
	Mirrors []Target
}

func (m Mirrored) Write(content string) error {
	if err := m.Primary.Write(content); err != nil {
		return err
	}
	for _, mirror := range m.Mirrors {
		if err := mirror.Write(content); err != nil {
			logger.Warn("failed to mirror panel content", "error", err)
		}
	}
	return nil
}
