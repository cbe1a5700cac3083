// Package storage は編集中の画像を表示するための一時ハンドルの保存先を提供します。
//
// ハンドルは取り込み時に確保し、画像の削除・コレクションのクリア・トリミング確定時に解放します。
// 解放し忘れると作業ディレクトリが肥大化するため、Live で残数を確認できるようにしています。
package storage

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
)

// ErrHandleNotFound は存在しない（解放済みを含む）ハンドルを開こうとした場合に返されます。
var ErrHandleNotFound = errors.New("storage: handle not found")

type localEntry struct {
	path      string
	mediaType string
	size      int64
}

// Local はローカルディスク上にプレビューファイルを置くハンドルストアです。
type Local struct {
	dir     string
	mu      sync.Mutex
	entries map[string]localEntry
}

// NewLocal は dir 配下にプレビュー用ディレクトリを作成します。
func NewLocal(dir string) (*Local, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("storage dir is required")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("プレビュー用ディレクトリの作成に失敗しました: %w", err)
	}
	return &Local{dir: dir, entries: make(map[string]localEntry)}, nil
}

// Acquire はデータをファイルに保存し、ハンドルを返します。
func (l *Local) Acquire(owner string, data []byte, mediaType string) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("storage: empty data for %s", owner)
	}
	if mediaType == "" {
		mediaType = mimetype.Detect(data).String()
	}
	handle := uuid.NewString()
	path := filepath.Join(l.dir, handle+extensionFor(mediaType))
	if err := os.WriteFile(path, data, 0o640); err != nil {
		return "", fmt.Errorf("プレビューの保存に失敗しました: %w", err)
	}

	l.mu.Lock()
	l.entries[handle] = localEntry{path: path, mediaType: mediaType, size: int64(len(data))}
	l.mu.Unlock()
	return handle, nil
}

// Release はハンドルのファイルを削除します。未知のハンドルは無視します。
func (l *Local) Release(handle string) error {
	l.mu.Lock()
	entry, ok := l.entries[handle]
	delete(l.entries, handle)
	l.mu.Unlock()
	if !ok {
		return nil
	}
	if err := os.Remove(entry.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("プレビューの削除に失敗しました: %w", err)
	}
	return nil
}

// Open はハンドルの内容を読み出します。
func (l *Local) Open(handle string) (io.ReadCloser, string, int64, error) {
	l.mu.Lock()
	entry, ok := l.entries[handle]
	l.mu.Unlock()
	if !ok {
		return nil, "", 0, ErrHandleNotFound
	}
	f, err := os.Open(entry.path)
	if err != nil {
		return nil, "", 0, err
	}
	return f, entry.mediaType, entry.size, nil
}

// Live は解放されていないハンドル数を返します。
func (l *Local) Live() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Memory はメモリ上にデータを保持するハンドルストアです（CLIとテスト用）。
type Memory struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
}

type memoryEntry struct {
	data      []byte
	mediaType string
}

// NewMemory は空の Memory を返します。
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]memoryEntry)}
}

// Acquire はデータを保持し、ハンドルを返します。
func (m *Memory) Acquire(owner string, data []byte, mediaType string) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("storage: empty data for %s", owner)
	}
	handle := uuid.NewString()
	m.mu.Lock()
	m.entries[handle] = memoryEntry{data: data, mediaType: mediaType}
	m.mu.Unlock()
	return handle, nil
}

// Release はハンドルを破棄します。
func (m *Memory) Release(handle string) error {
	m.mu.Lock()
	delete(m.entries, handle)
	m.mu.Unlock()
	return nil
}

// Open はハンドルの内容を読み出します。
func (m *Memory) Open(handle string) (io.ReadCloser, string, int64, error) {
	m.mu.Lock()
	entry, ok := m.entries[handle]
	m.mu.Unlock()
	if !ok {
		return nil, "", 0, ErrHandleNotFound
	}
	return io.NopCloser(bytes.NewReader(entry.data)), entry.mediaType, int64(len(entry.data)), nil
}

// Live は解放されていないハンドル数を返します。
func (m *Memory) Live() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func extensionFor(mediaType string) string {
	if mt := mimetype.Lookup(mediaType); mt != nil {
		return mt.Extension()
	}
	return ""
}
