package engine

import (
	"errors"
	"io"
	"log/slog"
	"os"
)

const sniffLen = 512

// workspace tracks every file created for one request so they can be
// removed together.
type workspace struct {
	files  []string
	logger *slog.Logger
}

func newWorkspace(logger *slog.Logger) *workspace {
	if logger == nil {
		logger = slog.Default()
	}
	return &workspace{logger: logger}
}

func (w *workspace) track(paths ...string) {
	for _, p := range paths {
		if p != "" {
			w.files = append(w.files, p)
		}
	}
}

// save copies body to path and returns its first bytes for type sniffing.
func (w *workspace) save(path string, body io.Reader) ([]byte, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	w.track(path)

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(body, head)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		f.Close()
		return nil, err
	}
	head = head[:n]

	if _, err := f.Write(head); err != nil {
		f.Close()
		return nil, err
	}
	if _, err := io.Copy(f, body); err != nil {
		f.Close()
		return nil, err
	}
	return head, f.Close()
}

func (w *workspace) cleanup() {
	seen := make(map[string]bool, len(w.files))
	for _, p := range w.files {
		if seen[p] {
			continue
		}
		seen[p] = true
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			w.logger.Warn("failed to remove temp file", "path", p, "error", err)
		}
	}
	w.files = nil
}
