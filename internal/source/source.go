// Package source discovers locally-authored task records from session
// transcripts. Each *.jsonl file under the source directory is a session
// log whose lines may carry a todos payload; the scanner yields every
// task-like record it finds.
package source

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tasksync-dev/tasksync/internal/task"
)

// Record is one discovered task-like entry.
type Record struct {
	Content     string
	Status      task.Status
	ActiveForm  string
	SessionID   string
	ProjectPath string
}

// transcriptLine is the subset of a session log line the scanner reads.
type transcriptLine struct {
	SessionID string `json:"sessionId"`
	Todos     []struct {
		Content    string `json:"content"`
		Status     string `json:"status"`
		ActiveForm string `json:"activeForm"`
	} `json:"todos"`
}

// Scanner reads task records from transcripts under a project directory.
// Scans are lazy, finite, and restartable: each Each call walks the
// directory fresh.
type Scanner struct {
	dir         string
	projectPath string
}

// NewScanner returns a scanner over *.jsonl transcripts in dir. Discovered
// records carry projectPath as provenance.
func NewScanner(dir, projectPath string) *Scanner {
	return &Scanner{dir: dir, projectPath: projectPath}
}

// Each invokes fn for every discovered record, in file order. A missing
// source directory yields no records and no error. Malformed lines are
// skipped; returning an error from fn stops the scan.
func (s *Scanner) Each(ctx context.Context, fn func(Record) error) error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read source directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".jsonl") {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.scanFile(ctx, filepath.Join(s.dir, entry.Name()), fn); err != nil {
			return err
		}
	}
	return nil
}

// Records collects every discovered record into a slice.
func (s *Scanner) Records(ctx context.Context) ([]Record, error) {
	var records []Record
	err := s.Each(ctx, func(r Record) error {
		records = append(records, r)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (s *Scanner) scanFile(ctx context.Context, path string, fn func(Record) error) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open transcript %s: %w", path, err)
	}
	defer f.Close()

	// Session id falls back to the transcript filename.
	defaultSession := strings.TrimSuffix(filepath.Base(path), ".jsonl")

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}

		var line transcriptLine
		if err := json.Unmarshal(scanner.Bytes(), &line); err != nil {
			continue // not every transcript line carries todos
		}
		sessionID := line.SessionID
		if sessionID == "" {
			sessionID = defaultSession
		}
		for _, todo := range line.Todos {
			if todo.Content == "" {
				continue
			}
			status := task.Status(todo.Status)
			if !status.Valid() {
				status = task.StatusPending
			}
			rec := Record{
				Content:     todo.Content,
				Status:      status,
				ActiveForm:  todo.ActiveForm,
				SessionID:   sessionID,
				ProjectPath: s.projectPath,
			}
			if err := fn(rec); err != nil {
				return err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to scan transcript %s: %w", path, err)
	}
	return nil
}
