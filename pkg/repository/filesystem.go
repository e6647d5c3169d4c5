package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/recall/pkg/model"
	"github.com/m-mizutani/recall/pkg/utils/logging"
)

// fsRepo implements Repository on the local filesystem. Layout:
//
//	<root>/extractions/<project>/<session-id>.json
//	<root>/memory/<project>/consolidated.json
//	<root>/memory/<project>/history/<timestamp>.json
//	<root>/memory/<project>/.lock
//	<root>/generated/<project>/...
type fsRepo struct {
	root string
}

// New creates a filesystem repository rooted at dataDir.
func New(dataDir string) (Repository, error) {
	if dataDir == "" {
		return nil, goerr.New("data directory is required")
	}
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, goerr.Wrap(err, "failed to create data directory", goerr.V("path", dataDir))
	}
	return &fsRepo{root: dataDir}, nil
}

func (r *fsRepo) extractionPath(project string, id model.SessionID) string {
	return filepath.Join(r.root, "extractions", project, string(id)+".json")
}

func (r *fsRepo) memoryDir(project string) string {
	return filepath.Join(r.root, "memory", project)
}

func (r *fsRepo) generatedDir(project string) string {
	return filepath.Join(r.root, "generated", project)
}

func (r *fsRepo) PutExtraction(ctx context.Context, record *model.ExtractionRecord) error {
	if record.Project == "" || record.SessionID == "" {
		return goerr.New("extraction record needs project and session id")
	}

	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return goerr.Wrap(err, "failed to marshal extraction record")
	}

	path := r.extractionPath(record.Project, record.SessionID)
	if err := writeAtomic(path, data); err != nil {
		return goerr.Wrap(err, "failed to write extraction record",
			goerr.V("session_id", record.SessionID))
	}
	return nil
}

func (r *fsRepo) GetExtraction(ctx context.Context, project string, id model.SessionID) (*model.ExtractionRecord, error) {
	data, err := os.ReadFile(r.extractionPath(project, id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, goerr.Wrap(model.ErrNotFound, "extraction record does not exist",
				goerr.V("project", project), goerr.V("session_id", id))
		}
		return nil, goerr.Wrap(err, "failed to read extraction record")
	}

	var record model.ExtractionRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, goerr.Wrap(err, "failed to parse extraction record",
			goerr.V("session_id", id))
	}
	return &record, nil
}

func (r *fsRepo) ListExtractions(ctx context.Context, project string) ([]*model.ExtractionRecord, error) {
	dir := filepath.Join(r.root, "extractions", project)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, goerr.Wrap(err, "failed to list extraction records", goerr.V("project", project))
	}

	var records []*model.ExtractionRecord
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, goerr.Wrap(err, "failed to read extraction record", goerr.V("file", entry.Name()))
		}
		var record model.ExtractionRecord
		if err := json.Unmarshal(data, &record); err != nil {
			// One corrupt record must not sink the batch
			logging.From(ctx).Warn("skipping unparsable extraction record",
				"file", entry.Name(), "error", err)
			continue
		}
		records = append(records, &record)
	}

	sort.Slice(records, func(i, j int) bool {
		if records[i].ExtractedAt.Equal(records[j].ExtractedAt) {
			return records[i].SessionID < records[j].SessionID
		}
		return records[i].ExtractedAt.Before(records[j].ExtractedAt)
	})
	return records, nil
}

func (r *fsRepo) GetMemory(ctx context.Context, project string) (*model.ConsolidatedMemory, error) {
	path := filepath.Join(r.memoryDir(project), "consolidated.json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, goerr.Wrap(model.ErrNotFound, "no consolidated memory for project",
				goerr.V("project", project))
		}
		return nil, goerr.Wrap(err, "failed to read consolidated memory")
	}

	var memory model.ConsolidatedMemory
	if err := json.Unmarshal(data, &memory); err != nil {
		return nil, goerr.Wrap(err, "failed to parse consolidated memory", goerr.V("path", path))
	}
	return &memory, nil
}

func (r *fsRepo) PutMemory(ctx context.Context, memory *model.ConsolidatedMemory) error {
	if memory.Project == "" {
		return goerr.New("consolidated memory needs a project")
	}

	dir := r.memoryDir(memory.Project)
	path := filepath.Join(dir, "consolidated.json")

	// Archive the prior version before replacing it
	if prior, err := os.ReadFile(path); err == nil {
		var prev model.ConsolidatedMemory
		stamp := "unknown"
		if err := json.Unmarshal(prior, &prev); err == nil {
			stamp = prev.GeneratedAt.UTC().Format("2006-01-02_150405")
		}
		histPath := filepath.Join(dir, "history", fmt.Sprintf("v%03d_%s.json", prev.Version, stamp))
		if err := writeAtomic(histPath, prior); err != nil {
			return goerr.Wrap(err, "failed to archive prior memory version")
		}
	} else if !os.IsNotExist(err) {
		return goerr.Wrap(err, "failed to read prior memory version")
	}

	data, err := json.MarshalIndent(memory, "", "  ")
	if err != nil {
		return goerr.Wrap(err, "failed to marshal consolidated memory")
	}
	if err := writeAtomic(path, data); err != nil {
		return goerr.Wrap(err, "failed to write consolidated memory", goerr.V("project", memory.Project))
	}
	return nil
}

func (r *fsRepo) PutGenerated(ctx context.Context, project, name string, data []byte) error {
	path := filepath.Join(r.generatedDir(project), filepath.FromSlash(name))
	if err := writeAtomic(path, data); err != nil {
		return goerr.Wrap(err, "failed to write generated artifact",
			goerr.V("project", project), goerr.V("name", name))
	}
	return nil
}

func (r *fsRepo) GetGenerated(ctx context.Context, project, name string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(r.generatedDir(project), filepath.FromSlash(name)))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, goerr.Wrap(model.ErrNotFound, "generated artifact does not exist",
				goerr.V("project", project), goerr.V("name", name))
		}
		return nil, goerr.Wrap(err, "failed to read generated artifact")
	}
	return data, nil
}

func (r *fsRepo) ListGenerated(ctx context.Context, project string) ([]string, error) {
	dir := r.generatedDir(project)
	var names []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		names = append(names, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, goerr.Wrap(err, "failed to list generated artifacts", goerr.V("project", project))
	}
	sort.Strings(names)
	return names, nil
}

func (r *fsRepo) Lock(ctx context.Context, project string) (func() error, error) {
	dir := r.memoryDir(project)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, goerr.Wrap(err, "failed to create memory directory", goerr.V("project", project))
	}

	path := filepath.Join(dir, ".lock")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		if os.IsExist(err) {
			return nil, goerr.Wrap(model.ErrLocked, "another consolidation run holds the lock",
				goerr.V("project", project), goerr.V("lock", path))
		}
		return nil, goerr.Wrap(err, "failed to create lock file", goerr.V("path", path))
	}
	fmt.Fprintf(f, "%d\n", os.Getpid())
	if err := f.Close(); err != nil {
		return nil, goerr.Wrap(err, "failed to close lock file")
	}

	return func() error {
		return os.Remove(path)
	}, nil
}

// writeAtomic writes data via a temp file in the destination directory and
// renames it into place, so readers see either the old file or the new one.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return goerr.Wrap(err, "failed to create directory", goerr.V("dir", dir))
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return goerr.Wrap(err, "failed to create temp file", goerr.V("dir", dir))
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return goerr.Wrap(err, "failed to write temp file")
	}
	if err := tmp.Close(); err != nil {
		return goerr.Wrap(err, "failed to close temp file")
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		return goerr.Wrap(err, "failed to chmod temp file")
	}
	if err := os.Rename(tmpName, path); err != nil {
		return goerr.Wrap(err, "failed to rename temp file", goerr.V("path", path))
	}
	return nil
}
