package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/org/checkoutgate/internal/errclass"
	"github.com/org/checkoutgate/internal/fsutil"
	"github.com/org/checkoutgate/pkg/models"
)

const filePerm = 0o600

// FileBackend stores one JSON file per record under local directories:
// a single limits file, one file per decision token and one per purchase.
type FileBackend struct {
	limitsPath   string
	decisionsDir string
	purchasesDir string
}

// NewFileBackend creates the directories it needs and returns a backend.
func NewFileBackend(limitsPath, decisionsDir, purchasesDir string) (*FileBackend, error) {
	for _, d := range []string{filepath.Dir(limitsPath), decisionsDir, purchasesDir} {
		if err := os.MkdirAll(d, 0o700); err != nil {
			return nil, fmt.Errorf("creating %s: %w", d, err)
		}
	}
	return &FileBackend{
		limitsPath:   limitsPath,
		decisionsDir: decisionsDir,
		purchasesDir: purchasesDir,
	}, nil
}

func (f *FileBackend) Close() {}

// --- Limits ---

func (f *FileBackend) GetLimits(ctx context.Context) (models.Limits, error) {
	var l models.Limits
	if err := readJSON(f.limitsPath, &l); err != nil {
		return models.Limits{}, err
	}
	return l, nil
}

func (f *FileBackend) PutLimits(ctx context.Context, limits models.Limits) error {
	return writeJSON(f.limitsPath, limits)
}

// --- Decisions ---

func (f *FileBackend) decisionPath(token string) (string, error) {
	if token == "" || filepath.Base(token) != token || strings.ContainsAny(token, `/\.`) {
		return "", errclass.ErrInvalidToken.WithMessagef("invalid token %q", token)
	}
	return filepath.Join(f.decisionsDir, token+".json"), nil
}

func (f *FileBackend) CreateDecision(ctx context.Context, rec models.DecisionRecord) error {
	path, err := f.decisionPath(rec.Token)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding decision: %w", err)
	}
	if err := fsutil.CreateExclusive(path, data, filePerm); err != nil {
		if errors.Is(err, os.ErrExist) {
			return ErrAlreadyExists
		}
		return err
	}
	return nil
}

func (f *FileBackend) PutDecision(ctx context.Context, rec models.DecisionRecord) error {
	path, err := f.decisionPath(rec.Token)
	if err != nil {
		return err
	}
	return writeJSON(path, rec)
}

func (f *FileBackend) GetDecision(ctx context.Context, token string) (models.DecisionRecord, error) {
	path, err := f.decisionPath(token)
	if err != nil {
		return models.DecisionRecord{}, err
	}
	var rec models.DecisionRecord
	if err := readJSON(path, &rec); err != nil {
		return models.DecisionRecord{}, err
	}
	return rec, nil
}

// --- Purchases ---

func (f *FileBackend) AppendPurchase(ctx context.Context, rec models.PurchaseRecord) error {
	name := fmt.Sprintf("purchase_%d_%s.json", rec.Timestamp.UnixMilli(), rec.ID)
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding purchase: %w", err)
	}
	if err := fsutil.CreateExclusive(filepath.Join(f.purchasesDir, name), data, filePerm); err != nil {
		if errors.Is(err, os.ErrExist) {
			return ErrAlreadyExists
		}
		return err
	}
	return nil
}

// ListPurchases returns up to limit purchases, newest first. Unreadable files are skipped.
func (f *FileBackend) ListPurchases(ctx context.Context, limit int) ([]models.PurchaseRecord, error) {
	files, err := listJSON(f.purchasesDir)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(files) > limit {
		files = files[:limit]
	}
	out := make([]models.PurchaseRecord, 0, len(files))
	for _, fi := range files {
		var rec models.PurchaseRecord
		if err := readJSON(fi.path, &rec); err != nil {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// --- Health ---

func (f *FileBackend) Stats(ctx context.Context) (Stats, error) {
	decs, err := listJSON(f.decisionsDir)
	if err != nil {
		return Stats{}, err
	}
	purs, err := listJSON(f.purchasesDir)
	if err != nil {
		return Stats{}, err
	}
	st := Stats{DecisionCount: len(decs), PurchaseCount: len(purs)}
	if len(decs) > 0 {
		st.LatestDecision = decs[0].modTime.UTC()
	}
	if len(purs) > 0 {
		st.LatestPurchase = purs[0].modTime.UTC()
	}
	return st, nil
}

// helpers

type jsonFile struct {
	path    string
	name    string
	modTime time.Time
}

// listJSON returns the *.json files of dir sorted newest first.
func listJSON(dir string) ([]jsonFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing %s: %w", dir, err)
	}
	var files []jsonFile
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, jsonFile{path: filepath.Join(dir, e.Name()), name: e.Name(), modTime: info.ModTime()})
	}
	sort.Slice(files, func(i, j int) bool {
		if !files[i].modTime.Equal(files[j].modTime) {
			return files[i].modTime.After(files[j].modTime)
		}
		return files[i].name > files[j].name
	})
	return files, nil
}

func readJSON(path string, dst any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ErrNotFound
		}
		return errclass.ErrStoreUnreadable.WithMessagef("reading %s: %v", filepath.Base(path), err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return errclass.ErrStoreUnreadable.WithMessagef("decoding %s: %v", filepath.Base(path), err)
	}
	return nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding %s: %w", filepath.Base(path), err)
	}
	return fsutil.AtomicWrite(path, data, filePerm)
}
