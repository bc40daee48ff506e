package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"slices"
	"sync"
)

// LegacyOrderKey is the key of the order list in the legacy flat store.
const LegacyOrderKey = "tokenOrder"

// LegacyStore is the flat key-value layout used before encrypted records:
// an order list of token uids plus one otpauth URI string per uid.
type LegacyStore interface {
	// Order returns the legacy order list; found is false once it has been
	// removed.
	Order(ctx context.Context) (ids []string, found bool, err error)
	// URI returns the URI stored for id.
	URI(ctx context.Context, id string) (string, bool, error)
	// Remove deletes the entry for id.
	Remove(ctx context.Context, id string) error
	// SetOrder rewrites the order list.
	SetOrder(ctx context.Context, ids []string) error
	// RemoveOrder deletes the order list.
	RemoveOrder(ctx context.Context) error
}

// LegacyFile is a LegacyStore kept as a JSON object on disk.
type LegacyFile struct {
	path string
	mu   sync.Mutex
}

// NewLegacyFile returns a store for path. A missing file is an empty store.
func NewLegacyFile(path string) *LegacyFile {
	return &LegacyFile{path: path}
}

func (l *LegacyFile) Order(context.Context) ([]string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	doc, err := l.read()
	if err != nil {
		return nil, false, err
	}
	raw, ok := doc[LegacyOrderKey]
	if !ok {
		return nil, false, nil
	}
	var ids []string
	if err := json.Unmarshal(raw, &ids); err != nil {
		return nil, false, fmt.Errorf("%w: decode legacy order: %w", ErrStoreIO, err)
	}
	return ids, true, nil
}

func (l *LegacyFile) URI(_ context.Context, id string) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	doc, err := l.read()
	if err != nil {
		return "", false, err
	}
	raw, ok := doc[id]
	if !ok || id == LegacyOrderKey {
		return "", false, nil
	}
	var uri string
	if err := json.Unmarshal(raw, &uri); err != nil {
		return "", false, fmt.Errorf("%w: decode legacy entry %s: %w", ErrStoreIO, id, err)
	}
	return uri, true, nil
}

func (l *LegacyFile) Remove(_ context.Context, id string) error {
	return l.mutate(func(doc map[string]json.RawMessage) error {
		delete(doc, id)
		return nil
	})
}

func (l *LegacyFile) SetOrder(_ context.Context, ids []string) error {
	return l.mutate(func(doc map[string]json.RawMessage) error {
		raw, err := json.Marshal(slices.Clone(ids))
		if err != nil {
			return err
		}
		doc[LegacyOrderKey] = raw
		return nil
	})
}

func (l *LegacyFile) RemoveOrder(context.Context) error {
	return l.mutate(func(doc map[string]json.RawMessage) error {
		delete(doc, LegacyOrderKey)
		return nil
	})
}

func (l *LegacyFile) mutate(fn func(map[string]json.RawMessage) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	doc, err := l.read()
	if err != nil {
		return err
	}
	if err := fn(doc); err != nil {
		return fmt.Errorf("%w: %w", ErrStoreIO, err)
	}
	return writeFileAtomic(l.path, doc)
}

func (l *LegacyFile) read() (map[string]json.RawMessage, error) {
	doc := make(map[string]json.RawMessage)
	b, err := os.ReadFile(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return doc, nil
		}
		return nil, fmt.Errorf("%w: read %s: %w", ErrStoreIO, l.path, err)
	}
	if len(b) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %w", ErrStoreIO, l.path, err)
	}
	return doc, nil
}
