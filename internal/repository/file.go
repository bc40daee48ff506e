package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

type fileRecord struct {
	Service string          `json:"service"`
	Account string          `json:"account"`
	Class   ProtectionClass `json:"class"`
	Data    []byte          `json:"data"`
	Version int64           `json:"version"`
}

type fileDocument struct {
	Records []fileRecord `json:"records"`
}

// FileBackend keeps items in a single JSON document on disk. Every
// mutation rewrites the document through a temporary file and a rename,
// so a crash leaves either the old or the new state.
type FileBackend struct {
	path    string
	mu      sync.Mutex
	records map[itemKey]fileRecord
}

// OpenFileBackend loads path, treating a missing file as empty.
func OpenFileBackend(path string) (*FileBackend, error) {
	fb := &FileBackend{path: path, records: make(map[itemKey]fileRecord)}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fb, nil
		}
		return nil, fmt.Errorf("%w: open %s: %w", ErrStoreIO, path, err)
	}
	defer f.Close()

	var doc fileDocument
	if err := json.NewDecoder(f).Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %w", ErrStoreIO, path, err)
	}
	for _, r := range doc.Records {
		fb.records[itemKey{r.Service, r.Account}] = r
	}
	return fb, nil
}

func (fb *FileBackend) Insert(_ context.Context, item Item) error {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	k := itemKey{item.Service, item.Account}
	if _, ok := fb.records[k]; ok {
		return fmt.Errorf("%w: %s/%s", ErrDuplicateAccount, item.Service, item.Account)
	}
	return fb.commit(k, fileRecord{
		Service: item.Service,
		Account: item.Account,
		Class:   item.Class,
		Data:    item.Data,
		Version: time.Now().Unix(),
	})
}

func (fb *FileBackend) Update(_ context.Context, item Item) error {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	k := itemKey{item.Service, item.Account}
	if _, ok := fb.records[k]; !ok {
		return fmt.Errorf("%w: %s/%s", ErrNotFound, item.Service, item.Account)
	}
	return fb.commit(k, fileRecord{
		Service: item.Service,
		Account: item.Account,
		Class:   item.Class,
		Data:    item.Data,
		Version: time.Now().Unix(),
	})
}

func (fb *FileBackend) Get(_ context.Context, service, account string) (Item, error) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	r, ok := fb.records[itemKey{service, account}]
	if !ok {
		return Item{}, fmt.Errorf("%w: %s/%s", ErrNotFound, service, account)
	}
	return copyItem(Item{Service: r.Service, Account: r.Account, Class: r.Class, Data: r.Data}), nil
}

func (fb *FileBackend) Delete(_ context.Context, service, account string) error {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	k := itemKey{service, account}
	prev, ok := fb.records[k]
	if !ok {
		return fmt.Errorf("%w: %s/%s", ErrNotFound, service, account)
	}
	delete(fb.records, k)
	if err := fb.flush(); err != nil {
		fb.records[k] = prev
		return err
	}
	return nil
}

// commit sets k to r and flushes, restoring the previous entry on failure.
func (fb *FileBackend) commit(k itemKey, r fileRecord) error {
	prev, had := fb.records[k]
	r.Data = append([]byte(nil), r.Data...)
	fb.records[k] = r
	if err := fb.flush(); err != nil {
		if had {
			fb.records[k] = prev
		} else {
			delete(fb.records, k)
		}
		return err
	}
	return nil
}

func (fb *FileBackend) flush() error {
	doc := fileDocument{Records: make([]fileRecord, 0, len(fb.records))}
	for _, r := range fb.records {
		doc.Records = append(doc.Records, r)
	}
	sort.Slice(doc.Records, func(i, j int) bool {
		if doc.Records[i].Service != doc.Records[j].Service {
			return doc.Records[i].Service < doc.Records[j].Service
		}
		return doc.Records[i].Account < doc.Records[j].Account
	})
	return writeFileAtomic(fb.path, doc)
}

func writeFileAtomic(path string, v any) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("%w: create temp: %w", ErrStoreIO, err)
	}
	name := tmp.Name()

	encErr := json.NewEncoder(tmp).Encode(v)
	syncErr := tmp.Sync()
	closeErr := tmp.Close()
	if err := errors.Join(encErr, syncErr, closeErr); err != nil {
		os.Remove(name)
		return fmt.Errorf("%w: write %s: %w", ErrStoreIO, path, err)
	}
	if err := os.Rename(name, path); err != nil {
		os.Remove(name)
		return fmt.Errorf("%w: rename %s: %w", ErrStoreIO, path, err)
	}
	return nil
}
