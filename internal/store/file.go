package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"sync"
)

// document is the on-disk layout: one JSON object with three collections.
// Map keys are decimal user IDs.
type document struct {
	ActiveDialogs  map[string]string `json:"active_dialogs"`
	BlockedUsers   []int64           `json:"blocked_users"`
	DialogMessages map[string][]int  `json:"dialog_messages"`
}

func emptyDocument() *document {
	return &document{
		ActiveDialogs:  map[string]string{},
		BlockedUsers:   []int64{},
		DialogMessages: map[string][]int{},
	}
}

// fileBackend rereads the document on every call and rewrites it through a
// temp file + rename, holding mu across the whole read-modify-write.
type fileBackend struct {
	path string
	mu   sync.Mutex
}

// NewFile returns a Backend persisting to a single JSON document at path.
func NewFile(path string) (Backend, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
	}
	b := &fileBackend{path: path}
	// fail early on an unreadable document instead of on the first update
	if _, err := b.load(); err != nil {
		return nil, err
	}
	return b, nil
}

func (f *fileBackend) load() (*document, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return emptyDocument(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", f.path, err)
	}
	doc := emptyDocument()
	if len(data) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(data, doc); err != nil {
		return nil, fmt.Errorf("decode %s: %w", f.path, err)
	}
	if doc.ActiveDialogs == nil {
		doc.ActiveDialogs = map[string]string{}
	}
	if doc.BlockedUsers == nil {
		doc.BlockedUsers = []int64{}
	}
	if doc.DialogMessages == nil {
		doc.DialogMessages = map[string][]int{}
	}
	return doc, nil
}

func (f *fileBackend) save(doc *document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(f.path), filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace %s: %w", f.path, err)
	}
	return nil
}

// view runs fn against a freshly loaded document without persisting.
func (f *fileBackend) view(fn func(*document)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, err := f.load()
	if err != nil {
		return err
	}
	fn(doc)
	return nil
}

// update runs fn and persists the document when fn reports a change.
func (f *fileBackend) update(fn func(*document) bool) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, err := f.load()
	if err != nil {
		return false, err
	}
	if !fn(doc) {
		return false, nil
	}
	if err := f.save(doc); err != nil {
		return false, err
	}
	return true, nil
}

func key(userID int64) string {
	return strconv.FormatInt(userID, 10)
}

func (f *fileBackend) GetSession(_ context.Context, userID int64) (Session, bool, error) {
	var (
		sess Session
		ok   bool
	)
	err := f.view(func(doc *document) {
		var ref string
		ref, ok = doc.ActiveDialogs[key(userID)]
		sess = Session{UserID: userID, ProductRef: ref}
	})
	if err != nil || !ok {
		return Session{}, false, err
	}
	return sess, true, nil
}

func (f *fileBackend) ListSessions(_ context.Context) (map[int64]string, error) {
	out := make(map[int64]string)
	var parseErr error
	err := f.view(func(doc *document) {
		for k, ref := range doc.ActiveDialogs {
			id, err := strconv.ParseInt(k, 10, 64)
			if err != nil {
				parseErr = fmt.Errorf("invalid user id %q in active_dialogs: %w", k, err)
				return
			}
			out[id] = ref
		}
	})
	if err != nil {
		return nil, err
	}
	if parseErr != nil {
		return nil, parseErr
	}
	return out, nil
}

func (f *fileBackend) UpsertSession(_ context.Context, userID int64, productRef string) (bool, error) {
	var created bool
	_, err := f.update(func(doc *document) bool {
		prev, existed := doc.ActiveDialogs[key(userID)]
		created = !existed
		if existed && prev == productRef {
			return false
		}
		doc.ActiveDialogs[key(userID)] = productRef
		return true
	})
	if err != nil {
		return false, err
	}
	return created, nil
}

func (f *fileBackend) DeleteSession(_ context.Context, userID int64) (bool, error) {
	return f.update(func(doc *document) bool {
		if _, ok := doc.ActiveDialogs[key(userID)]; !ok {
			return false
		}
		delete(doc.ActiveDialogs, key(userID))
		return true
	})
}

func (f *fileBackend) IsBlocked(_ context.Context, userID int64) (bool, error) {
	var blocked bool
	err := f.view(func(doc *document) {
		blocked = slices.Contains(doc.BlockedUsers, userID)
	})
	return blocked, err
}

func (f *fileBackend) ListBlocked(_ context.Context) ([]int64, error) {
	var out []int64
	err := f.view(func(doc *document) {
		out = slices.Clone(doc.BlockedUsers)
	})
	if err != nil {
		return nil, err
	}
	slices.Sort(out)
	return out, nil
}

func (f *fileBackend) AddBlocked(_ context.Context, userID int64) (bool, error) {
	return f.update(func(doc *document) bool {
		if slices.Contains(doc.BlockedUsers, userID) {
			return false
		}
		doc.BlockedUsers = append(doc.BlockedUsers, userID)
		return true
	})
}

func (f *fileBackend) DeleteBlocked(_ context.Context, userID int64) (bool, error) {
	return f.update(func(doc *document) bool {
		i := slices.Index(doc.BlockedUsers, userID)
		if i < 0 {
			return false
		}
		doc.BlockedUsers = slices.Delete(doc.BlockedUsers, i, i+1)
		return true
	})
}

func (f *fileBackend) ListThread(_ context.Context, userID int64) ([]int, error) {
	var out []int
	err := f.view(func(doc *document) {
		out = slices.Clone(doc.DialogMessages[key(userID)])
	})
	return out, err
}

func (f *fileBackend) AppendThread(_ context.Context, userID int64, handle int) (bool, error) {
	return f.update(func(doc *document) bool {
		handles := doc.DialogMessages[key(userID)]
		if slices.Contains(handles, handle) {
			return false
		}
		doc.DialogMessages[key(userID)] = append(handles, handle)
		return true
	})
}

func (f *fileBackend) ClearThread(_ context.Context, userID int64) (int, error) {
	var n int
	_, err := f.update(func(doc *document) bool {
		handles, ok := doc.DialogMessages[key(userID)]
		if !ok {
			return false
		}
		n = len(handles)
		delete(doc.DialogMessages, key(userID))
		return true
	})
	return n, err
}

func (f *fileBackend) Close() error { return nil }
