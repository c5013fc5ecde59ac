// Package archive writes a JSON snapshot of an account to object storage
// before the local row is deleted. The snapshot is the only record left
// once the deletion has propagated, so the write happens inside the delete
// transaction and a failed write aborts the delete.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"path"

	"github.com/accountsync/userservice/types"
)

const snapshotContentType = "application/json"

// ObjectStore defines the object operations the archiver needs across
// backends.
type ObjectStore interface {
	EnsureBucket(ctx context.Context) error
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Bucket() string
}

// Archiver wraps an ObjectStore backend with account-level operations.
type Archiver struct {
	store ObjectStore
}

// NewArchiver constructs an Archiver for the provided backend.
func NewArchiver(store ObjectStore) *Archiver {
	return &Archiver{store: store}
}

// EnsureBucket ensures the snapshot bucket exists.
func (a *Archiver) EnsureBucket(ctx context.Context) error {
	return a.store.EnsureBucket(ctx)
}

// Snapshot uploads the account as JSON and returns the object key.
func (a *Archiver) Snapshot(ctx context.Context, account types.Account) (string, error) {
	data, err := json.Marshal(account)
	if err != nil {
		return "", err
	}

	key := SnapshotKey(account.ID)
	if err := a.store.Put(ctx, key, bytes.NewReader(data), int64(len(data)), snapshotContentType); err != nil {
		return "", err
	}
	return key, nil
}

// Load reads a previously written snapshot back. Used by operators to
// inspect what was deleted; the service itself never restores from it.
func (a *Archiver) Load(ctx context.Context, id string) (types.Account, error) {
	r, err := a.store.Get(ctx, SnapshotKey(id))
	if err != nil {
		return types.Account{}, err
	}
	defer r.Close()

	var account types.Account
	if err := json.NewDecoder(r).Decode(&account); err != nil {
		return types.Account{}, err
	}
	return account, nil
}

// Bucket returns the configured bucket name.
func (a *Archiver) Bucket() string {
	return a.store.Bucket()
}

// SnapshotKey is the object key for an account's snapshot.
func SnapshotKey(id string) string {
	return path.Join("accounts", id+".json")
}
