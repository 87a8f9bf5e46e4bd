// Package storage persists the port extender configuration document.
package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Load when nothing has been saved yet.
var ErrNotFound = errors.New("configuration not found")

// ConfigStore holds exactly one configuration document. The engine owns the
// encoding; stores only move bytes.
type ConfigStore interface {
	Load(ctx context.Context) ([]byte, error)
	Save(ctx context.Context, data []byte) error
}
