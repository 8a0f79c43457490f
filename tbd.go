// Package tbd provides a minimal public API for embedding the issue
// store in other Go programs.
//
// Most automation should shell out to the tbd CLI; this package exports
// only the types and entry points needed to read and write a dataset
// programmatically. The sync machinery stays internal: embedding
// programs work against an already-synced checkout.
package tbd

import (
	"github.com/jlevy/tbd/internal/config"
	"github.com/jlevy/tbd/internal/store"
	"github.com/jlevy/tbd/internal/types"
)

// Core types for working with issues
type (
	Issue      = types.Issue
	Status     = types.Status
	Kind       = types.Kind
	Dependency = types.Dependency
)

// Status constants
const (
	StatusOpen       = types.StatusOpen
	StatusInProgress = types.StatusInProgress
	StatusBlocked    = types.StatusBlocked
	StatusClosed     = types.StatusClosed
)

// Kind constants
const (
	KindBug     = types.KindBug
	KindFeature = types.KindFeature
	KindTask    = types.KindTask
	KindEpic    = types.KindEpic
	KindChore   = types.KindChore
)

// Store operations
type (
	Store         = store.Store
	CreateRequest = store.CreateRequest
	UpdateRequest = store.UpdateRequest
	ListFilter    = store.ListFilter
)

// Config carries the per-repository settings (prefix, sync branch).
type Config = config.Config

// OpenDataset opens the issue store rooted at a dataset directory,
// typically the sync-branch worktree checkout.
func OpenDataset(dataDir string, cfg *Config) (*Store, error) {
	return store.OpenAt(dataDir, cfg)
}
