// Package resource defines the hierarchical storage primitive the group store
// is persisted on: path-addressed directories holding small metadata files.
// Backends (disk, memory, badger) register themselves by key in init() and are
// opened through Open, which returns a Workspace rooted at the configured
// storage location. Every backend honours the same contract: directory moves
// are atomic, writes require an existing parent, and Dirs walks the subtree
// parents-first so callers can rebuild trees without extra sorting.
package resource
