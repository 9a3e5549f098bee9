// Package group keeps the folder tree that organizes API definitions and
// reusable functions. Every group is one directory holding a group.json
// record; the store rebuilds the tree from those records on demand and keeps
// three caches: id → metadata file location, plus one flat id → Group map per
// namespace used for ancestor walks (full path / full name).
//
// Delete on the store only invalidates the location cache. Removing the
// directory is the caller's job and must happen through the Resource returned
// by GroupResource before calling Delete.
package group
