package group

import (
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-git/go-billy/v5/memfs"

	"github.com/any-hub/groupstore/internal/resource"
)

// newTestStore returns a Store over a fresh in-memory workspace with
// deterministic ids (g1, g2, ...) and a fixed clock.
func newTestStore(t *testing.T) (*Store, resource.Resource) {
	t.Helper()
	root := resource.NewFilesystem(memfs.New())
	return newStoreOn(t, root), root
}

func newStoreOn(t *testing.T, root resource.Resource) *Store {
	t.Helper()
	var (
		mu  sync.Mutex
		seq int
	)
	store, err := NewStore(root, StoreOptions{
		IDGenerator: func() string {
			mu.Lock()
			defer mu.Unlock()
			seq++
			return fmt.Sprintf("g%d", seq)
		},
		Clock: func() time.Time { return time.UnixMilli(1700000000000) },
	})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return store
}

func mustInsert(t *testing.T, s *Store, g Group) Group {
	t.Helper()
	if err := s.Insert(&g); err != nil {
		t.Fatalf("insert %s: %v", g.Name, err)
	}
	return g
}

func mustAPITree(t *testing.T, s *Store) *TreeNode[Group] {
	t.Helper()
	tree, err := s.APIGroupTree()
	if err != nil {
		t.Fatalf("api tree: %v", err)
	}
	return tree
}

// shape renders a tree as "name(child,child)" for compact assertions.
func shape(n *TreeNode[Group]) string {
	if len(n.Children) == 0 {
		return n.Node.Name
	}
	parts := make([]string, len(n.Children))
	for i, c := range n.Children {
		parts[i] = shape(c)
	}
	return n.Node.Name + "(" + strings.Join(parts, ",") + ")"
}

// faultyResource wraps a Resource and fails Write for locations ending in failSuffix.
type faultyResource struct {
	resource.Resource
	failSuffix string
}

func (f *faultyResource) wrap(r resource.Resource) resource.Resource {
	return &faultyResource{Resource: r, failSuffix: f.failSuffix}
}

func unwrap(r resource.Resource) resource.Resource {
	if f, ok := r.(*faultyResource); ok {
		return f.Resource
	}
	return r
}

func (f *faultyResource) Write(data []byte) error {
	if f.failSuffix != "" && strings.HasSuffix(f.Location(), f.failSuffix) {
		return fmt.Errorf("injected write failure at %s", f.Location())
	}
	return f.Resource.Write(data)
}

func (f *faultyResource) RenameTo(target resource.Resource) error {
	return f.Resource.RenameTo(unwrap(target))
}

func (f *faultyResource) GetDirectory(name string) resource.Resource {
	return f.wrap(f.Resource.GetDirectory(name))
}

func (f *faultyResource) GetResource(name string) resource.Resource {
	return f.wrap(f.Resource.GetResource(name))
}

func (f *faultyResource) Parent() resource.Resource {
	return f.wrap(f.Resource.Parent())
}

func (f *faultyResource) Dirs() ([]resource.Resource, error) {
	dirs, err := f.Resource.Dirs()
	if err != nil {
		return nil, err
	}
	for i, d := range dirs {
		dirs[i] = f.wrap(d)
	}
	return dirs, nil
}
