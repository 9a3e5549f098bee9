package group

import (
	"errors"
	"regexp"
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/go-git/go-billy/v5/memfs"

	"github.com/any-hub/groupstore/internal/resource"
)

func TestInsertThenListRoundTrip(t *testing.T) {
	store, _ := newTestStore(t)

	g := mustInsert(t, store, Group{Name: "orders", Type: TypeAPI, ParentID: RootID, Path: "orders", CreateBy: "alice"})
	if g.ID != "g1" {
		t.Fatalf("expected generated id g1, got %s", g.ID)
	}
	if g.CreateTime != 1700000000000 || g.UpdateTime != 1700000000000 {
		t.Fatalf("timestamps should come from the clock: %+v", g)
	}

	groups, err := store.GroupList(TypeAPI)
	if err != nil {
		t.Fatalf("group list: %v", err)
	}
	if len(groups) != 1 || groups[0] != g {
		t.Fatalf("unexpected list %+v", groups)
	}

	functions, err := store.GroupList(TypeFunction)
	if err != nil {
		t.Fatalf("function list: %v", err)
	}
	if len(functions) != 0 {
		t.Fatalf("function namespace should be empty, got %+v", functions)
	}

	cached, err := store.CachedGroupList(TypeAPI)
	if err != nil || len(cached) != 1 || cached[0].ID != g.ID {
		t.Fatalf("cached list mismatch: %+v %v", cached, err)
	}

	dir, ok := store.GroupResource(g.ID)
	if !ok || dir.Location() != "api/orders" {
		t.Fatalf("unexpected group resource %v %v", dir, ok)
	}
}

func TestInsertUsesDashlessUUIDByDefault(t *testing.T) {
	store, err := NewStore(resource.NewFilesystem(memfs.New()), StoreOptions{})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	g := Group{Name: "a", Type: TypeFunction, ParentID: RootID}
	if err := store.Insert(&g); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if !regexp.MustCompile(`^[0-9a-f]{32}$`).MatchString(g.ID) {
		t.Fatalf("unexpected generated id %q", g.ID)
	}
	if dir, ok := store.GroupResource(g.ID); !ok || dir.Location() != "function/a" {
		t.Fatalf("function group should live under function/: %v", dir)
	}
}

func TestInsertKeepsProvidedID(t *testing.T) {
	store, _ := newTestStore(t)
	g := mustInsert(t, store, Group{ID: "fixed", Name: "a", Type: TypeAPI, ParentID: RootID})
	if g.ID != "fixed" {
		t.Fatalf("provided id should be kept, got %s", g.ID)
	}
}

func TestNewStoreRequiresWorkspace(t *testing.T) {
	if _, err := NewStore(nil, StoreOptions{}); err == nil {
		t.Fatalf("expected error for nil workspace")
	}
}

func TestInsertRejectsOccupiedDirectory(t *testing.T) {
	store, _ := newTestStore(t)
	mustInsert(t, store, Group{Name: "a", Type: TypeAPI, ParentID: RootID})

	dup := Group{Name: "a", Type: TypeAPI, ParentID: RootID}
	if err := store.Insert(&dup); !errors.Is(err, ErrGroupExists) {
		t.Fatalf("expected ErrGroupExists, got %v", err)
	}

	// 同名但位于另一个命名空间的分组不冲突
	other := Group{Name: "a", Type: TypeFunction, ParentID: RootID}
	if err := store.Insert(&other); err != nil {
		t.Fatalf("same name in function namespace should succeed: %v", err)
	}
}

func TestExistsDoesNotTouchCaches(t *testing.T) {
	store, _ := newTestStore(t)
	a := mustInsert(t, store, Group{Name: "a", Type: TypeAPI, ParentID: RootID})
	mustAPITree(t, store)
	before := store.Stats()

	if !store.Exists(Group{Name: "a", Type: TypeAPI, ParentID: RootID}) {
		t.Fatalf("api/a should exist")
	}
	if store.Exists(Group{Name: "b", Type: TypeAPI, ParentID: RootID}) {
		t.Fatalf("api/b should not exist")
	}
	if store.Exists(Group{Name: "a", Type: TypeAPI, ParentID: a.ID}) {
		t.Fatalf("api/a/a should not exist")
	}
	if store.Stats() != before {
		t.Fatalf("exists must not change caches: %+v vs %+v", store.Stats(), before)
	}
}

func TestNestedInsertAndFullPath(t *testing.T) {
	store, _ := newTestStore(t)
	a := mustInsert(t, store, Group{Name: "A", Type: TypeAPI, ParentID: RootID, Path: "a"})
	b := mustInsert(t, store, Group{Name: "B", Type: TypeAPI, ParentID: a.ID, Path: "/b/"})
	c := mustInsert(t, store, Group{Name: "C", Type: TypeAPI, ParentID: b.ID, Path: "c"})

	if dir, _ := store.GroupResource(c.ID); dir.Location() != "api/A/B/C" {
		t.Fatalf("nested group stored at %s", dir.Location())
	}

	tree := mustAPITree(t, store)
	if got := shape(tree); got != "root(A(B(C)))" {
		t.Fatalf("unexpected tree %s", got)
	}

	path, ok := store.FullPath(c.ID)
	if !ok || path != "/a/b/c" {
		t.Fatalf("full path = %q, %v", path, ok)
	}
	name, ok := store.FullName(c.ID)
	if !ok || name != "A/B/C" {
		t.Fatalf("full name = %q, %v", name, ok)
	}
	if name, ok := store.FullName(a.ID); !ok || name != "A" {
		t.Fatalf("top-level full name = %q, %v", name, ok)
	}
}

func TestFullNameOfRootAndEmpty(t *testing.T) {
	store, _ := newTestStore(t)
	for _, id := range []string{"", RootID} {
		if name, ok := store.FullName(id); !ok || name != "" {
			t.Fatalf("FullName(%q) = %q, %v", id, name, ok)
		}
	}
	if _, ok := store.FullName("unknown"); ok {
		t.Fatalf("unknown id should not resolve")
	}
	if _, ok := store.FullPath("unknown"); ok {
		t.Fatalf("unknown id should not resolve")
	}
}

func TestResolveFailsWhenAncestorMissing(t *testing.T) {
	store, _ := newTestStore(t)
	a := mustInsert(t, store, Group{Name: "A", Type: TypeAPI, ParentID: RootID, Path: "a"})
	b := mustInsert(t, store, Group{Name: "B", Type: TypeAPI, ParentID: a.ID, Path: "b"})
	c := mustInsert(t, store, Group{Name: "C", Type: TypeAPI, ParentID: b.ID, Path: "c"})
	mustAPITree(t, store)

	store.mu.Lock()
	delete(store.apiCache, b.ID)
	store.mu.Unlock()

	if _, ok := store.FullPath(c.ID); ok {
		t.Fatalf("full path should fail with a missing ancestor")
	}
	if _, ok := store.FullName(c.ID); ok {
		t.Fatalf("full name should fail with a missing ancestor")
	}
	if path, ok := store.FullPath(a.ID); !ok || path != "/a" {
		t.Fatalf("intact chain should still resolve: %q %v", path, ok)
	}
}

func TestResolveDetectsCycles(t *testing.T) {
	store, _ := newTestStore(t)
	store.mu.Lock()
	store.apiCache = map[string]Group{
		"x": {ID: "x", Name: "x", ParentID: "y"},
		"y": {ID: "y", Name: "y", ParentID: "x"},
	}
	store.mu.Unlock()

	if _, ok := store.FullPath("x"); ok {
		t.Fatalf("cycle should not resolve")
	}
	if _, ok := store.FullName("y"); ok {
		t.Fatalf("cycle should not resolve")
	}
}

func TestLookupPrefersFunctionNamespace(t *testing.T) {
	store, _ := newTestStore(t)
	mustInsert(t, store, Group{ID: "shared", Name: "api-side", Type: TypeAPI, ParentID: RootID, Path: "api"})
	mustInsert(t, store, Group{ID: "shared", Name: "fn-side", Type: TypeFunction, ParentID: RootID, Path: "fn"})
	mustAPITree(t, store)
	if _, err := store.FunctionGroupTree(); err != nil {
		t.Fatalf("function tree: %v", err)
	}

	if name, ok := store.FullName("shared"); !ok || name != "fn-side" {
		t.Fatalf("function group should win, got %q %v", name, ok)
	}
	if path, ok := store.FullPath("shared"); !ok || path != "/fn" {
		t.Fatalf("function path should win, got %q %v", path, ok)
	}
}

func TestContainsAPIGroup(t *testing.T) {
	store, _ := newTestStore(t)
	api := mustInsert(t, store, Group{Name: "a", Type: TypeAPI, ParentID: RootID})
	fn := mustInsert(t, store, Group{Name: "f", Type: TypeFunction, ParentID: RootID})

	if !store.ContainsAPIGroup(RootID) {
		t.Fatalf("root should always be contained")
	}
	if store.ContainsAPIGroup(api.ID) {
		t.Fatalf("api group is not visible before the tree is loaded")
	}
	mustAPITree(t, store)
	if !store.ContainsAPIGroup(api.ID) {
		t.Fatalf("api group should be contained after load")
	}
	if store.ContainsAPIGroup(fn.ID) {
		t.Fatalf("function group must not count as api group")
	}
}

func TestTreeReloadEvictsDeletedGroups(t *testing.T) {
	store, _ := newTestStore(t)
	a := mustInsert(t, store, Group{Name: "a", Type: TypeAPI, ParentID: RootID})
	b := mustInsert(t, store, Group{Name: "b", Type: TypeAPI, ParentID: RootID})
	mustAPITree(t, store)
	if _, err := store.FunctionGroupTree(); err != nil {
		t.Fatalf("function tree: %v", err)
	}

	dir, ok := store.GroupResource(a.ID)
	if !ok {
		t.Fatalf("group a should be cached")
	}
	if err := dir.Delete(); err != nil {
		t.Fatalf("delete directory: %v", err)
	}
	store.Delete(a.ID)
	if _, ok := store.GroupResource(a.ID); ok {
		t.Fatalf("delete should drop the cached location")
	}

	tree := mustAPITree(t, store)
	if got := shape(tree); got != "root(b)" {
		t.Fatalf("unexpected tree after delete %s", got)
	}
	if store.ContainsAPIGroup(a.ID) {
		t.Fatalf("deleted group still in api cache")
	}
	if _, ok := store.GroupResource(b.ID); !ok {
		t.Fatalf("surviving group should stay cached")
	}
}

func TestTreeReloadDropsLocationsRemovedOutOfBand(t *testing.T) {
	store, root := newTestStore(t)
	a := mustInsert(t, store, Group{Name: "a", Type: TypeAPI, ParentID: RootID})
	mustAPITree(t, store)

	if err := root.GetDirectory("api").GetDirectory("a").Delete(); err != nil {
		t.Fatalf("remove directory: %v", err)
	}
	if _, ok := store.GroupResource(a.ID); !ok {
		t.Fatalf("cache is not refreshed until the next load")
	}
	mustAPITree(t, store)
	if _, ok := store.GroupResource(a.ID); ok {
		t.Fatalf("reload should evict the missing group")
	}
	if stats := store.Stats(); stats.Locations != 0 || stats.APIGroups != 0 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestDeleteIsIdempotent(t *testing.T) {
	store, _ := newTestStore(t)
	store.Delete("never-existed")
	store.Delete("")
	if store.Stats().Locations != 0 {
		t.Fatalf("delete of unknown ids should be a no-op")
	}
}

func TestUpdateMovesGroupUnderNewParent(t *testing.T) {
	store, root := newTestStore(t)
	a := mustInsert(t, store, Group{Name: "A", Type: TypeAPI, ParentID: RootID, Path: "a"})
	b := mustInsert(t, store, Group{Name: "B", Type: TypeAPI, ParentID: RootID, Path: "b"})
	c := mustInsert(t, store, Group{Name: "C", Type: TypeAPI, ParentID: a.ID, Path: "c", CreateBy: "alice"})

	moved := c
	moved.ParentID = b.ID
	moved.CreateTime = 0
	moved.CreateBy = ""
	moved.UpdateBy = "bob"
	if err := store.Update(moved); err != nil {
		t.Fatalf("update: %v", err)
	}

	if root.GetDirectory("api").GetDirectory("A").GetDirectory("C").Exists() {
		t.Fatalf("old directory should be gone")
	}
	dir, ok := store.GroupResource(c.ID)
	if !ok || dir.Location() != "api/B/C" {
		t.Fatalf("unexpected location after move: %v", dir)
	}

	stored, err := store.ReadGroup(dir.GetResource("group.json"))
	if err != nil {
		t.Fatalf("read moved group: %v", err)
	}
	if stored.ParentID != b.ID || stored.UpdateBy != "bob" {
		t.Fatalf("metadata not rewritten: %+v", stored)
	}
	if stored.CreateTime != c.CreateTime || stored.CreateBy != "alice" {
		t.Fatalf("creation fields should be carried over: %+v", stored)
	}

	mustAPITree(t, store)
	if path, ok := store.FullPath(c.ID); !ok || path != "/b/c" {
		t.Fatalf("full path after move = %q %v", path, ok)
	}
}

func TestUpdateRenamesInPlace(t *testing.T) {
	store, root := newTestStore(t)
	a := mustInsert(t, store, Group{Name: "old", Type: TypeFunction, ParentID: RootID})

	renamed := a
	renamed.Name = "new"
	if err := store.Update(renamed); err != nil {
		t.Fatalf("update: %v", err)
	}
	fn := root.GetDirectory("function")
	if fn.GetDirectory("old").Exists() || !fn.GetDirectory("new").Exists() {
		t.Fatalf("directory should be renamed")
	}
	groups, err := store.GroupList(TypeFunction)
	if err != nil || len(groups) != 1 || groups[0].Name != "new" {
		t.Fatalf("unexpected list after rename %+v %v", groups, err)
	}
}

func TestUpdateWithoutChangesRewritesMetadata(t *testing.T) {
	store, _ := newTestStore(t)
	a := mustInsert(t, store, Group{Name: "a", Type: TypeAPI, ParentID: RootID, Path: "a"})

	same := a
	same.Path = "renamed-path"
	if err := store.Update(same); err != nil {
		t.Fatalf("update in place: %v", err)
	}
	groups, _ := store.GroupList(TypeAPI)
	if len(groups) != 1 || groups[0].Path != "renamed-path" {
		t.Fatalf("metadata not rewritten: %+v", groups)
	}
}

func TestUpdateRelocatesDescendants(t *testing.T) {
	store, _ := newTestStore(t)
	a := mustInsert(t, store, Group{Name: "A", Type: TypeAPI, ParentID: RootID})
	b := mustInsert(t, store, Group{Name: "B", Type: TypeAPI, ParentID: a.ID})
	c := mustInsert(t, store, Group{Name: "C", Type: TypeAPI, ParentID: b.ID})

	lifted := b
	lifted.ParentID = RootID
	if err := store.Update(lifted); err != nil {
		t.Fatalf("update: %v", err)
	}

	dir, ok := store.GroupResource(c.ID)
	if !ok || dir.Location() != "api/B/C" {
		t.Fatalf("descendant location not rebased: %v", dir)
	}
	if _, err := store.ReadGroup(dir.GetResource("group.json")); err != nil {
		t.Fatalf("descendant metadata unreadable: %v", err)
	}

	// 子孙的位置已更新，后续插入能落在正确的目录
	d := mustInsert(t, store, Group{Name: "D", Type: TypeAPI, ParentID: c.ID})
	if dir, _ := store.GroupResource(d.ID); dir.Location() != "api/B/C/D" {
		t.Fatalf("insert under moved descendant went to %s", dir.Location())
	}
}

func TestUpdateRejectsOccupiedTarget(t *testing.T) {
	store, root := newTestStore(t)
	a := mustInsert(t, store, Group{Name: "A", Type: TypeAPI, ParentID: RootID})
	b := mustInsert(t, store, Group{Name: "B", Type: TypeAPI, ParentID: RootID})
	mustInsert(t, store, Group{Name: "X", Type: TypeAPI, ParentID: b.ID})
	x := mustInsert(t, store, Group{Name: "X", Type: TypeAPI, ParentID: a.ID})

	moved := x
	moved.ParentID = b.ID
	if err := store.Update(moved); !errors.Is(err, ErrGroupExists) {
		t.Fatalf("expected ErrGroupExists, got %v", err)
	}
	if !root.GetDirectory("api").GetDirectory("A").GetDirectory("X").Exists() {
		t.Fatalf("source must stay in place after a failed move")
	}
	if dir, _ := store.GroupResource(x.ID); dir.Location() != "api/A/X" {
		t.Fatalf("cache should keep the old location, got %s", dir.Location())
	}
}

func TestUpdateRequiresCachedGroup(t *testing.T) {
	store, _ := newTestStore(t)
	err := store.Update(Group{ID: "ghost", Name: "ghost", Type: TypeAPI, ParentID: RootID})
	if !errors.Is(err, ErrGroupNotCached) {
		t.Fatalf("expected ErrGroupNotCached, got %v", err)
	}
}

func TestUpdateReportsPartialFailure(t *testing.T) {
	root := &faultyResource{
		Resource:   resource.NewFilesystem(memfs.New()),
		failSuffix: "api/B/group.json",
	}
	store := newStoreOn(t, root)
	a := mustInsert(t, store, Group{Name: "A", Type: TypeAPI, ParentID: RootID})

	renamed := a
	renamed.Name = "B"
	err := store.Update(renamed)
	if !errors.Is(err, ErrPartialUpdate) {
		t.Fatalf("expected ErrPartialUpdate, got %v", err)
	}

	dir, ok := store.GroupResource(a.ID)
	if !ok || dir.Location() != "api/B" {
		t.Fatalf("cache should follow the moved directory, got %v", dir)
	}
	stale, err := store.ReadGroup(dir.GetResource("group.json"))
	if err != nil {
		t.Fatalf("read stale metadata: %v", err)
	}
	if stale.Name != "A" {
		t.Fatalf("metadata should still be the old record, got %+v", stale)
	}
}

func TestLoadSkipsBrokenAndDuplicateRecords(t *testing.T) {
	store, root := newTestStore(t)
	api := root.GetDirectory("api")

	write := func(dir, body string) {
		t.Helper()
		d := api.GetDirectory(dir)
		if err := d.Mkdir(); err != nil {
			t.Fatalf("mkdir %s: %v", dir, err)
		}
		if body == "" {
			return
		}
		if err := d.GetResource("group.json").Write([]byte(body)); err != nil {
			t.Fatalf("write %s: %v", dir, err)
		}
	}
	write("first", `{"id":"same","name":"first","type":"1","parentId":"0"}`)
	write("second", `{"id":"same","name":"second","type":"1","parentId":"0"}`)
	write("broken", `{nope`)
	write("empty", "")
	write("plain", `{"id":"p","name":"plain","type":"1","parentId":"0"}`)

	groups, err := store.GroupList(TypeAPI)
	if err != nil {
		t.Fatalf("group list: %v", err)
	}
	names := map[string]bool{}
	for _, g := range groups {
		names[g.Name] = true
	}
	if len(groups) != 2 || !names["first"] || !names["plain"] {
		t.Fatalf("unexpected groups %+v", groups)
	}
	if dir, _ := store.GroupResource("same"); dir.Location() != "api/first" {
		t.Fatalf("first record should win, got %s", dir.Location())
	}
}

func TestCustomLayout(t *testing.T) {
	root := resource.NewFilesystem(memfs.New())
	store, err := NewStore(root, StoreOptions{Layout: Layout{APIDir: "apis", MetadataFile: "meta.json"}})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if l := store.Layout(); l.APIDir != "apis" || l.FunctionDir != "function" || l.MetadataFile != "meta.json" {
		t.Fatalf("unexpected layout %+v", l)
	}
	g := Group{Name: "a", Type: TypeAPI, ParentID: RootID}
	if err := store.Insert(&g); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if !root.GetDirectory("apis").GetDirectory("a").GetResource("meta.json").Exists() {
		t.Fatalf("metadata should follow the custom layout")
	}
}

func TestStoreOnBadgerBackend(t *testing.T) {
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	if err != nil {
		t.Fatalf("open badger: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	store := newStoreOn(t, resource.NewBadger(db))
	a := mustInsert(t, store, Group{Name: "A", Type: TypeAPI, ParentID: RootID, Path: "a"})
	b := mustInsert(t, store, Group{Name: "B", Type: TypeAPI, ParentID: a.ID, Path: "b"})

	tree := mustAPITree(t, store)
	if got := shape(tree); got != "root(A(B))" {
		t.Fatalf("unexpected tree %s", got)
	}
	if path, ok := store.FullPath(b.ID); !ok || path != "/a/b" {
		t.Fatalf("full path = %q %v", path, ok)
	}

	moved := b
	moved.ParentID = RootID
	if err := store.Update(moved); err != nil {
		t.Fatalf("update: %v", err)
	}
	tree = mustAPITree(t, store)
	if got := shape(tree); got != "root(A,B)" {
		t.Fatalf("unexpected tree after move %s", got)
	}
}

func TestInsertCleansUpWhenMetadataWriteFails(t *testing.T) {
	inner := resource.NewFilesystem(memfs.New())
	store := newStoreOn(t, &faultyResource{Resource: inner, failSuffix: "api/a/group.json"})

	g := Group{Name: "a", Type: TypeAPI, ParentID: RootID}
	if err := store.Insert(&g); err == nil {
		t.Fatalf("expected metadata write failure")
	}
	if inner.GetDirectory("api").GetDirectory("a").Exists() {
		t.Fatalf("directory should be removed after a failed insert")
	}
	if _, ok := store.GroupResource("g1"); ok {
		t.Fatalf("failed insert must not register a location")
	}
	if g.ID != "" || g.CreateTime != 0 || g.UpdateTime != 0 {
		t.Fatalf("failed insert must leave the group untouched: %+v", g)
	}
}

func TestInsertLeavesGroupUntouchedWhenOccupied(t *testing.T) {
	store, _ := newTestStore(t)
	mustInsert(t, store, Group{Name: "a", Type: TypeAPI, ParentID: RootID})

	dup := Group{Name: "a", Type: TypeAPI, ParentID: RootID, CreateTime: 42}
	if err := store.Insert(&dup); !errors.Is(err, ErrGroupExists) {
		t.Fatalf("expected ErrGroupExists, got %v", err)
	}
	want := Group{Name: "a", Type: TypeAPI, ParentID: RootID, CreateTime: 42}
	if dup != want {
		t.Fatalf("rejected insert modified the group: got %+v, want %+v", dup, want)
	}

	// 失败后可以直接复用同一个结构体重试
	dup.Name = "b"
	if err := store.Insert(&dup); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if dup.ID != "g3" || dup.CreateTime != 42 || dup.UpdateTime != 1700000000000 {
		t.Fatalf("unexpected stamps after retry: %+v", dup)
	}
}
