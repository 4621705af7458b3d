// Package cache holds the cumulative property tree of every object currently
// known to be in the remote inventory.
//
// The cache is owned by a single goroutine (the synchronization loop) and is
// not safe for concurrent use.
package cache

import (
	"sort"

	"github.com/steveyegge/invsync/internal/inventory/changes"
	"github.com/steveyegge/invsync/internal/inventory/schema"
)

// Cache maps object identities to property trees.
type Cache struct {
	entries map[string]map[string]map[string]any // type -> ref -> tree
	size    int
}

// New creates an empty cache.
func New() *Cache {
	return &Cache{entries: make(map[string]map[string]map[string]any)}
}

// Insert replaces any existing entry for id with a fresh tree built from changes.
//
// The tree is stored even when some changes fail; the returned error lists
// the failed changes.
func (c *Cache) Insert(id schema.Identity, changeList []schema.PropertyChange) (map[string]any, error) {
	tree, err := changes.Apply(nil, changeList)
	c.put(id, tree)
	return tree, err
}

// Update applies changes to an existing entry.
//
// It returns nil, nil when id is not cached, so a stray delta never
// resurrects an identity that already left.
func (c *Cache) Update(id schema.Identity, changeList []schema.PropertyChange) (map[string]any, error) {
	tree := c.Get(id)
	if tree == nil {
		return nil, nil
	}
	return changes.Apply(tree, changeList)
}

// Delete removes id. Deleting an absent identity is a no-op.
func (c *Cache) Delete(id schema.Identity) {
	refs, ok := c.entries[id.Type]
	if !ok {
		return
	}
	if _, ok := refs[id.Ref]; !ok {
		return
	}
	delete(refs, id.Ref)
	c.size--
	if len(refs) == 0 {
		delete(c.entries, id.Type)
	}
}

// Get returns the tree for id, or nil when it is not cached.
func (c *Cache) Get(id schema.Identity) map[string]any {
	return c.entries[id.Type][id.Ref]
}

// Keys returns the cached refs of objectType in sorted order.
func (c *Cache) Keys(objectType string) []string {
	refs := c.entries[objectType]
	keys := make([]string, 0, len(refs))
	for ref := range refs {
		keys = append(keys, ref)
	}
	sort.Strings(keys)
	return keys
}

// Types returns the object types with at least one cached entry, sorted.
func (c *Cache) Types() []string {
	types := make([]string, 0, len(c.entries))
	for t := range c.entries {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Len returns the number of cached identities.
func (c *Cache) Len() int {
	return c.size
}

// Reset drops every entry. Used before a resync baseline.
func (c *Cache) Reset() {
	c.entries = make(map[string]map[string]map[string]any)
	c.size = 0
}

func (c *Cache) put(id schema.Identity, tree map[string]any) {
	refs, ok := c.entries[id.Type]
	if !ok {
		refs = make(map[string]map[string]any)
		c.entries[id.Type] = refs
	}
	if _, exists := refs[id.Ref]; !exists {
		c.size++
	}
	refs[id.Ref] = tree
}
