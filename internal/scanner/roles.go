package scanner

import (
	"context"
	"fmt"
)

// roleResolver caches role lookups for a single pass. Entries are keyed by
// pass id, plus the page index when lookups happen per page, and are
// dropped when the pass ends.
type roleResolver struct {
	passID string
	dir    RoleDirectory
	role   string
	lookup RoleLookup
	cache  map[string][]string
}

func newRoleResolver(passID string, dir RoleDirectory, role string, lookup RoleLookup) *roleResolver {
	return &roleResolver{
		passID: passID,
		dir:    dir,
		role:   role,
		lookup: lookup,
		cache:  make(map[string][]string),
	}
}

func (r *roleResolver) key(page int) string {
	if r.lookup == LookupPerPass {
		return r.passID
	}
	return fmt.Sprintf("%s/page-%d", r.passID, page)
}

func (r *roleResolver) resolve(ctx context.Context, page int) ([]string, error) {
	k := r.key(page)
	if ids, ok := r.cache[k]; ok {
		return ids, nil
	}
	ids, err := r.dir.FindUsersByRole(ctx, r.role)
	if err != nil {
		return nil, err
	}
	r.cache[k] = ids
	return ids, nil
}

func (r *roleResolver) discard() {
	clear(r.cache)
}
