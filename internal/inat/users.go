package inat

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"github.com/openfield/inatmirror/internal/cache"
	"github.com/openfield/inatmirror/internal/normalize"
)

// syncUser refreshes the owner's user record and returns their numeric
// id. The cached copy is looked up through the login-named alias so the
// id does not need to be known up front; a 304 answer yields the cached
// id without touching disk.
func (c *Client) syncUser(ctx context.Context, login string) (uint64, error) {
	userDir := c.store.KindDir(normalize.KindUsers)
	aliasPath := filepath.Join(userDir, login+".yaml")

	var prior *cache.Header
	var cachedID uint64
	hdr, body, err := c.store.ReadEntityFile(aliasPath)
	if err != nil {
		return 0, err
	}
	if hdr != nil {
		id, err := normalize.EntityID(body)
		if err != nil {
			return 0, &cache.CorruptError{Path: aliasPath, Reason: "user record missing numeric id"}
		}
		cachedID = id
		prior = hdr
	}

	res, err := c.fetch(ctx, c.endpoint("/users/"+url.PathEscape(login), nil), prior)
	if err != nil {
		return 0, err
	}
	if res == nil {
		return cachedID, nil // still current
	}

	user, err := res.Envelope.singleResult()
	if err != nil {
		return 0, err
	}
	id, err := normalize.EntityID(user)
	if err != nil {
		return 0, protocolf("user record: %v", err)
	}
	canonical, ok := user["login"].(string)
	if !ok || canonical == "" {
		return 0, protocolf("user record missing login")
	}

	if err := c.store.WriteEntity(normalize.KindUsers, id, res.Header, user); err != nil {
		return 0, err
	}
	if err := ensureAlias(userDir, canonical, id); err != nil {
		return 0, fmt.Errorf("maintain user alias: %w", err)
	}
	return id, nil
}

// ensureAlias keeps exactly one login-named symlink pointing at the
// user's id-keyed cache file: stale aliases for the same id (a renamed
// login) are removed, a login-named link left over from another id (a
// reused login) is repointed, and the current one is created when absent.
func ensureAlias(dir, login string, id uint64) error {
	target := fmt.Sprintf("%d.yaml", id)
	link := login + ".yaml"

	exists := false
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		path := filepath.Join(dir, entry.Name())
		info, err := os.Lstat(path)
		if err != nil || info.Mode()&os.ModeSymlink == 0 {
			continue
		}
		dest, err := os.Readlink(path)
		if err != nil {
			continue
		}
		switch {
		case entry.Name() == link && dest == target:
			exists = true
		case entry.Name() == link || dest == target:
			if err := os.Remove(path); err != nil {
				return err
			}
		}
	}
	if exists {
		return nil
	}
	return os.Symlink(target, filepath.Join(dir, link))
}
