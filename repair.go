package vault

import (
	"context"
	"encoding/hex"
	"strings"

	"github.com/axiomvault/vault/internal/dirstore"
	"github.com/axiomvault/vault/internal/objectstore"
	"github.com/axiomvault/vault/internal/pathmap"
)

// owner identifies one (parent directory, entry) reference to a child id,
// used while detecting rename double-links during Repair.
type owner struct {
	parent  [16]byte
	segment string
}

// RepairStats summarizes the outcome of a Repair pass.
type RepairStats struct {
	OrphanedContentObjectsDeleted int
	DoubleLinksResolved           int
}

// Repair walks the vault's reachable directory graph from the root,
// reconciles it against the file content objects actually present in
// store, and deletes unreachable file content objects (staging objects and
// directory records are not deleted). It never requires the vault to
// be unlocked through a Vault value: repair only needs the dir subkey,
// never the content or name subkeys, so it is exposed as a standalone
// function taking kDir directly rather than a *Vault method.
//
// Diffs the object store's actual listing against everything the
// directory graph references, and deletes orphans. A crashed
// cross-directory Rename can leave the same child id linked from two
// parent records at once; Repair
// resolves that by keeping the link in whichever parent record encodes the
// lexicographically greater cleartext segment name for deterministic,
// divergence-free output, and removing the other. There is no
// authoritative way to recover which of the two parents was the rename's
// true destination once both records are present on disk with no
// distinguishing timestamp, so this tie-break is a documented best-effort
// choice rather than a provable reconstruction of intent.
func Repair(ctx context.Context, store objectstore.Store, kDir []byte) (RepairStats, error) {
	var stats RepairStats
	dirs := dirstore.New(store, kDir)

	rootID, err := pathmap.RootDirID(kDir)
	if err != nil {
		return stats, err
	}

	reachableContent := make(map[[16]byte]struct{})
	visitedDirs := make(map[[16]byte]struct{})
	owners := make(map[[16]byte][]owner)

	var walk func(dirID [16]byte) error
	walk = func(dirID [16]byte) error {
		if _, ok := visitedDirs[dirID]; ok {
			return nil
		}
		visitedDirs[dirID] = struct{}{}
		rec, _, err := dirs.Read(ctx, dirID)
		if err != nil {
			if objectstore.IsNotFound(err) {
				return nil
			}
			return err
		}
		for _, e := range rec.Entries {
			owners[e.ChildRef] = append(owners[e.ChildRef], owner{parent: dirID, segment: e.Name})
			switch e.Kind {
			case dirstore.KindFile:
				reachableContent[e.ChildRef] = struct{}{}
			case dirstore.KindDir:
				if err := walk(e.ChildRef); err != nil {
					return err
				}
			}
		}
		return nil
	}
	if err := walk(rootID); err != nil {
		return stats, err
	}

	for childRef, refs := range owners {
		if len(refs) < 2 {
			continue
		}
		keep := refs[0]
		for _, r := range refs[1:] {
			if r.segment > keep.segment {
				keep = r
			}
		}
		for _, r := range refs {
			if r == keep {
				continue
			}
			err := dirs.Mutate(ctx, r.parent, func(rec dirstore.Record) (dirstore.Record, error) {
				out := rec.Entries[:0]
				for _, e := range rec.Entries {
					if e.ChildRef == childRef && e.Name == r.segment {
						continue
					}
					out = append(out, e)
				}
				rec.Entries = out
				return rec, nil
			})
			if err != nil && !objectstore.IsNotFound(err) {
				return stats, err
			}
			stats.DoubleLinksResolved++
		}
	}

	keys, err := store.List(ctx, "files/")
	if err != nil {
		return stats, err
	}
	for _, key := range keys {
		if strings.Contains(key, ".stage.") {
			continue // staging objects are the janitor's concern, not repair's
		}
		idHex := strings.TrimPrefix(key, "files/")
		raw, err := hex.DecodeString(idHex)
		if err != nil || len(raw) != 16 {
			continue
		}
		var id [16]byte
		copy(id[:], raw)
		if _, ok := reachableContent[id]; ok {
			continue
		}
		if err := store.Delete(ctx, key, nil); err != nil && !objectstore.IsNotFound(err) {
			return stats, err
		}
		stats.OrphanedContentObjectsDeleted++
	}

	return stats, nil
}
