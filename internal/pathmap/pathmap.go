// Package pathmap implements the bijective mapping between cleartext
// hierarchical paths and the obfuscated directory/name structure the
// engine stores: deterministic directory-id derivation via HKDF,
// deterministic encrypted child names via the SIV construction, and path
// validation that runs before any ObjectStore call.
package pathmap

import (
	"context"
	"encoding/base32"
	"fmt"
	"strings"

	"github.com/axiomvault/vault/internal/crypto"
	"github.com/axiomvault/vault/internal/crypto/siv"
	"github.com/axiomvault/vault/internal/dirstore"
	"github.com/axiomvault/vault/internal/vaulterr"
)

// MaxSegmentLen is the maximum length, in bytes, of a single path segment.
const MaxSegmentLen = 255

// MaxDepth is the maximum number of path segments permitted below the root.
const MaxDepth = 64

var nameEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// Validate checks a cleartext path's segments against the engine's edge
// policies, returning vaulterr.ErrInvalidInput for a malformed path before
// any store call is made.
func Validate(path string) ([]string, error) {
	segments, err := Split(path)
	if err != nil {
		return nil, err
	}
	if len(segments) > MaxDepth {
		return nil, fmt.Errorf("%w: path depth %d exceeds maximum %d", vaulterr.ErrInvalidInput, len(segments), MaxDepth)
	}
	return segments, nil
}

// Split breaks a cleartext path into its segments, applying every edge
// policy except the depth bound (callers that need TooDeep distinguished
// from other invalid-path cases can check len(segments) themselves; see
// Validate for the combined check the engine normally uses).
func Split(path string) ([]string, error) {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil, nil
	}
	segments := strings.Split(trimmed, "/")
	for _, seg := range segments {
		if err := validateSegment(seg); err != nil {
			return nil, err
		}
	}
	return segments, nil
}

func validateSegment(seg string) error {
	if seg == "" {
		return fmt.Errorf("%w: empty path segment", vaulterr.ErrInvalidInput)
	}
	if seg == "." || seg == ".." {
		return fmt.Errorf("%w: path segment %q is not allowed", vaulterr.ErrInvalidInput, seg)
	}
	if strings.ContainsRune(seg, '\x00') {
		return fmt.Errorf("%w: path segment contains NUL", vaulterr.ErrInvalidInput)
	}
	if len(seg) > MaxSegmentLen {
		return fmt.Errorf("%w: path segment exceeds %d bytes", vaulterr.ErrInvalidInput, MaxSegmentLen)
	}
	return nil
}

// RootDirID returns the vault's fixed root directory id, derived from kDir
// alone as HKDF(k_dir, "dir-id-root").
func RootDirID(kDir []byte) ([16]byte, error) {
	var id [16]byte
	out, err := crypto.HKDFExpand(kDir, []byte("dir-id-root"), 16)
	if err != nil {
		return id, err
	}
	copy(id[:], out)
	return id, nil
}

// ChildDirID derives the deterministic directory id for a subdirectory
// named segment under parent.
func ChildDirID(kDir []byte, parent [16]byte, segment string) ([16]byte, error) {
	var id [16]byte
	info := make([]byte, 0, len("dir-id")+16+len(segment))
	info = append(info, []byte("dir-id")...)
	info = append(info, parent[:]...)
	info = append(info, segment...)
	out, err := crypto.HKDFExpand(kDir, info, 16)
	if err != nil {
		return id, err
	}
	copy(id[:], out)
	return id, nil
}

// EncryptedName computes the deterministic storage-visible name for
// cleartext segment within the directory identified by parentDirID.
func EncryptedName(kName []byte, parentDirID [16]byte, segment string) (string, error) {
	ct, err := siv.Seal(kName, parentDirID[:], []byte(segment))
	if err != nil {
		return "", err
	}
	return nameEncoding.EncodeToString(ct), nil
}

// DecryptName recovers the cleartext segment from an encrypted storage name
// within the directory identified by parentDirID. Not used on the hot path
// (directory records already carry cleartext segment names; the encrypted
// name is a derived, recomputed value used for lookup, not something that
// must be reversed), but kept for repair tooling that only has the
// storage-visible structure.
func DecryptName(kName []byte, parentDirID [16]byte, encrypted string) (string, error) {
	ct, err := nameEncoding.DecodeString(encrypted)
	if err != nil {
		return "", fmt.Errorf("%w: bad encrypted name encoding", vaulterr.ErrCorrupt)
	}
	pt, err := siv.Open(kName, parentDirID[:], ct)
	if err != nil {
		return "", err
	}
	return string(pt), nil
}

// Kind distinguishes a resolved file from a resolved directory.
type Kind int

const (
	KindFile Kind = iota
	KindDir
)

// Resolved is the successful result of resolving a cleartext path.
type Resolved struct {
	Kind      Kind
	DirID     [16]byte // valid when Kind == KindDir
	ContentID [16]byte // valid when Kind == KindFile
	SizeHint  uint64
}

// NotFoundError reports that path does not resolve, naming the deepest
// directory id that does exist along the walk.
type NotFoundError struct {
	DeepestExistingAncestor [16]byte
	MissingSegment          string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("pathmap: %q not found under existing ancestor", e.MissingSegment)
}

func (e *NotFoundError) Unwrap() error { return vaulterr.ErrNotFound }

// Resolver walks directory records to resolve cleartext paths, using a
// dirstore.Store to fetch records and kDir/kName to derive ids and names.
type Resolver struct {
	dirs  *dirstore.Store
	kDir  []byte
	kName []byte
}

// NewResolver constructs a path resolver over dirs, deriving directory ids
// with kDir and encrypted names with kName.
func NewResolver(dirs *dirstore.Store, kDir, kName []byte) *Resolver {
	return &Resolver{dirs: dirs, kDir: kDir, kName: kName}
}

// Resolve walks from the root directory record to the target path,
// returning either a Resolved result or a *NotFoundError naming the
// deepest existing ancestor.
func (p *Resolver) Resolve(ctx context.Context, path string) (Resolved, error) {
	segments, err := Validate(path)
	if err != nil {
		return Resolved{}, err
	}
	rootID, err := RootDirID(p.kDir)
	if err != nil {
		return Resolved{}, err
	}
	if len(segments) == 0 {
		return Resolved{Kind: KindDir, DirID: rootID}, nil
	}

	curDirID := rootID
	for i, seg := range segments {
		rec, _, err := p.dirs.Read(ctx, curDirID)
		if err != nil {
			return Resolved{}, err
		}
		entry, ok := rec.Find(seg)
		if !ok {
			return Resolved{}, &NotFoundError{DeepestExistingAncestor: curDirID, MissingSegment: seg}
		}
		last := i == len(segments)-1
		switch entry.Kind {
		case dirstore.KindFile:
			if !last {
				return Resolved{}, &NotFoundError{DeepestExistingAncestor: curDirID, MissingSegment: seg}
			}
			return Resolved{Kind: KindFile, ContentID: entry.ChildRef, SizeHint: entry.SizeHint}, nil
		case dirstore.KindDir:
			curDirID = entry.ChildRef
			if last {
				return Resolved{Kind: KindDir, DirID: curDirID}, nil
			}
		}
	}
	return Resolved{Kind: KindDir, DirID: curDirID}, nil
}

// ResolveParent resolves the parent directory of path and returns its id
// along with the final segment name, for operations (create, remove,
// rename) that need to mutate the parent's directory record.
func (p *Resolver) ResolveParent(ctx context.Context, path string) (parentDirID [16]byte, segment string, err error) {
	segments, err := Validate(path)
	if err != nil {
		return parentDirID, "", err
	}
	if len(segments) == 0 {
		return parentDirID, "", fmt.Errorf("%w: root path has no parent", vaulterr.ErrInvalidInput)
	}
	parentPath := "/" + strings.Join(segments[:len(segments)-1], "/")
	resolved, err := p.Resolve(ctx, parentPath)
	if err != nil {
		return parentDirID, "", err
	}
	if resolved.Kind != KindDir {
		return parentDirID, "", fmt.Errorf("%w: parent is not a directory", vaulterr.ErrInvalidInput)
	}
	return resolved.DirID, segments[len(segments)-1], nil
}
