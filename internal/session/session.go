// Package session implements the runtime state of an unlocked vault: the
// keyring, the open-file table, the per-object writer-lock map, and the
// staging area used to make file writes appear atomic to readers. The
// open-file table uses an arena+index pattern: handles are looked up by a
// monotonic integer id rather than holding a pointer back into the
// Session, so a handle never keeps the Session alive and Session teardown
// never has to chase references.
package session

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/axiomvault/vault/internal/crypto"
	"github.com/axiomvault/vault/internal/dirstore"
	"github.com/axiomvault/vault/internal/keyring"
	"github.com/axiomvault/vault/internal/objectid"
	"github.com/axiomvault/vault/internal/objectstore"
	"github.com/axiomvault/vault/internal/pathmap"
	"github.com/axiomvault/vault/internal/streamcodec"
	"github.com/axiomvault/vault/internal/vaulterr"
)

// State is the session lifecycle state.
type State int

const (
	Locked State = iota
	Unlocking
	Unlocked
	Locking
)

// Mode is the access mode a handle was opened with.
type Mode int

const (
	ModeRead Mode = iota
	ModeWrite
)

// Entry describes one child of a resolved directory, as returned by List.
type Entry struct {
	Name     string
	Kind     pathmap.Kind
	SizeHint uint64
}

// handle is one open-file table entry. It never stores a pointer back to
// the Session; callers always address it by ID through Session methods.
type handle struct {
	id        uint64
	path      string
	contentID [16]byte
	mode      Mode
	cursor    int64
	closed    bool

	// write-mode state
	stagingKey string
	stagingBuf *bytes.Buffer
	writer     *streamcodec.Writer
	parentDir  [16]byte
	segment    string
	writtenLen int64
}

// Handle is the opaque caller-facing reference to an open file.
type Handle uint64

// lockEntry is one entry in the per-object writer-lock map: a mutex plus a
// reference count so the map entry can be reclaimed once nobody holds or
// is waiting on it.
type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// Session is the runtime state of an unlocked vault.
type Session struct {
	mu    sync.Mutex // session mutex: guards state and the open-file table
	state State

	kr    *keyring.Keyring
	store objectstore.Store
	dirs  *dirstore.Store
	paths *pathmap.Resolver

	handles    map[uint64]*handle
	nextHandle uint64

	locksMu sync.Mutex
	locks   map[string]*lockEntry
}

// New constructs an Unlocked session over store using the already-derived
// keyring kr.
func New(store objectstore.Store, kr *keyring.Keyring) *Session {
	dirs := dirstore.New(store, kr.Dir.Bytes())
	return &Session{
		state:   Unlocked,
		kr:      kr,
		store:   store,
		dirs:    dirs,
		paths:   pathmap.NewResolver(dirs, kr.Dir.Bytes(), kr.Name.Bytes()),
		handles: make(map[uint64]*handle),
		locks:   make(map[string]*lockEntry),
	}
}

func contentKey(id [16]byte) string { return "files/" + hex.EncodeToString(id[:]) }

func stagingKey(id [16]byte, rand []byte) string {
	return "files/" + hex.EncodeToString(id[:]) + ".stage." + hex.EncodeToString(rand)
}

func lockKey(id [16]byte) string { return hex.EncodeToString(id[:]) }

// acquireLock blocks until the per-object writer lock for id is held. It
// is designed to be held across ObjectStore round-trips, unlike the
// session mutex, which is only ever held for in-memory table bookkeeping.
func (s *Session) acquireLock(id [16]byte) *lockEntry {
	key := lockKey(id)
	s.locksMu.Lock()
	e, ok := s.locks[key]
	if !ok {
		e = &lockEntry{}
		s.locks[key] = e
	}
	e.refs++
	s.locksMu.Unlock()

	e.mu.Lock()
	return e
}

func (s *Session) releaseLock(id [16]byte, e *lockEntry) {
	e.mu.Unlock()
	key := lockKey(id)
	s.locksMu.Lock()
	e.refs--
	if e.refs == 0 {
		delete(s.locks, key)
	}
	s.locksMu.Unlock()
}

func (s *Session) checkUnlocked() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Unlocked {
		return fmt.Errorf("%w: session is not unlocked", vaulterr.ErrInvalidInput)
	}
	return nil
}

// CreateFile resolves path's parent, allocates a fresh content_id, writes
// an empty content object, and links it into the parent directory
// record.
func (s *Session) CreateFile(ctx context.Context, path string) error {
	if err := s.checkUnlocked(); err != nil {
		return err
	}
	parentDirID, segment, err := s.paths.ResolveParent(ctx, path)
	if err != nil {
		return err
	}

	lock := s.acquireLock(parentDirID)
	defer s.releaseLock(parentDirID, lock)

	rec, _, err := s.dirs.Read(ctx, parentDirID)
	if err != nil {
		return err
	}
	if _, exists := rec.Find(segment); exists {
		return fmt.Errorf("%w: %q already exists", vaulterr.ErrAlreadyExists, segment)
	}

	newID, err := objectid.New()
	if err != nil {
		return err
	}
	contentID := [16]byte(newID)

	if err := s.writeEmptyContentObject(contentID); err != nil {
		return err
	}

	err = s.dirs.Mutate(ctx, parentDirID, func(r dirstore.Record) (dirstore.Record, error) {
		if _, exists := r.Find(segment); exists {
			return dirstore.Record{}, fmt.Errorf("%w: %q already exists", vaulterr.ErrAlreadyExists, segment)
		}
		r.Entries = append(r.Entries, dirstore.Entry{Name: segment, Kind: dirstore.KindFile, ChildRef: contentID})
		return r, nil
	})
	if err != nil {
		// Best-effort rollback: the orphaned content object is tolerable
		// garbage, recovered by the repair pass.
		_ = s.store.Delete(ctx, contentKey(contentID), nil)
		return err
	}
	return nil
}

func (s *Session) writeEmptyContentObject(contentID [16]byte) error {
	var buf bytes.Buffer
	w, err := streamcodec.NewWriter(&buf, s.kr.Content.Bytes())
	if err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	ctx := context.Background()
	_, err = s.store.Put(ctx, contentKey(contentID), &buf, nil)
	if err != nil {
		return err
	}
	return nil
}

// CreateDir resolves path's parent and links a freshly-derived subdirectory
// id into it, creating the (initially empty) child directory record.
func (s *Session) CreateDir(ctx context.Context, path string) error {
	if err := s.checkUnlocked(); err != nil {
		return err
	}
	parentDirID, segment, err := s.paths.ResolveParent(ctx, path)
	if err != nil {
		return err
	}
	childDirID, err := pathmap.ChildDirID(s.kr.Dir.Bytes(), parentDirID, segment)
	if err != nil {
		return err
	}

	lock := s.acquireLock(parentDirID)
	defer s.releaseLock(parentDirID, lock)

	rec, _, err := s.dirs.Read(ctx, parentDirID)
	if err != nil {
		return err
	}
	if _, exists := rec.Find(segment); exists {
		return fmt.Errorf("%w: %q already exists", vaulterr.ErrAlreadyExists, segment)
	}

	if err := s.dirs.Create(ctx, childDirID, dirstore.Record{}); err != nil && !objectstore.IsAlreadyExists(err) {
		return err
	}

	return s.dirs.Mutate(ctx, parentDirID, func(r dirstore.Record) (dirstore.Record, error) {
		if _, exists := r.Find(segment); exists {
			return dirstore.Record{}, fmt.Errorf("%w: %q already exists", vaulterr.ErrAlreadyExists, segment)
		}
		r.Entries = append(r.Entries, dirstore.Entry{Name: segment, Kind: dirstore.KindDir, ChildRef: childDirID})
		return r, nil
	})
}

// Open resolves path and returns a handle in the given mode. Write-mode
// handles acquire the per-object writer lock on the content_id
// immediately and hold it until Close.
func (s *Session) Open(ctx context.Context, path string, mode Mode) (Handle, error) {
	if err := s.checkUnlocked(); err != nil {
		return 0, err
	}
	resolved, err := s.paths.Resolve(ctx, path)
	if err != nil {
		return 0, err
	}
	if resolved.Kind != pathmap.KindFile {
		return 0, fmt.Errorf("%w: %q is a directory", vaulterr.ErrInvalidInput, path)
	}

	h := &handle{path: path, contentID: resolved.ContentID, mode: mode}

	if mode == ModeWrite {
		parentDirID, segment, err := s.paths.ResolveParent(ctx, path)
		if err != nil {
			return 0, err
		}
		h.parentDir = parentDirID
		h.segment = segment

		s.acquireLock(resolved.ContentID) // released on Close
		randSuffix, err := crypto.RandomBytes(8)
		if err != nil {
			s.releaseHeldLock(resolved.ContentID)
			return 0, err
		}
		h.stagingKey = stagingKey(resolved.ContentID, randSuffix)
		h.stagingBuf = &bytes.Buffer{}
		w, err := streamcodec.NewWriter(h.stagingBuf, s.kr.Content.Bytes())
		if err != nil {
			s.releaseHeldLock(resolved.ContentID)
			return 0, err
		}
		h.writer = w

		// Persist the staging object as soon as it exists (header only, so
		// far) so a crash before the first Write still leaves something for
		// the janitor to find and reap, and so Write can append to a real
		// object rather than an in-memory-only buffer.
		if _, err := s.store.Put(ctx, h.stagingKey, bytes.NewReader(h.stagingBuf.Bytes()), nil); err != nil {
			s.releaseHeldLock(resolved.ContentID)
			return 0, err
		}
	}

	s.mu.Lock()
	s.nextHandle++
	h.id = s.nextHandle
	s.handles[h.id] = h
	s.mu.Unlock()
	return Handle(h.id), nil
}

// releaseHeldLock releases a lock entry created by acquireLock when Open
// fails after acquiring it but before the handle is registered.
func (s *Session) releaseHeldLock(id [16]byte) {
	key := lockKey(id)
	s.locksMu.Lock()
	e := s.locks[key]
	s.locksMu.Unlock()
	if e != nil {
		s.releaseLock(id, e)
	}
}

func (s *Session) lookupHandle(h Handle) (*handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	hh, ok := s.handles[uint64(h)]
	if !ok || hh.closed {
		if s.state != Unlocked {
			return nil, fmt.Errorf("%w: handle was closed by Lock", vaulterr.ErrCancelled)
		}
		return nil, fmt.Errorf("%w: handle is not open", vaulterr.ErrInvalidInput)
	}
	return hh, nil
}

// Read decrypts and returns the plaintext byte range [offset, offset+len)
// of the file a read-mode handle refers to.
func (s *Session) Read(ctx context.Context, h Handle, offset int64, length int) ([]byte, error) {
	hh, err := s.lookupHandle(h)
	if err != nil {
		return nil, err
	}
	if hh.mode != ModeRead {
		return nil, fmt.Errorf("%w: handle is not open for reading", vaulterr.ErrInvalidInput)
	}
	rc, _, err := s.store.Get(ctx, contentKey(hh.contentID))
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	body, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("%w: read content object: %v", vaulterr.ErrStoreTransport, err)
	}
	return streamcodec.ReadRange(ctx, bytes.NewReader(body), s.kr.Content.Bytes(), offset, offset+int64(length))
}

// Write appends bytes to the staging object behind a write-mode handle.
// Only append-at-end is supported; any offset other than the handle's
// current cursor surfaces vaulterr.ErrUnsupported. Each call re-persists the
// growing staging object to the backing ObjectStore, so the object a crash
// would leave behind always reflects everything written so far.
func (s *Session) Write(ctx context.Context, h Handle, p []byte, offset int64) (int, error) {
	hh, err := s.lookupHandle(h)
	if err != nil {
		return 0, err
	}
	if hh.mode != ModeWrite {
		return 0, fmt.Errorf("%w: handle is not open for writing", vaulterr.ErrInvalidInput)
	}
	if offset != hh.cursor {
		return 0, fmt.Errorf("%w: random-access write at offset %d (cursor %d)", vaulterr.ErrUnsupported, offset, hh.cursor)
	}
	n, err := hh.writer.Write(p)
	if err != nil {
		return 0, err
	}
	hh.cursor += int64(n)
	hh.writtenLen += int64(n)

	if _, err := s.store.Put(ctx, hh.stagingKey, bytes.NewReader(hh.stagingBuf.Bytes()), nil); err != nil {
		return 0, err
	}
	return n, nil
}

// Close finalizes a handle. For a write-mode handle with commit=false, the
// staging object is discarded. With commit=true, it flushes the tail chunk
// to the staging object, then performs an atomic swap: the now-finalized
// staging object's bytes replace the content object, conditionally on the
// content object's revision as read just before the swap, and the staging object is
// deleted. On CAS failure the commit is rejected as vaulterr.ErrConflict and
// the original content object is left untouched. A successful commit also
// records the written length as the parent directory entry's SizeHint.
func (s *Session) Close(ctx context.Context, h Handle, commit bool) error {
	hh, err := s.lookupHandle(h)
	if err != nil {
		return err
	}
	s.mu.Lock()
	hh.closed = true
	delete(s.handles, uint64(h))
	s.mu.Unlock()

	if hh.mode == ModeRead {
		return nil
	}
	defer s.releaseHeldLock(hh.contentID)

	if !commit {
		// Best-effort: an abandoned staging object is tolerable garbage,
		// reaped by the janitor if this delete doesn't land.
		_ = s.store.Delete(ctx, hh.stagingKey, nil)
		return nil
	}
	if err := hh.writer.Close(); err != nil {
		return err
	}
	if _, err := s.store.Put(ctx, hh.stagingKey, bytes.NewReader(hh.stagingBuf.Bytes()), nil); err != nil {
		return err
	}

	rc, _, err := s.store.Get(ctx, hh.stagingKey)
	if err != nil {
		return err
	}
	staged, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		return fmt.Errorf("%w: read finalized staging object: %v", vaulterr.ErrStoreTransport, err)
	}

	key := contentKey(hh.contentID)
	var expected *objectstore.Revision
	if rev, err := s.store.Head(ctx, key); err == nil {
		expected = &rev
	} else if !objectstore.IsNotFound(err) {
		return err
	}

	if _, err := s.store.Put(ctx, key, bytes.NewReader(staged), expected); err != nil {
		if objectstore.IsPreconditionFailed(err) {
			return fmt.Errorf("%w: concurrent write to %s", vaulterr.ErrConflict, hh.path)
		}
		return err
	}

	if err := s.store.Delete(ctx, hh.stagingKey, nil); err != nil && !objectstore.IsNotFound(err) {
		// Best-effort: leave for the janitor rather than fail a successful commit.
		_ = err
	}

	return s.dirs.Mutate(ctx, hh.parentDir, func(r dirstore.Record) (dirstore.Record, error) {
		for i := range r.Entries {
			if r.Entries[i].Name == hh.segment && r.Entries[i].Kind == dirstore.KindFile {
				r.Entries[i].SizeHint = uint64(hh.writtenLen)
				return r, nil
			}
		}
		return dirstore.Record{}, fmt.Errorf("%w: %q", vaulterr.ErrNotFound, hh.path)
	})
}

// List resolves path as a directory and returns its decrypted children.
// It never touches ObjectStore.List: only the directory record is
// consulted.
func (s *Session) List(ctx context.Context, path string) ([]Entry, error) {
	if err := s.checkUnlocked(); err != nil {
		return nil, err
	}
	resolved, err := s.paths.Resolve(ctx, path)
	if err != nil {
		return nil, err
	}
	if resolved.Kind != pathmap.KindDir {
		return nil, fmt.Errorf("%w: %q is not a directory", vaulterr.ErrInvalidInput, path)
	}
	rec, _, err := s.dirs.Read(ctx, resolved.DirID)
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(rec.Entries))
	for _, e := range rec.Entries {
		kind := pathmap.KindFile
		if e.Kind == dirstore.KindDir {
			kind = pathmap.KindDir
		}
		entries = append(entries, Entry{Name: e.Name, Kind: kind, SizeHint: e.SizeHint})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

// Stat resolves path and returns its entry without reading a directory
// listing, for callers that only need metadata about one path.
func (s *Session) Stat(ctx context.Context, path string) (Entry, error) {
	if err := s.checkUnlocked(); err != nil {
		return Entry{}, err
	}
	resolved, err := s.paths.Resolve(ctx, path)
	if err != nil {
		return Entry{}, err
	}
	name := path
	if idx := lastSlash(path); idx >= 0 {
		name = path[idx+1:]
	}
	kind := pathmap.KindFile
	if resolved.Kind == pathmap.KindDir {
		kind = pathmap.KindDir
	}
	return Entry{Name: name, Kind: kind, SizeHint: resolved.SizeHint}, nil
}

func lastSlash(path string) int {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return i
		}
	}
	return -1
}

// Remove deletes a file or an empty directory at path. The parent
// directory record is updated before the backing object is deleted, so a
// crash between the two leaves an unreferenced object behind, never a
// dangling reference.
func (s *Session) Remove(ctx context.Context, path string) error {
	if err := s.checkUnlocked(); err != nil {
		return err
	}
	parentDirID, segment, err := s.paths.ResolveParent(ctx, path)
	if err != nil {
		return err
	}

	lock := s.acquireLock(parentDirID)
	defer s.releaseLock(parentDirID, lock)

	rec, _, err := s.dirs.Read(ctx, parentDirID)
	if err != nil {
		return err
	}
	entry, exists := rec.Find(segment)
	if !exists {
		return fmt.Errorf("%w: %q", vaulterr.ErrNotFound, path)
	}

	if entry.Kind == dirstore.KindDir {
		childRec, _, err := s.dirs.Read(ctx, entry.ChildRef)
		if err != nil {
			return err
		}
		if len(childRec.Entries) > 0 {
			return fmt.Errorf("%w: directory %q is not empty", vaulterr.ErrInvalidInput, path)
		}
	}

	err = s.dirs.Mutate(ctx, parentDirID, func(r dirstore.Record) (dirstore.Record, error) {
		out := r.Entries[:0]
		for _, e := range r.Entries {
			if e.Name != segment {
				out = append(out, e)
			}
		}
		r.Entries = out
		return r, nil
	})
	if err != nil {
		return err
	}

	if entry.Kind == dirstore.KindFile {
		return s.store.Delete(ctx, contentKey(entry.ChildRef), nil)
	}
	return s.store.Delete(ctx, dirstore.ObjectKey(entry.ChildRef), nil)
}

// Rename moves src to dst. When src and dst share a parent directory, the
// move is a single CAS update to that parent's record. Otherwise dst's
// parent is updated first (add entry), then src's parent (remove entry);
// a crash between the two leaves the entry linked from both parents. The
// repair pass keeps one of the two links, chosen by segment name (see
// vault.Repair); it does not identify which parent is dst, so the kept
// link may be src's.
func (s *Session) Rename(ctx context.Context, src, dst string) error {
	if err := s.checkUnlocked(); err != nil {
		return err
	}
	srcParent, srcSeg, err := s.paths.ResolveParent(ctx, src)
	if err != nil {
		return err
	}
	dstParent, dstSeg, err := s.paths.ResolveParent(ctx, dst)
	if err != nil {
		return err
	}

	if srcParent == dstParent {
		lock := s.acquireLock(srcParent)
		defer s.releaseLock(srcParent, lock)
		return s.dirs.Mutate(ctx, srcParent, func(r dirstore.Record) (dirstore.Record, error) {
			entry, ok := r.Find(srcSeg)
			if !ok {
				return dirstore.Record{}, fmt.Errorf("%w: %q", vaulterr.ErrNotFound, src)
			}
			if _, exists := r.Find(dstSeg); exists {
				return dirstore.Record{}, fmt.Errorf("%w: %q already exists", vaulterr.ErrAlreadyExists, dst)
			}
			out := make([]dirstore.Entry, 0, len(r.Entries))
			for _, e := range r.Entries {
				if e.Name == srcSeg {
					continue
				}
				out = append(out, e)
			}
			entry.Name = dstSeg
			out = append(out, entry)
			r.Entries = out
			return r, nil
		})
	}

	// Different parents: lock both, in a fixed order (lexicographic on the
	// lock key) so two concurrent renames can never deadlock on each other.
	first, second := srcParent, dstParent
	if lockKey(dstParent) < lockKey(srcParent) {
		first, second = dstParent, srcParent
	}
	l1 := s.acquireLock(first)
	defer s.releaseLock(first, l1)
	l2 := s.acquireLock(second)
	defer s.releaseLock(second, l2)

	srcRec, _, err := s.dirs.Read(ctx, srcParent)
	if err != nil {
		return err
	}
	entry, ok := srcRec.Find(srcSeg)
	if !ok {
		return fmt.Errorf("%w: %q", vaulterr.ErrNotFound, src)
	}

	err = s.dirs.Mutate(ctx, dstParent, func(r dirstore.Record) (dirstore.Record, error) {
		if _, exists := r.Find(dstSeg); exists {
			return dirstore.Record{}, fmt.Errorf("%w: %q already exists", vaulterr.ErrAlreadyExists, dst)
		}
		moved := entry
		moved.Name = dstSeg
		r.Entries = append(r.Entries, moved)
		return r, nil
	})
	if err != nil {
		return err
	}

	return s.dirs.Mutate(ctx, srcParent, func(r dirstore.Record) (dirstore.Record, error) {
		out := r.Entries[:0]
		for _, e := range r.Entries {
			if e.Name != srcSeg {
				out = append(out, e)
			}
		}
		r.Entries = out
		return r, nil
	})
}

// ChangePassword re-derives the master key under newPassword, re-wraps the
// existing subkeys, and returns the rotated keyring with its sealed inner
// blob; the caller builds the new config record from them and persists it
// via CAS on the config key. On any failure the session's existing keyring —
// and therefore the old password — remains valid; this function never
// mutates s.kr itself.
func (s *Session) ChangePassword(_ context.Context, newPassword []byte, newSalt []byte, params crypto.Argon2Params, formatVersion uint16, vaultID [16]byte) (*keyring.Keyring, []byte, error) {
	if err := s.checkUnlocked(); err != nil {
		return nil, nil, err
	}
	newKr, err := s.kr.Rotate(newPassword, newSalt, params)
	if err != nil {
		return nil, nil, err
	}
	sealed, err := newKr.WrapSubkeys(formatVersion, vaultID)
	if err != nil {
		newKr.Zero()
		return nil, nil, err
	}
	return newKr, sealed, nil
}

// Lock transitions the session to Locking, forcibly closes every open
// handle (write-mode handles are aborted, surfacing vaulterr.ErrCancelled
// to anyone still holding them), zeroes the keyring, and transitions to
// Locked. Only Unlocked accepts data operations; Lock is idempotent.
func (s *Session) Lock() {
	s.mu.Lock()
	if s.state == Locked {
		s.mu.Unlock()
		return
	}
	s.state = Locking
	handles := s.handles
	s.handles = make(map[uint64]*handle)
	s.mu.Unlock()

	for _, hh := range handles {
		hh.closed = true
		if hh.mode == ModeWrite {
			s.releaseHeldLock(hh.contentID)
		}
	}

	s.kr.Zero()

	s.mu.Lock()
	s.state = Locked
	s.mu.Unlock()
}

// State reports the session's current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}
