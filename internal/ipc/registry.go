// Package ipc implements the control-plane transport (C6): a bounded
// registry of named endpoints backed by a shared memory-mapped region, and
// the datagram message framing used to exchange requests and replies over
// them (spec §4.6).
package ipc

import (
	"fmt"
	"sync"

	"github.com/gofrs/flock"
	"golang.org/x/sys/unix"
)

// DefaultCapacity is the default bound on registered endpoints (spec §4.6:
// "32 entries default").
const DefaultCapacity = 32

// entryFlags mark an endpoint's registration state within a slot.
type entryFlags uint32

const (
	flagFree entryFlags = iota
	flagAllocated
	flagOwned
)

// entry is one slot of the shared registry: enough to reconstruct and
// address a peer's endpoint without holding a live Go value for it, since
// the region backing these slots is shared across process boundaries.
type entry struct {
	flags      entryFlags
	socketPath [108]byte // unix socket path, like sockaddr_un's sun_path
	ownerID    int32
	ownerPid   int32
}

// SharedRegistry is the process-shared table of IPC endpoints (spec §4.6):
// a bounded slot array mapped from a backing file so every process
// attaching to the same path observes the same registrations, guarded by
// an flock-based process-shared mutex plus an in-process mutex for the
// owning process's own goroutines.
type SharedRegistry struct {
	mu       sync.Mutex
	flock    *flock.Flock
	region   []byte
	slots    []entry
	capacity int
	path     string
}

// OpenSharedRegistry maps (creating if necessary) the registry backing
// file at path, sized for capacity entries (0 uses DefaultCapacity).
func OpenSharedRegistry(path string, capacity int) (*SharedRegistry, error) {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	entrySize := int(unsafeSizeofEntry())
	size := entrySize * capacity

	f, err := unix.Open(path, unix.O_RDWR|unix.O_CREAT, 0600)
	if err != nil {
		return nil, fmt.Errorf("open registry backing file %s: %w", path, err)
	}
	defer unix.Close(f)

	if err := unix.Ftruncate(f, int64(size)); err != nil {
		return nil, fmt.Errorf("size registry backing file %s: %w", path, err)
	}

	region, err := unix.Mmap(f, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap registry %s: %w", path, err)
	}

	r := &SharedRegistry{
		flock:    flock.New(path + ".lock"),
		region:   region,
		capacity: capacity,
		path:     path,
	}
	r.slots = make([]entry, capacity)
	return r, nil
}

// unsafeSizeofEntry returns the on-disk size of one entry slot. Kept as a
// function rather than unsafe.Sizeof at a call site for readability.
func unsafeSizeofEntry() uintptr {
	var e entry
	return uintptr(len(e.socketPath)) + 4 + 4 + 4
}

// withLock runs fn while holding both the cross-process flock and the
// in-process mutex, matching the original's nested process-shared-mutex +
// per-process-mutex discipline (spec §4.6).
func (r *SharedRegistry) withLock(fn func() error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.flock.Lock(); err != nil {
		return fmt.Errorf("lock registry: %w", err)
	}
	defer r.flock.Unlock()

	return fn()
}

// Allocate reserves a free slot for socketPath and records the owning
// process, returning the slot index as the endpoint's handle.
func (r *SharedRegistry) Allocate(socketPath string, ownerID, ownerPid int) (int, error) {
	if len(socketPath) >= len(entry{}.socketPath) {
		return -1, fmt.Errorf("socket path %q exceeds registry slot width", socketPath)
	}

	var slot int = -1
	err := r.withLock(func() error {
		for i := range r.slots {
			if r.slots[i].flags == flagFree {
				slot = i
				return nil
			}
		}
		return fmt.Errorf("registry at %s has no free slots (capacity %d)", r.path, r.capacity)
	})
	if err != nil {
		return -1, err
	}

	e := &r.slots[slot]
	copy(e.socketPath[:], socketPath)
	e.flags = flagAllocated
	e.ownerID = int32(ownerID)
	e.ownerPid = int32(ownerPid)
	return slot, nil
}

// SetOwner marks slot as owned (spec §4.6 "setOwner": distinguishes a
// reserved-but-not-yet-claimed slot from one actively in use).
func (r *SharedRegistry) SetOwner(slot int, ownerID, ownerPid int) error {
	return r.withLock(func() error {
		if slot < 0 || slot >= len(r.slots) {
			return fmt.Errorf("slot %d out of range", slot)
		}
		r.slots[slot].flags = flagOwned
		r.slots[slot].ownerID = int32(ownerID)
		r.slots[slot].ownerPid = int32(ownerPid)
		return nil
	})
}

// SocketPathForSlot resolves slot to its registered socket path, used by a
// reply path to address a peer identified only by the srcSlot carried in
// an inbound Message (spec §6.2: the request header's "srcSlot" is how a
// reply finds its way back without the sender repeating its own address in
// the payload).
func (r *SharedRegistry) SocketPathForSlot(slot int) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if slot < 0 || slot >= len(r.slots) {
		return "", false
	}
	if r.slots[slot].flags == flagFree {
		return "", false
	}
	return cstring(r.slots[slot].socketPath[:]), true
}

// LookupByOwner finds the socket path registered for ownerID, if any.
func (r *SharedRegistry) LookupByOwner(ownerID int) (socketPath string, slot int, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, e := range r.slots {
		if e.flags != flagFree && int(e.ownerID) == ownerID {
			return cstring(e.socketPath[:]), i, true
		}
	}
	return "", -1, false
}

// CleanupProc frees every slot owned by pid, called when the process table
// reaps a child (spec §4.6 "cleanupProc").
func (r *SharedRegistry) CleanupProc(pid int) error {
	return r.withLock(func() error {
		for i := range r.slots {
			if int(r.slots[i].ownerPid) == pid {
				r.slots[i] = entry{}
			}
		}
		return nil
	})
}

// Close unmaps the registry region. It does not remove the backing file.
func (r *SharedRegistry) Close() error {
	return unix.Munmap(r.region)
}

func cstring(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}
