// Package providertest provides an in-memory provider.Provider for tests.
//
// Folders are held in a map keyed by id; listings are ordered by insertion.
// Every operation is counted, and faults can be queued per operation to
// exercise retry and error paths.
package providertest

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/3leaps/qbucket/pkg/provider"
)

// RootID is the id of the implicit root folder.
const RootID = "root"

// Operation names used by Calls and FailNext.
const (
	OpList   = "list"
	OpCreate = "create"
	OpMove   = "move"
)

type entry struct {
	folder provider.Folder
	seq    int
}

// Memory is an in-memory provider.
type Memory struct {
	mu      sync.Mutex
	folders map[string]*entry
	nextSeq int
	calls   map[string]int
	faults  map[string][]error
	moves   []provider.MoveOptions
}

var _ provider.Provider = (*Memory)(nil)

// New creates an empty provider.
func New() *Memory {
	return &Memory{
		folders: make(map[string]*entry),
		calls:   make(map[string]int),
		faults:  make(map[string][]error),
	}
}

// Add inserts a folder with the given parents and returns its id. Parents
// need not exist yet.
func (m *Memory) Add(name string, parents ...string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.addLocked(name, parents...)
}

// NextID returns the id the next Add or CreateFolder will assign.
func (m *Memory) NextID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return idFor(m.nextSeq + 1)
}

// SetParents replaces a folder's parents.
func (m *Memory) SetParents(id string, parents ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.folders[id]; ok {
		e.folder.Parents = append([]string(nil), parents...)
	}
}

// Folder returns a copy of the folder with the given id.
func (m *Memory) Folder(id string) (provider.Folder, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.folders[id]
	if !ok {
		return provider.Folder{}, false
	}
	return copyFolder(e.folder), true
}

// Names returns the names of parentID's children in listing order.
func (m *Memory) Names(parentID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var names []string
	for _, e := range m.childrenLocked(parentID, "") {
		names = append(names, e.folder.Name)
	}
	return names
}

// FailNext queues err as the result of the next call to op. Queued faults
// are consumed in order.
func (m *Memory) FailNext(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.faults[op] = append(m.faults[op], err)
}

// FailStatus queues a ProviderError carrying status for the next call to op.
func (m *Memory) FailStatus(op string, status int) {
	m.FailNext(op, &provider.ProviderError{
		Op:         op,
		Provider:   "memory",
		StatusCode: status,
		Err:        provider.SentinelForStatus(status),
	})
}

// Calls returns how many times op was invoked, including failed calls.
func (m *Memory) Calls(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

// Mutations returns the number of create and move calls.
func (m *Memory) Mutations() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[OpCreate] + m.calls[OpMove]
}

// Moves returns the successful moves in the order they were applied.
func (m *Memory) Moves() []provider.MoveOptions {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]provider.MoveOptions(nil), m.moves...)
}

// ListFolders implements provider.Provider. Page tokens are offsets.
func (m *Memory) ListFolders(ctx context.Context, opts provider.ListOptions) (*provider.ListResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.beginLocked(OpList); err != nil {
		return nil, err
	}
	if opts.ParentID != RootID {
		if _, ok := m.folders[opts.ParentID]; !ok {
			return nil, m.notFound("ListFolders", opts.ParentID, "")
		}
	}

	children := m.childrenLocked(opts.ParentID, opts.Name)
	start := 0
	if opts.PageToken != "" {
		n, err := strconv.Atoi(opts.PageToken)
		if err != nil || n < 0 || n > len(children) {
			return nil, &provider.ProviderError{Op: "ListFolders", Provider: "memory", StatusCode: 400, Err: provider.ErrInvalidRequest}
		}
		start = n
	}
	size := opts.PageSize
	if size <= 0 {
		size = 100
	}
	end := min(start+size, len(children))

	res := &provider.ListResult{Folders: make([]provider.Folder, 0, end-start)}
	for _, e := range children[start:end] {
		res.Folders = append(res.Folders, copyFolder(e.folder))
	}
	if end < len(children) {
		res.NextPageToken = strconv.Itoa(end)
	}
	return res, nil
}

// CreateFolder implements provider.Provider.
func (m *Memory) CreateFolder(ctx context.Context, opts provider.CreateOptions) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.beginLocked(OpCreate); err != nil {
		return "", err
	}
	if opts.ParentID != RootID {
		if _, ok := m.folders[opts.ParentID]; !ok {
			return "", m.notFound("CreateFolder", opts.ParentID, "")
		}
	}
	return m.addLocked(opts.Name, opts.ParentID), nil
}

// MoveFolder implements provider.Provider.
func (m *Memory) MoveFolder(ctx context.Context, opts provider.MoveOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.beginLocked(OpMove); err != nil {
		return err
	}
	e, ok := m.folders[opts.FileID]
	if !ok {
		return m.notFound("MoveFolder", "", opts.FileID)
	}
	if opts.AddParentID != RootID {
		if _, ok := m.folders[opts.AddParentID]; !ok {
			return m.notFound("MoveFolder", opts.AddParentID, opts.FileID)
		}
	}

	parents := []string{opts.AddParentID}
	for _, p := range e.folder.Parents {
		if p != opts.RemoveParentID && p != opts.AddParentID {
			parents = append(parents, p)
		}
	}
	e.folder.Parents = parents
	m.moves = append(m.moves, opts)
	return nil
}

// Close implements provider.Provider.
func (m *Memory) Close() error { return nil }

func (m *Memory) beginLocked(op string) error {
	m.calls[op]++
	if q := m.faults[op]; len(q) > 0 {
		m.faults[op] = q[1:]
		return q[0]
	}
	return nil
}

func (m *Memory) addLocked(name string, parents ...string) string {
	m.nextSeq++
	id := idFor(m.nextSeq)
	m.folders[id] = &entry{
		folder: provider.Folder{ID: id, Name: name, Parents: append([]string(nil), parents...)},
		seq:    m.nextSeq,
	}
	return id
}

func (m *Memory) childrenLocked(parentID, name string) []*entry {
	var out []*entry
	for _, e := range m.folders {
		if !e.folder.HasParent(parentID) {
			continue
		}
		if name != "" && e.folder.Name != name {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

func (m *Memory) notFound(op, parentID, fileID string) error {
	return &provider.ProviderError{
		Op:         op,
		Provider:   "memory",
		ParentID:   parentID,
		FileID:     fileID,
		StatusCode: 404,
		Err:        provider.ErrNotFound,
	}
}

func idFor(seq int) string {
	return fmt.Sprintf("mem%04d", seq)
}

func copyFolder(f provider.Folder) provider.Folder {
	f.Parents = append([]string(nil), f.Parents...)
	return f
}
