// Package drivetest provides an in-process fake of the Drive v3 files API.
//
// The fake serves the subset of endpoints the gdrive provider uses:
//
//	GET   /files            (files.list with q, pageSize, pageToken)
//	POST  /files            (files.create, metadata only)
//	PATCH /files/{fileId}   (files.update with addParents/removeParents)
//
// Usage:
//
//	func TestSomething(t *testing.T) {
//	    srv := drivetest.New(t)
//	    src := srv.AddFolder("src", drivetest.RootID)
//	    p, _ := gdrive.New(ctx, gdrive.Config{HTTPClient: srv.Client(), Endpoint: srv.Endpoint()})
//	    // ... test code ...
//	}
package drivetest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
)

// RootID is the id of the implicit root folder.
const RootID = "root"

// Operation names used by Calls, LastQuery and FailNext.
const (
	OpList   = "list"
	OpCreate = "create"
	OpUpdate = "update"
)

// Folder is a folder held by the fake.
type Folder struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Parents []string `json:"parents,omitempty"`
	Trashed bool     `json:"-"`
	seq     int
}

type fault struct {
	status int
	reason string
}

// Server is a fake Drive files API backed by an in-memory folder table.
type Server struct {
	*httptest.Server

	mu      sync.Mutex
	folders map[string]*Folder
	nextSeq int
	calls   map[string]int
	queries map[string]url.Values
	faults  map[string][]fault
}

// New starts a fake server and registers its shutdown with t.Cleanup.
func New(t testing.TB) *Server {
	t.Helper()

	s := &Server{
		folders: make(map[string]*Folder),
		calls:   make(map[string]int),
		queries: make(map[string]url.Values),
		faults:  make(map[string][]fault),
	}

	r := chi.NewRouter()
	r.Get("/files", s.handleList)
	r.Post("/files", s.handleCreate)
	r.Patch("/files/{fileId}", s.handleUpdate)

	s.Server = httptest.NewServer(r)
	t.Cleanup(s.Close)
	return s
}

// Endpoint returns the base URL to pass as the Drive API endpoint.
func (s *Server) Endpoint() string {
	return s.URL + "/"
}

// AddFolder inserts a folder and returns its id.
func (s *Server) AddFolder(name string, parents ...string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addLocked(name, parents)
}

// Trash marks a folder as trashed.
func (s *Server) Trash(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f, ok := s.folders[id]; ok {
		f.Trashed = true
	}
}

// Folder returns a copy of the folder with the given id.
func (s *Server) Folder(id string) (Folder, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.folders[id]
	if !ok {
		return Folder{}, false
	}
	return copyFolder(f), true
}

// Children returns the non-trashed children of parentID in creation order.
func (s *Server) Children(parentID string) []Folder {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Folder
	for _, f := range s.sortedLocked() {
		if !f.Trashed && hasParent(f, parentID) {
			out = append(out, copyFolder(f))
		}
	}
	return out
}

// FailNext queues an error response for the next request of op.
// Queued faults are consumed in order.
func (s *Server) FailNext(op string, status int, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[op] = append(s.faults[op], fault{status: status, reason: reason})
}

// Calls returns the number of requests received for op.
func (s *Server) Calls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

// LastQuery returns the query parameters of the most recent request for op.
func (s *Server) LastQuery(op string) url.Values {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queries[op]
}

func (s *Server) addLocked(name string, parents []string) string {
	s.nextSeq++
	id := fmt.Sprintf("fld%04d", s.nextSeq)
	s.folders[id] = &Folder{ID: id, Name: name, Parents: append([]string(nil), parents...), seq: s.nextSeq}
	return id
}

func (s *Server) sortedLocked() []*Folder {
	all := make([]*Folder, 0, len(s.folders))
	for _, f := range s.folders {
		all = append(all, f)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].seq < all[j].seq })
	return all
}

// begin records the call and returns a queued fault, if any.
func (s *Server) begin(op string, r *http.Request) *fault {
	s.calls[op]++
	s.queries[op] = r.URL.Query()
	queue := s.faults[op]
	if len(queue) == 0 {
		return nil
	}
	f := queue[0]
	s.faults[op] = queue[1:]
	return &f
}

var (
	parentClause = regexp.MustCompile(`'((?:[^'\\]|\\.)*)' in parents`)
	nameClause   = regexp.MustCompile(`name = '((?:[^'\\]|\\.)*)'`)
	unescaper    = strings.NewReplacer(`\'`, `'`, `\\`, `\`)
)

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if f := s.begin(OpList, r); f != nil {
		writeError(w, f.status, f.reason)
		return
	}

	q := r.URL.Query().Get("q")
	pm := parentClause.FindStringSubmatch(q)
	if pm == nil {
		writeError(w, http.StatusBadRequest, "invalidQuery")
		return
	}
	parentID := unescaper.Replace(pm[1])
	var name *string
	if nm := nameClause.FindStringSubmatch(q); nm != nil {
		n := unescaper.Replace(nm[1])
		name = &n
	}
	excludeTrashed := strings.Contains(q, "trashed = false")

	var matched []*Folder
	for _, f := range s.sortedLocked() {
		if !hasParent(f, parentID) {
			continue
		}
		if excludeTrashed && f.Trashed {
			continue
		}
		if name != nil && f.Name != *name {
			continue
		}
		matched = append(matched, f)
	}

	pageSize := 100
	if v, err := strconv.Atoi(r.URL.Query().Get("pageSize")); err == nil && v > 0 {
		pageSize = v
	}
	start := 0
	if tok := r.URL.Query().Get("pageToken"); tok != "" {
		v, err := strconv.Atoi(tok)
		if err != nil || v < 0 || v > len(matched) {
			writeError(w, http.StatusBadRequest, "invalidPageToken")
			return
		}
		start = v
	}
	end := start + pageSize
	if end > len(matched) {
		end = len(matched)
	}

	resp := struct {
		NextPageToken string   `json:"nextPageToken,omitempty"`
		Files         []Folder `json:"files"`
	}{Files: make([]Folder, 0, end-start)}
	for _, f := range matched[start:end] {
		resp.Files = append(resp.Files, copyFolder(f))
	}
	if end < len(matched) {
		resp.NextPageToken = strconv.Itoa(end)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if f := s.begin(OpCreate, r); f != nil {
		writeError(w, f.status, f.reason)
		return
	}

	var body struct {
		Name     string   `json:"name"`
		MimeType string   `json:"mimeType"`
		Parents  []string `json:"parents"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "parseError")
		return
	}
	if body.Name == "" || len(body.Parents) == 0 {
		writeError(w, http.StatusBadRequest, "required")
		return
	}

	id := s.addLocked(body.Name, body.Parents)
	writeJSON(w, http.StatusOK, map[string]string{"id": id})
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if f := s.begin(OpUpdate, r); f != nil {
		writeError(w, f.status, f.reason)
		return
	}

	f, ok := s.folders[chi.URLParam(r, "fileId")]
	if !ok {
		writeError(w, http.StatusNotFound, "notFound")
		return
	}

	q := r.URL.Query()
	remove := splitIDs(q.Get("removeParents"))
	kept := f.Parents[:0]
	for _, p := range f.Parents {
		if !contains(remove, p) {
			kept = append(kept, p)
		}
	}
	for _, p := range splitIDs(q.Get("addParents")) {
		if !contains(kept, p) {
			kept = append(kept, p)
		}
	}
	f.Parents = kept

	writeJSON(w, http.StatusOK, copyFolder(f))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, reason string) {
	msg := http.StatusText(status)
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"code":    status,
			"message": msg,
			"errors": []map[string]string{
				{"domain": "global", "reason": reason, "message": msg},
			},
		},
	})
}

func splitIDs(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func hasParent(f *Folder, id string) bool {
	return contains(f.Parents, id)
}

func copyFolder(f *Folder) Folder {
	c := *f
	c.Parents = append([]string(nil), f.Parents...)
	return c
}
