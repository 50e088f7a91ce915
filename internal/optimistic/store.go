// Package optimistic holds client-side board state with optimistic creates.
//
// Entities live in an arena keyed by id. Children are indexed per parent in
// display order. A created entity gets a temporary id and stays Pending until
// the server answers: Confirm rewrites every reference to the real id in one
// locked step and records an alias, Fail purges the entity and its subtree.
package optimistic

import (
	"fmt"
	"sort"
	"sync"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/kanban-keeper/internal/model"
	"github.com/and161185/kanban-keeper/internal/ordering"
)

// Kind is the entity type.
type Kind string

const (
	KindColumn Kind = "column"
	KindCard   Kind = "card"
)

// State is the reconciliation state of an entity.
type State uint8

const (
	// Persisted entities were loaded from the server and never had a temp id.
	Persisted State = iota
	Pending
	Confirmed
	Failed
)

func (s State) String() string {
	switch s {
	case Persisted:
		return "persisted"
	case Pending:
		return "pending"
	case Confirmed:
		return "confirmed"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// Entity is a column or card as seen by the client.
type Entity struct {
	ID       string
	Kind     Kind
	ParentID string
	Title    string
	Order    int64
	State    State
}

// NewTempID returns a fresh temporary id for kind.
func NewTempID(kind Kind) string {
	return model.TempPrefix + string(kind) + "_" + uuid.Must(uuid.NewV4()).String()
}

// IsTemp reports whether id is a temporary id.
func IsTemp(id string) bool { return model.IsTempID(id) }

// Store is the entity arena. It is safe for concurrent use; reconciliation is
// expected to run on the owner's event loop.
type Store struct {
	mu       sync.RWMutex
	entities map[string]*Entity
	children map[string][]string
	alias    map[string]string
	failed   map[string]struct{}
}

// New returns an empty store.
func New() *Store {
	return &Store{
		entities: map[string]*Entity{},
		children: map[string][]string{},
		alias:    map[string]string{},
		failed:   map[string]struct{}{},
	}
}

// Put inserts or replaces a persisted entity.
func (s *Store) Put(e Entity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.entities[e.ID]; ok {
		s.unlink(old)
	}
	cp := e
	s.entities[e.ID] = &cp
	s.link(&cp)
}

// BeginCreate appends a Pending entity under parent and returns its temp id.
func (s *Store) BeginCreate(kind Kind, parentID, title string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	parentID = s.resolve(parentID)
	sibs, _ := s.siblings(parentID)
	e := &Entity{
		ID:       NewTempID(kind),
		Kind:     kind,
		ParentID: parentID,
		Title:    title,
		Order:    ordering.Place(sibs, len(sibs)).Order,
		State:    Pending,
	}
	s.entities[e.ID] = e
	s.link(e)
	return e.ID
}

// Confirm replaces temp with real everywhere: the arena key, the parent's
// child list and the entity's own child index. order is the server-assigned
// order.
func (s *Store) Confirm(temp, real string, order int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entities[temp]
	if !ok || e.State != Pending {
		return fmt.Errorf("confirm %s: not pending", temp)
	}

	s.unlink(e)
	delete(s.entities, temp)
	e.ID, e.Order, e.State = real, order, Confirmed
	s.entities[real] = e
	s.link(e)

	if kids, ok := s.children[temp]; ok {
		delete(s.children, temp)
		s.children[real] = kids
		for _, id := range kids {
			s.entities[id].ParentID = real
		}
	}
	s.alias[temp] = real
	return nil
}

// Fail removes a pending entity and everything beneath it.
func (s *Store) Fail(temp string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entities[temp]
	if !ok {
		return
	}
	s.unlink(e)
	s.purge(temp)
}

// Remove deletes an entity and its subtree.
func (s *Store) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	id = s.resolve(id)
	e, ok := s.entities[id]
	if !ok {
		return false
	}
	s.unlink(e)
	delete(s.failed, id)
	s.purgeSubtree(id)
	return true
}

func (s *Store) purge(id string) {
	for _, kid := range s.children[id] {
		s.purge(kid)
	}
	delete(s.children, id)
	delete(s.entities, id)
	s.failed[id] = struct{}{}
}

func (s *Store) purgeSubtree(id string) {
	for _, kid := range s.children[id] {
		s.purgeSubtree(kid)
	}
	delete(s.children, id)
	delete(s.entities, id)
}

// Resolve maps id through the alias table and reports its state. ok is false for
// ids the store has never seen.
func (s *Store) Resolve(id string) (real string, st State, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, gone := s.failed[id]; gone {
		return "", Failed, true
	}
	id = s.resolve(id)
	e, found := s.entities[id]
	if !found {
		return "", 0, false
	}
	return e.ID, e.State, true
}

// Get returns a copy of the entity addressed by id or its alias.
func (s *Store) Get(id string) (Entity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entities[s.resolve(id)]
	if !ok {
		return Entity{}, false
	}
	return *e, true
}

// Children returns copies of parent's children in display order.
func (s *Store) Children(parentID string) []Entity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.children[s.resolve(parentID)]
	out := make([]Entity, 0, len(ids))
	for _, id := range ids {
		out = append(out, *s.entities[id])
	}
	return out
}

// Patch applies fn to the entity. Identity and placement fields are restored
// after fn; use Move to relocate.
func (s *Store) Patch(id string, fn func(*Entity)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entities[s.resolve(id)]
	if !ok {
		return false
	}
	keep := *e
	fn(e)
	e.ID, e.Kind, e.ParentID, e.Order, e.State = keep.ID, keep.Kind, keep.ParentID, keep.Order, keep.State
	return true
}

// Move places the entity at index among parent's other children, renumbering
// siblings when needed. It returns the entity's previous parent and index.
func (s *Store) Move(id, parentID string, index int) (prevParent string, prevIndex int, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, found := s.entities[s.resolve(id)]
	if !found {
		return "", 0, false
	}
	parentID = s.resolve(parentID)
	prevParent, prevIndex = e.ParentID, s.indexOf(e.ParentID, e.ID)

	s.unlink(e)
	others, ids := s.siblings(parentID)
	p := ordering.Place(others, ordering.Clamp(index, len(others)))
	for _, r := range p.Renumbered {
		s.entities[ids[r.ID]].Order = r.Order
	}
	e.ParentID, e.Order = parentID, p.Order
	s.link(e)
	return prevParent, prevIndex, true
}

// Snapshot is a point-in-time copy of the store.
type Snapshot struct {
	entities map[string]Entity
	children map[string][]string
	alias    map[string]string
	failed   map[string]struct{}
}

// Snapshot copies the whole store.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := Snapshot{
		entities: make(map[string]Entity, len(s.entities)),
		children: make(map[string][]string, len(s.children)),
		alias:    make(map[string]string, len(s.alias)),
		failed:   make(map[string]struct{}, len(s.failed)),
	}
	for k, v := range s.entities {
		snap.entities[k] = *v
	}
	for k, v := range s.children {
		snap.children[k] = append([]string(nil), v...)
	}
	for k, v := range s.alias {
		snap.alias[k] = v
	}
	for k := range s.failed {
		snap.failed[k] = struct{}{}
	}
	return snap
}

// Restore replaces the store content with snap.
func (s *Store) Restore(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entities = make(map[string]*Entity, len(snap.entities))
	for k, v := range snap.entities {
		cp := v
		s.entities[k] = &cp
	}
	s.children = make(map[string][]string, len(snap.children))
	for k, v := range snap.children {
		s.children[k] = append([]string(nil), v...)
	}
	s.alias = make(map[string]string, len(snap.alias))
	for k, v := range snap.alias {
		s.alias[k] = v
	}
	s.failed = make(map[string]struct{}, len(snap.failed))
	for k := range snap.failed {
		s.failed[k] = struct{}{}
	}
}

func (s *Store) resolve(id string) string {
	if real, ok := s.alias[id]; ok {
		return real
	}
	return id
}

// link inserts e into its parent's child list keeping (order, id) ordering.
func (s *Store) link(e *Entity) {
	kids := append(s.children[e.ParentID], e.ID)
	sort.SliceStable(kids, func(i, j int) bool {
		a, b := s.entities[kids[i]], s.entities[kids[j]]
		if a.Order != b.Order {
			return a.Order < b.Order
		}
		return a.ID < b.ID
	})
	s.children[e.ParentID] = kids
}

func (s *Store) unlink(e *Entity) {
	kids := s.children[e.ParentID]
	for i, id := range kids {
		if id == e.ID {
			s.children[e.ParentID] = append(kids[:i:i], kids[i+1:]...)
			break
		}
	}
	if len(s.children[e.ParentID]) == 0 {
		delete(s.children, e.ParentID)
	}
}

func (s *Store) indexOf(parentID, id string) int {
	for i, kid := range s.children[parentID] {
		if kid == id {
			return i
		}
	}
	return -1
}

// siblings converts a child list to ordering siblings and returns the key
// back to the entity id.
func (s *Store) siblings(parentID string) ([]ordering.Sibling, map[uuid.UUID]string) {
	kids := s.children[parentID]
	out := make([]ordering.Sibling, len(kids))
	ids := make(map[uuid.UUID]string, len(kids))
	for i, id := range kids {
		key := siblingKey(id)
		out[i] = ordering.Sibling{ID: key, Order: s.entities[id].Order}
		ids[key] = id
	}
	return out, ids
}

// siblingKey maps an entity id to a UUID. Temp ids have no UUID form and get a
// deterministic name-based one.
func siblingKey(id string) uuid.UUID {
	if u, err := uuid.FromString(id); err == nil {
		return u
	}
	return uuid.NewV5(uuid.NamespaceURL, id)
}
