package persona

// Store exposes persona retrieval for workers and HTTP handlers.
type Store interface {
	List() []Persona
	FindByID(id string) (Persona, bool)
	FindByRole(role string) (Persona, bool)
}

// MemoryStore is an immutable Store built once from a persona list.
// Later entries with a duplicate ID replace earlier ones in lookups but keep the list order.
type MemoryStore struct {
	items  []Persona
	byID   map[string]int
	byRole map[string]int
}

// NewMemoryStore indexes the supplied personas by ID and by role.
// The first persona declared for a role is the one FindByRole returns.
func NewMemoryStore(items []Persona) *MemoryStore {
	s := &MemoryStore{
		items:  append([]Persona(nil), items...),
		byID:   make(map[string]int, len(items)),
		byRole: make(map[string]int),
	}
	for i, p := range s.items {
		s.byID[p.ID] = i
		if _, ok := s.byRole[p.Role]; !ok && p.Role != "" {
			s.byRole[p.Role] = i
		}
	}
	return s
}

// List returns a copy of the personas in declaration order.
func (s *MemoryStore) List() []Persona {
	return append([]Persona(nil), s.items...)
}

// FindByID looks up a persona by identifier.
func (s *MemoryStore) FindByID(id string) (Persona, bool) {
	return s.at(s.byID, id)
}

// FindByRole returns the persona that plays role, e.g. RoleHost for a podcast cast.
func (s *MemoryStore) FindByRole(role string) (Persona, bool) {
	return s.at(s.byRole, role)
}

func (s *MemoryStore) at(index map[string]int, key string) (Persona, bool) {
	i, ok := index[key]
	if !ok {
		return Persona{}, false
	}
	return s.items[i], true
}
