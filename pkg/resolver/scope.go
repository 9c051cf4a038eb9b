package resolver

// scope is a lexical chain of bound names used during pass 2 to decide
// whether an Ident refers to a local binding (no effect contribution)
// or a free/global reference (resolved against Result.Globals).
type scope struct {
	parent *scope
	names  map[string]bool
}

func newScope(parent *scope) *scope {
	return &scope{parent: parent, names: map[string]bool{}}
}

func (s *scope) bind(name string) {
	s.names[name] = true
}

func (s *scope) has(name string) bool {
	for cur := s; cur != nil; cur = cur.parent {
		if cur.names[name] {
			return true
		}
	}
	return false
}

func (s *scope) child() *scope {
	return newScope(s)
}
