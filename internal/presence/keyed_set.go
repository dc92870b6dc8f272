package presence

import (
	"sort"
	"sync"
)

// keyedSet maps a key to a set of members. Each key has its own lock;
// there is no lock shared across keys.
//
// An entry is deleted from the map as soon as its set becomes empty and is
// marked removed while its lock is held. A writer that loaded a removed
// entry retries against a fresh one, so no member is ever added to an
// entry that is no longer reachable.
type keyedSet struct {
	m sync.Map // key -> *setEntry
}

type setEntry struct {
	mu      sync.Mutex
	members map[string]struct{}
	removed bool
}

// add inserts member under key. added is false when member was already
// present; first reports whether the key's set went from empty to non-empty.
func (s *keyedSet) add(key, member string) (added, first bool) {
	for {
		v, _ := s.m.LoadOrStore(key, &setEntry{members: map[string]struct{}{}})
		e := v.(*setEntry)

		e.mu.Lock()
		if e.removed {
			e.mu.Unlock()
			continue
		}
		if _, dup := e.members[member]; dup {
			e.mu.Unlock()
			return false, false
		}
		first = len(e.members) == 0
		e.members[member] = struct{}{}
		e.mu.Unlock()
		return true, first
	}
}

// remove deletes member from key's set. removed is false for unknown keys
// or members; emptied reports whether the set became empty, in which case
// the key is gone.
func (s *keyedSet) remove(key, member string) (removed, emptied bool) {
	v, ok := s.m.Load(key)
	if !ok {
		return false, false
	}
	e := v.(*setEntry)

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		return false, false
	}
	if _, ok := e.members[member]; !ok {
		return false, false
	}
	delete(e.members, member)
	if len(e.members) > 0 {
		return true, false
	}
	e.removed = true
	s.m.CompareAndDelete(key, e)
	return true, true
}

// members returns a sorted snapshot of key's set.
func (s *keyedSet) members(key string) []string {
	v, ok := s.m.Load(key)
	if !ok {
		return nil
	}
	e := v.(*setEntry)

	e.mu.Lock()
	out := make([]string, 0, len(e.members))
	if !e.removed {
		for m := range e.members {
			out = append(out, m)
		}
	}
	e.mu.Unlock()
	sort.Strings(out)
	return out
}

func (s *keyedSet) has(key string) bool {
	v, ok := s.m.Load(key)
	if !ok {
		return false
	}
	e := v.(*setEntry)
	e.mu.Lock()
	defer e.mu.Unlock()
	return !e.removed && len(e.members) > 0
}

// keys returns a sorted snapshot of every key with a non-empty set.
func (s *keyedSet) keys() []string {
	var out []string
	s.m.Range(func(k, _ any) bool {
		if key := k.(string); s.has(key) {
			out = append(out, key)
		}
		return true
	})
	sort.Strings(out)
	return out
}
