package state

// seenSet is a bounded first-in-first-out set of transaction hashes. Once
// the capacity is reached, recording a new hash evicts the oldest one, so a
// long-running process cannot grow the dedup set without bound.
type seenSet struct {
	capacity int
	members  map[string]struct{}
	order    []string
	head     int
}

func newSeenSet(capacity int) *seenSet {
	if capacity <= 0 {
		capacity = 512
	}
	return &seenSet{
		capacity: capacity,
		members:  make(map[string]struct{}, capacity),
		order:    make([]string, 0, capacity),
	}
}

// add records the hash and reports whether it was new.
func (s *seenSet) add(hash string) bool {
	if _, ok := s.members[hash]; ok {
		return false
	}
	if len(s.members) >= s.capacity {
		oldest := s.order[s.head]
		delete(s.members, oldest)
		s.order[s.head] = hash
		s.head = (s.head + 1) % s.capacity
	} else {
		s.order = append(s.order, hash)
	}
	s.members[hash] = struct{}{}
	return true
}

func (s *seenSet) len() int { return len(s.members) }
