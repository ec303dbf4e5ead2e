package domain

import "sort"

// RecordSet is a set of URL records keyed by URL string.
type RecordSet struct {
	records map[string]*URLRecord
}

func NewRecordSet(records ...*URLRecord) *RecordSet {
	s := &RecordSet{records: make(map[string]*URLRecord, len(records))}
	for _, r := range records {
		s.Add(r)
	}
	return s
}

// Add inserts r and reports whether its key was new. When the key is already
// present the stored record is kept and any result it lacks is taken from r,
// so a differently-populated duplicate never loses a collaborator's output.
func (s *RecordSet) Add(r *URLRecord) bool {
	if r == nil {
		return false
	}
	if existing, ok := s.records[r.Key()]; ok {
		existing.mergeFrom(r)
		return false
	}
	s.records[r.Key()] = r
	return true
}

func (s *RecordSet) Remove(r *URLRecord) {
	if r == nil {
		return
	}
	delete(s.records, r.Key())
}

func (s *RecordSet) Contains(r *URLRecord) bool {
	if r == nil {
		return false
	}
	_, ok := s.records[r.Key()]
	return ok
}

func (s *RecordSet) Get(key string) (*URLRecord, bool) {
	r, ok := s.records[key]
	return r, ok
}

func (s *RecordSet) Len() int { return len(s.records) }

// Records returns the members ordered by URL string.
func (s *RecordSet) Records() []*URLRecord {
	out := make([]*URLRecord, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}

// Take returns up to n members in key order without removing them.
func (s *RecordSet) Take(n int) []*URLRecord {
	all := s.Records()
	if n < len(all) {
		all = all[:n]
	}
	return all
}
