package complete

import "sync"

// Tracker hands out per-document generations. A document's generation
// advances on every edit and on every new completion request, so only the
// most recent request for a document may present its result.
type Tracker struct {
	mu   sync.Mutex
	gens map[string]uint64
	// next is shared by all documents and never reset, so a generation is
	// never handed out twice, even after Forget.
	next uint64
}

// NewTracker returns an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{gens: make(map[string]uint64)}
}

// Ticket identifies one request against a document generation.
type Ticket struct {
	t   *Tracker
	doc string
	gen uint64
}

// Begin starts a request for doc, superseding any earlier one.
func (t *Tracker) Begin(doc string) Ticket {
	return Ticket{t: t, doc: doc, gen: t.advance(doc)}
}

// Touch records an edit to doc.
func (t *Tracker) Touch(doc string) {
	t.advance(doc)
}

// Forget drops doc, for example when it is closed.
func (t *Tracker) Forget(doc string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.gens, doc)
}

func (t *Tracker) advance(doc string) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.next++
	t.gens[doc] = t.next
	return t.next
}

func (t *Tracker) current(doc string) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.gens[doc]
}

// Stale reports whether doc has moved on since the ticket was issued.
func (k Ticket) Stale() bool {
	return k.t.current(k.doc) != k.gen
}
