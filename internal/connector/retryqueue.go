package connector

import "sync"

// retryData tracks a single ACK-pending datagram: the payload to re-send
// and how many pump passes have attempted it so far.
type retryData struct {
	payload  ProtocolData
	attempts int
}

// retryQueue maps a datagram id (its raw id bytes, converted to string once
// at insertion) to its retryData. A plain mutex-guarded map is sufficient
// here: the pump always takes a full snapshot before mutating, so there is
// no need for the registry's per-shard sharding.
type retryQueue struct {
	mu      sync.Mutex
	entries map[string]*retryData
}

func newRetryQueue() *retryQueue {
	return &retryQueue{entries: make(map[string]*retryData)}
}

func (q *retryQueue) add(id string, payload ProtocolData) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.entries[id] = &retryData{payload: payload}
}

// ack removes id and reports whether an entry was present, so repeated ACKs
// for the same id are observably idempotent.
func (q *retryQueue) ack(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.entries[id]; !ok {
		return false
	}
	delete(q.entries, id)
	return true
}

func (q *retryQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// snapshot returns a copy of the current id -> retryData pointer map. The
// retryData values themselves are mutated in place by the pump under its
// own access discipline (single pump goroutine only), so no copy of their
// contents is needed.
func (q *retryQueue) snapshot() map[string]*retryData {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make(map[string]*retryData, len(q.entries))
	for id, rd := range q.entries {
		out[id] = rd
	}
	return out
}

func (q *retryQueue) remove(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.entries, id)
}
