package tl2mem

import "github.com/arcflow-labs/tl2mem/segment"

// readEntry is a read-set entry: a non-owning reference to the VLock
// observed when an address was read, plus the address itself so
// validation can recognize a lock the transaction itself holds (spec.md
// §4.4, policy (a)). Its lifetime is the transaction's: created on first
// read of an address not served from the write set, discarded on commit or
// abort. Ordering among entries is irrelevant. An entry is appended on
// every such read, so an address read twice appears twice; validate
// tolerates the duplicates.
type readEntry struct {
	addr uint64
	lock *segment.VLock
}

// readSet is the append-only vector spec.md §9 calls for.
type readSet struct {
	entries []readEntry
}

func (rs *readSet) record(addr uint64, lock *segment.VLock) {
	rs.entries = append(rs.entries, readEntry{addr: addr, lock: lock})
}

// validate implements spec.md §4.4's Validate(wv, rv). If wv == rv+1, no
// other committer observed between this transaction's begin and end, so
// the read set is trivially valid. Otherwise every entry's VLock is
// sampled: a lock held by this transaction's own write set is tolerated
// (policy (a), decided in SPEC_FULL.md §4); any other lock holder, or a
// version advanced past rv, fails validation.
func (rs *readSet) validate(wv, rv uint64, ws *writeSet) bool {
	if wv == rv+1 {
		return true
	}
	for _, e := range rs.entries {
		locked, version := e.lock.Sample()
		if locked {
			if w, ownedByUs := ws.get(e.addr); !ownedByUs || w.isFreed {
				return false
			}
		}
		if version > rv {
			return false
		}
	}
	return true
}

func (rs *readSet) reset() {
	rs.entries = rs.entries[:0]
}
