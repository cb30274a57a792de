// Package priority provides a concurrently mutable collection whose entries
// are grouped into priority buckets.
//
// Entries are visited in ascending priority order. Entries that share a
// priority keep their insertion order. The collection backs listener and
// interceptor registration, where registration is rare and iteration happens
// on every dispatched event, so reads never take a lock.
//
// # Basic Usage
//
//	c := priority.New[string]()
//	c.Add(5, "A")
//	c.Add(10, "B")
//	c.Add(1, "C")
//
//	for p, v := range c.All() {
//	    fmt.Println(p, v) // 1 C, 5 A, 10 B
//	}
//
// # Thread Safety
//
// All methods are safe for concurrent use. Iteration is weakly consistent:
// a bucket is snapshotted when the iterator reaches it, so changes to
// buckets that were already visited are not observed, while buckets that
// have not been reached yet are read live. An iterator never fails because
// of concurrent mutation and never yields an entry after observing its
// removal.
//
// Writers to the same bucket serialize on that bucket. Creating or dropping
// a bucket additionally takes a small index lock.
package priority
