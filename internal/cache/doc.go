/*
Package cache holds decoded assets in a reference-counted live store.

Unlike a capacity-bounded cache, nothing is evicted for space: an entry
stays resident while at least one holder references it. Holders acquire a
reference on every cache hit and release it when done; the release that
drops the count to zero tears the handle down and removes it.

	Insert ──► refCount=1 ──Acquire──► refCount=n
	                │                        │
	                └──────Release───────────┘
	                           │ n == 0
	                           ▼
	                 Teardown + remove

Bulk eviction paths ignore reference counts: ForceEvict drops a single
entry, Sweep drops every entry already at zero and Clear drops all.

Memory is tracked as an estimate only (see EstimateSize).
*/
package cache
