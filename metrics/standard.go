package metrics

// Pre-defined metrics for the embedded Merkle tree library. All metrics
// live in DefaultRegistry so they are globally accessible without passing a
// registry around; a process embedding multiple trees shares one set of
// counters unless it builds its own Registry.

var (
	// ---- Tree structural metrics ----

	// TreeLeaves tracks num_leaves of the most recently touched tree.
	TreeLeaves = DefaultRegistry.Gauge("mtree.leaves")
	// TreeDepth tracks depth of the most recently touched tree.
	TreeDepth = DefaultRegistry.Gauge("mtree.depth")
	// RecordsWritten counts addOrUpdateData calls that were not no-ops.
	RecordsWritten = DefaultRegistry.Counter("mtree.records_written")
	// RecordsNoop counts addOrUpdateData calls that detected an identical
	// (key, value) pair already stored.
	RecordsNoop = DefaultRegistry.Counter("mtree.records_noop")

	// ---- Persistence metrics ----

	// FlushCount counts completed flushToDisk calls that wrote a batch.
	FlushCount = DefaultRegistry.Counter("mtree.flushes")
	// FlushDurationMillis records the wall-clock cost of flushToDisk.
	FlushDurationMillis = DefaultRegistry.Histogram("mtree.flush_ms")
	// RevertCount counts revertUnsavedChanges calls that discarded state.
	RevertCount = DefaultRegistry.Counter("mtree.reverts")
	// CloneCount counts successful clone operations.
	CloneCount = DefaultRegistry.Counter("mtree.clones")

	// ---- Cache metrics ----

	// DirtyNodes tracks the current size of the in-memory node cache.
	DirtyNodes = DefaultRegistry.Gauge("mtree.cache.dirty_nodes")
	// CacheHits counts node lookups served from the in-memory cache.
	CacheHits = DefaultRegistry.Counter("mtree.cache.hits")
	// CacheMisses counts node lookups that fell through to storage.
	CacheMisses = DefaultRegistry.Counter("mtree.cache.misses")

	// ---- Priority lock metrics ----

	// LockWaitMillis records how long acquirers waited before being granted
	// the lock.
	LockWaitMillis = DefaultRegistry.Histogram("mtree.lock.wait_ms")
	// LockUnhealthyWaits counts acquisitions that blocked longer than the
	// configured unhealthy-wait threshold.
	LockUnhealthyWaits = DefaultRegistry.Counter("mtree.lock.unhealthy_waits")
	// LockContended counts acquisitions that had to queue behind another
	// holder or waiter instead of being granted immediately.
	LockContended = DefaultRegistry.Counter("mtree.lock.contended")
)
