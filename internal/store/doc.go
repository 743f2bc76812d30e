// Package store holds the live metrics tree of a load-test report session.
//
// A [Store] is seeded once from the snapshot the report server embeds in its
// page state and then grows as update batches arrive:
//
//	st, err := store.New(snapshotData, store.WithMissingPolicy(store.MissingCreate))
//	batch, err := store.ParseBatch(raw)
//	applied, err := st.ApplyBatch(batch)
//
// # Tree Shape
//
// Every node is either a leaf holding an ordered [Sample] sequence or a subtree
// of named children. The kind of a node is fixed when the node is created and
// never changes; only leaf sequences grow. Children keep insertion order, which
// is the document order of the snapshot followed by creation order.
//
// # Missing Series
//
// Batches may reference series the snapshot did not contain (a new HTTP code,
// a newly monitored host). [MissingCreate] adds them on the fly, [MissingFail]
// rejects the whole batch with a [SchemaMismatchError].
//
// # Projections
//
// Renderers never see the tree. They consume [SeriesDescriptor] lists built by
// [Store.ProjectQuantiles], [Store.ProjectRPS] and [Store.ProjectMonitoring].
//
// # Thread Safety
//
// A Store is not safe for concurrent use. The live channel is its only writer
// and serializes readers behind its own lock.
package store
