// Package engine holds the core data model of the workflow engine: step
// kinds and instances, typed connections, runs, and the command/pipeline
// shapes a run drives. Subpackages (builder, executor, scheduler, ...)
// operate on these types; engine itself has no dependency on them so it
// can be imported from every layer without cycles.
package engine
