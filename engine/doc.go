// Package engine implements the storage engine for sparse multi-dimensional
// arrays: immutable timestamped fragments, block-compressed column data,
// timestamp-filtered reads with coordinate deduplication, fragment
// consolidation, and array metadata.
//
// # Storage Layout
//
// An array lives under a single URI prefix:
//
//	<array>/__schema/schema.json          array schema
//	<array>/__fragments/<id>/data.bin     column blocks + footer
//	<array>/__commits/<id>.wrt            fragment commit marker
//	<array>/__commits/<id>.vac            vacuum list after consolidation
//	<array>/__meta/<ts>-<uuid>.meta       metadata records
//
// A fragment becomes visible the moment its .wrt marker is written; data.bin
// is written first, so a reader never observes a committed fragment without
// data. Fragment data files and markers are never modified in place.
//
// # Time Travel
//
// Every cell carries the write timestamp of its fragment. Arrays open with
// an inclusive timestamp interval, and reads only see cells whose timestamp
// falls inside it. When duplicates are disallowed, the cell with the highest
// timestamp wins per coordinate.
package engine
