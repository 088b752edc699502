// Package store provides persistent storage for trace runs using SQLite.
//
// # Architecture
//
// TraceStore is the archive interface the engine writes to once a send has
// settled. SQLiteStore implements it on modernc.org/sqlite (no cgo).
//
// # Schema
//
//   - trace_runs: one row per run, keyed by the run id, with the conversation
//     it belongs to and its event count
//   - trace_events: the raw debug payloads of a run, ordered by seq;
//     deleted with their run
//
// # Usage
//
//	s, err := store.NewSQLiteStore(path)
//	if err != nil {
//	    return err
//	}
//	defer s.Close()
//
//	runs, err := s.ListRuns(ctx, store.ListRunsParams{Limit: 20})
package store
