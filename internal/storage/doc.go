// Package storage persists studies, task definitions, subjects, instances and
// answers, and provides the transactional unit of work the sweep runs in.
//
// Timestamps are stored as unix milliseconds and converted back into the
// owning study's time zone on load. Multi-valued answers and condition values
// are stored as model.ValueSeparator-joined text and split on read.
package storage
