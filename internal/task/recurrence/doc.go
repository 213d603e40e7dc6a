// Package recurrence computes the due dates of task instances.
//
// All arithmetic happens on the local wall clock of the study's time zone
// (time.Date / AddDate), never on raw elapsed durations, so a daylight-saving
// transition never shifts the local time-of-day of a computed date.
//
// The calculator is pure: given the same definition, subject, study and
// clock it returns identical timestamps, and it is safe for concurrent use.
package recurrence
