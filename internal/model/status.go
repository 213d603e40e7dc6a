package model

import (
	"fmt"
	"strings"
)

// Status is the lifecycle state of a task instance.
type Status int

const (
	StatusDormant Status = iota + 1
	StatusDue
	StatusInProgress
	StatusReleasedOnce
	StatusReleasedTwice
	StatusExpired
	StatusWithdrawn
)

var statusTags = [...]string{
	StatusDormant:       "dormant",
	StatusDue:           "due",
	StatusInProgress:    "in-progress",
	StatusReleasedOnce:  "released-once",
	StatusReleasedTwice: "released-twice",
	StatusExpired:       "expired",
	StatusWithdrawn:     "withdrawn",
}

func (s Status) String() string {
	if s > 0 && int(s) < len(statusTags) {
		return statusTags[s]
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	switch s {
	case StatusReleasedTwice, StatusExpired, StatusWithdrawn:
		return true
	default:
		return false
	}
}

// MarshalText keeps JSON payloads readable.
func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Status) UnmarshalText(b []byte) error {
	v, err := ParseStatus(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

func ParseStatus(raw string) (Status, error) {
	t := strings.ToLower(strings.TrimSpace(raw))
	for i := 1; i < len(statusTags); i++ {
		if statusTags[i] == t {
			return Status(i), nil
		}
	}
	return 0, fmt.Errorf("unknown instance status %q", raw)
}

// SweepableStatuses are the statuses the sweep may still advance.
var SweepableStatuses = []Status{StatusDormant, StatusDue, StatusInProgress, StatusReleasedOnce}
