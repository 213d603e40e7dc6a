// Package notifier turns lifecycle events into reminder schedules.
//
// The service subscribes to the event bus. Every lifecycle event is appended
// to the persisted event history; an instance-activated event additionally
// gets one reminder per configured offset and a delivery-queue entry for the
// outbound channel, which lives outside this process.
//
// Writes are paced by a token bucket so a large sweep does not monopolise
// the single SQLite writer. Events that arrive while the subscription buffer
// is full are dropped by the bus; the publisher retries those.
package notifier
