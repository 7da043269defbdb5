// Package notification holds the domain model of the scheduling and
// delivery engine: the Notification entity and its lifecycle state machine,
// the RecurrenceRule variants with the next-fire-time calculator, audience
// resolution against the user directory, and placeholder template rendering.
//
// Everything here is pure domain logic; persistence and transport live in
// their own packages and are consumed through interfaces.
package notification
