// Package http exposes the slot engine over JSON.
//
// Routes:
//   - GET /event-types/{id}/slots?from=&to=&timezone=&contactOwnerId=: bookable
//     slots of a stored event type, grouped by local date in the requested
//     timezone. from and to are RFC 3339 instants.
//   - POST /slots/query: slots for an ad hoc host set and constraints, or for
//     a stored event type with an overriding segment. Body: slotQueryRequest.
//   - POST /bookings/validate: checks a proposed booking without writing it.
//   - POST /bookings: validates and writes a booking in one transaction.
//   - GET /healthz: store connectivity.
//
// Losing a race for a slot answers 409 with an error code naming the reason.
// Validation failures answer 422 with per-field messages, unknown event types
// 404 and a locked store 503.
package http
