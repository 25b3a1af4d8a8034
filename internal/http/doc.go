// Package http provides HTTP handlers and middleware for the booking API.
//
// Every /v1 route requires an HS256 bearer token whose subject is the user id.
// Calendar credentials are sent per request in the X-Calendar-Access-Token and
// X-Calendar-Refresh-Token headers; when the service refreshes the access
// token the new value is returned in X-Calendar-Access-Token.
//
// The router exposes the following endpoints:
//   - GET /healthz: storage reachability.
//   - GET /v1/slots?date=&duration=&horizon=&rank=&adjacent=: free slots with
//     the fetched_at timestamp that must accompany a later booking. Slots are
//     ranked by booking history unless rank=false.
//   - POST /v1/bookings: commits one slot. Body is `bookingRequest`. Failed
//     attempts still answer with the sync event id that recorded them.
//   - POST /v1/bookings/recurring: books every occurrence of a daily or weekly
//     pattern and reports booked, skipped and failed occurrences.
//   - GET /v1/sync-events?status=, GET /v1/sync-events/counts: the ledger.
//   - POST /v1/sync-events/retry, POST /v1/sync-events/retry/{id}: retry
//     failed attempts in bulk or one at a time.
//   - DELETE /v1/sync-events/{id}: removes a settled row.
//   - GET /v1/stats, DELETE /v1/stats, POST /v1/stats/outcomes: slot history.
//   - GET /v1/preferences/learning, PUT /v1/preferences/learning: toggles
//     history based ranking.
//
// Errors use `errorResponse`; error_code is the upper-cased failure kind.
package http
