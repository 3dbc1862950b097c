// Package suppression implements the stop-list gate consulted before any
// send job is created.
//
// A suppression entry is binary and authoritative: once an email is listed,
// no campaign fan-out will ever create a job for it, regardless of the
// subscriber's own status. Suppressing an address does not retroactively
// cancel jobs that were already created.
//
// Repository implementations live in repository/postgres/ and repository/memory/.
package suppression
