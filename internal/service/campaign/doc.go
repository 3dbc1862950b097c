// Package campaign implements campaign lifecycle management.
//
// The service layer owns creation, editing, and scheduling rules for
// campaigns. Status transitions that affect send jobs (start, pause, resume,
// cancel) are delegated to the dispatch engine, which holds the transition
// guards; this package never mutates campaign status directly.
//
// Repository implementations live in repository/postgres/ and
// repository/memory/.
package campaign
