// Package metrics derives per-campaign engagement aggregates from send jobs
// and the event stream. Aggregates are recomputed from source facts on every
// pass, so the table can be dropped and rebuilt without data loss.
package metrics
