// Package subscriber implements recipient list management: creation with
// email normalization and duplicate detection, profile updates, and the
// status flips driven by unsubscribes and hard bounces. Bounce handling also
// feeds the suppression list so the address is blocked across all future
// campaigns, not just this list.
package subscriber
