// Package scheduler runs the periodic triggers: promoting due campaigns into
// dispatch, recomputing campaign metrics, and ticking parked workflows. Each
// promotion runs under a short-TTL distributed lock so multiple instances
// never double-start a campaign.
package scheduler
