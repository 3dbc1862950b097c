// Package dispatch turns a campaign into a stream of individually rendered,
// tracked, rate-paced, retryable email sends.
//
// The campaign lifecycle is draft → scheduled → sending → sent/paused/
// cancelled. Entering sending performs a one-time fan-out that creates one
// pending SendJob per eligible subscriber; pause and resume only gate
// whether pending jobs are drained and never recreate them. Workers claim
// bounded batches atomically (pending → claimed) so two workers can never
// pick up the same job, then drain each batch sequentially at the
// campaign's send rate.
//
// "sent" is a derived condition: a sending campaign with no pending or
// claimed jobs left. CompleteIfDrained persists the terminal status only
// from that observed state.
package dispatch
