// Package workflow executes multi-step subscriber journeys defined as node
// graphs of sends, waits, and conditions. Each subscriber gets one instance
// per flow; the instance cursor and its state bag are persisted after every
// node execution, so a crash never loses or repeats an observable step.
package workflow
