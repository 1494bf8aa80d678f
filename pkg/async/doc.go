// Package async runs fire-and-forget background work with panic recovery and
// timeouts. Invitation and notification delivery go through it so that a slow
// or failing notifier never blocks or crashes a request.
package async
