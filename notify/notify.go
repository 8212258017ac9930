// Package notify carries user-visible notifications out of the session
// manager. It is the seam the host application hangs its toast layer on.
package notify

import "log"

// Notifier receives user-visible notifications. Implementations must be
// safe for concurrent use; the manager calls them from its dispatch
// goroutine.
type Notifier interface {
	Success(msg string)
	Warning(msg string)
	Error(msg string)
}

// Log writes notifications to the process log. It is the default when
// the host application does not provide its own Notifier.
type Log struct{}

func (Log) Success(msg string) { log.Printf("[notify] success: %s", msg) }
func (Log) Warning(msg string) { log.Printf("[notify] warning: %s", msg) }
func (Log) Error(msg string)   { log.Printf("[notify] error: %s", msg) }

// Nop discards all notifications.
type Nop struct{}

func (Nop) Success(string) {}
func (Nop) Warning(string) {}
func (Nop) Error(string)   {}
