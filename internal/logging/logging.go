// Package logging gives each long-lived subsystem its own log.Logger with a
// fixed prefix, so the many concurrent loops in this process (gateway,
// provisioner, container manager, registry, image intake) stay greppable
// in a single process log stream.
package logging

import (
	"log"
	"os"
)

// New returns a *log.Logger prefixed with "[component] ", writing to stderr
// with the standard date/time flags.
func New(component string) *log.Logger {
	return log.New(os.Stderr, "["+component+"] ", log.LstdFlags)
}
