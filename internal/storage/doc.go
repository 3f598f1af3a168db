// Package storage persists operator overrides of resource limits and an
// audit log of every applied limit change.
//
// Overrides are layered on top of the config file at every reload, so a
// device limit set from the CLI survives restarts and config edits.
package storage
