//go:build !unix

package device

// Without a device number every existing path resolves to its volume root.
var platformStat StatFunc
