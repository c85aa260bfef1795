// Package version holds the build version stamped at release time.
package version

// Version is overridden via -ldflags at build time.
var Version = "0.3.0-dev"
