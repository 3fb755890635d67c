// Package version holds the daemon's build version, set via ldflags at
// build time the same way cmd/warren/main.go's Version var is — see
// cmd/granaryd/main.go for the -ldflags wiring.
package version

// Version is overridden at build time: -ldflags "-X github.com/cuemby/granary/pkg/version.Version=1.0.0".
var Version = "dev"
