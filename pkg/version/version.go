// Package version carries the engine build version. Catalogs may declare a
// min_engine_version semver constraint checked against this value at load.
package version

// Version is the engine version, overridable at link time with
// -ldflags "-X github.com/curatorlabs/datacollector/pkg/version.Version=…".
var Version = "1.3.0"
