// Package app wires the licguard service together: configuration, logging,
// telemetry, the credential registry, the abuse tracker, the verification
// engine and the HTTP server with its middleware chain.
package app
