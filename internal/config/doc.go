// Package config provides startup configuration for the workshop daemon:
// API server address, Stellar network selection, vault gateway endpoints,
// run store and run queue drivers, and the demo parameters used by the
// two workshop workflows.
package config
