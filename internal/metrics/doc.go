// Package metrics defines the Prometheus metrics exported by the watch controller.
//
// Each Metrics value owns its own registry, so servers and tests can create
// as many instances as they need. A nil *Metrics records nothing.
package metrics
