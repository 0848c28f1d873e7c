// Package dedupe provides a time-based cache of seen entity IDs so event
// subscribers can collapse duplicate deliveries into a single observation.
package dedupe
