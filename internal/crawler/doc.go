// Package crawler defines the domain types and storage contracts shared by the
// queue, execution, discovery and scheduler subsystems of the economic series
// crawler.
package crawler
