// Package catalog defines the records shared with the crawl backend (image
// metadata, model test results, crawl jobs), the keyword/sort rules applied to
// them, and the Repository capability every storage variant implements.
// Implementations live in internal/storage; this package must not import
// database drivers or concrete clients.
package catalog
