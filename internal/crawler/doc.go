// Package crawler visits topic detail pages in throttled batches and
// assembles the results into a catalog snapshot.
package crawler
