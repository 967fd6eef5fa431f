// Package memory provides the bounded short-term memory store shared by
// workflow steps. Entries carry an optional TTL and a priority weight;
// when the store is at capacity, expired entries are purged first and the
// remainder are evicted in priority-weighted LRU order.
package memory
