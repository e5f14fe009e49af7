// Package storage provides the key-value blob interface the gateway caches
// behind, with memory, filesystem, S3, and Redis back-ends.
//
// The interface is intentionally tiny (get/put/remove plus a metadata mapping
// per key) so any object store, embedded KV, or plain directory can back it.
// The gateway never reads two keys as a transaction.
package storage
