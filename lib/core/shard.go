package core

// ShardID identifies a partition of the keyspace served by the store.
// One pending request exists per ShardID per logical query; ShardID is
// the key used by the pending-request scheduler (see lib/pending) to
// track requests.
type ShardID string
