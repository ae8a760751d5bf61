// Package publisher exports committed mutations to external systems
// (NATS JetStream, Kafka) through a durable, ordered log.
//
// The Registry subscribes to the store's mutation hub. Every committed
// batch is flattened into Events, one per written row plus one summary per
// bulk statement, and appended to a Pebble-backed PublishLog inside the
// hub's serialized publication path, so log order matches commit order.
// One Worker per configured sink tails the log from its own cursor,
// filters by entity type, transforms and publishes with retry.
//
// Key prefixes:
//
//	/publog/{seq:016x}       -> msgpack(Event)
//	/pubcursor/{sinkName}    -> uint64 (cursor)
//	/pubseq                  -> uint64 (last sequence)
//
// Delivery is at-least-once: a sink cursor advances only after a publish
// succeeds. Entries below the slowest cursor are deleted every 128
// sequence numbers.
package publisher
