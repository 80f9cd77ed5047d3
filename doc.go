// Package redisq provides a small FIFO/LIFO queue built on a Redis list.
//
// It uses:
// - a single Redis List per queue (LPUSH/RPUSH to enqueue, BRPOP to consume)
// - a JSON envelope carrying the redelivery count of every payload
// - pluggable codecs (pass-through, JSON, protobuf or caller-supplied)
// - Redis PubSub (optional) for lifecycle events
//
// Delivery is at-least-once: a handler returning an error puts the payload
// back on the list until the retry budget is spent, after which a
// *PoisonMessageError is reported on the queue's error channel.
package redisq
