// Package messaging is the reliable publish/consume layer of the control
// plane. Publishers enrich payloads into envelopes and publish them
// persistent, confirmed, and mandatory; consumers run one blocking loop per
// queue with bounded prefetch, rejecting poison messages to the dead letter
// queue and retrying failed work through a broker-side delay scheduler.
//
// Correctness model: at-least-once delivery with idempotent handlers keyed
// by message id. No cross-queue ordering is guaranteed; within one queue a
// single consumer at prefetch 1 preserves broker FIFO order.
package messaging
