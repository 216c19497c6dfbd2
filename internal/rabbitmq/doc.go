// Package rabbitmq provides the AMQP plumbing underneath the messaging
// layer: connection management with automatic reconnection, a channel pool
// for short-lived operations, the queue topology registry and dead-letter
// provisioning, confirmed mandatory publishing, and queue subscriptions.
package rabbitmq
