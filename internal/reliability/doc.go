// Package reliability implements retry policies and the broker-side delay
// scheduler used to redeliver failed work without in-process timers.
package reliability
