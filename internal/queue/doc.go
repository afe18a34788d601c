// Package queue provides the backpressure mechanism between audio generation
// and playback. It is a counting semaphore of generation slots with explicit,
// exactly-once acknowledgement by the consumer.
package queue
