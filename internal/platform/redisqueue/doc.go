// Package redisqueue implements the task transport and the stream cancel bus
// on Redis. Task identifiers are LPUSHed and BRPOPed, which gives FIFO order
// per list; cancellations are broadcast over pub/sub.
package redisqueue
