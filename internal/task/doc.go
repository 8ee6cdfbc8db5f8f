// Package task executes asynchronous AI tasks.
//
// Task identifiers travel over a Transport; the payload stays in the task
// store. A WorkerPool runs one consumer loop per slot, each with its own
// Consumer connection, and hands popped identifiers to an Executor. A
// BackupPoller periodically re-pushes pending tasks the transport lost and,
// when the transport is down, runs a bounded batch in-process.
package task
