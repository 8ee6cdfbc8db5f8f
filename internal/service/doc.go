// Package service contains the caller-facing use cases of the task engine.
//
// TaskService creates, reads, lists and deletes background tasks and hands
// new ones to the queue transport. ChatService runs streamed chats through
// the stream manager, enforcing quotas and the per-user concurrency cap, and
// hands finished exchanges to the HistoryRecorder.
//
// Services receive their collaborators through constructors and depend only
// on the interfaces in internal/store, internal/task and internal/stream.
package service
