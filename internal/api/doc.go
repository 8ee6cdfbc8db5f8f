// Package api exposes the task and chat services over HTTP. Streaming chat
// responses are delivered as server-sent events.
package api
