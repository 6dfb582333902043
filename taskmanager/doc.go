// Package taskmanager serializes every outbound action and every inbound
// mediator message into one execution order over a single connection.
//
// # Overview
//
// Callers hand work to the manager as Tasks. Inbound messages from the
// transport enter through ProcessInboundMessage. Both end up in one queue
// that a single executor goroutine drains one element at a time:
//
//	manager := taskmanager.New(taskmanager.DefaultConfig(), taskmanager.WithArchiver(a))
//	future := taskmanager.Schedule[uint64](manager, task)
//	ts, err := future.Await(ctx)
//
// Local tasks are preferred over inbound-derived ones when both are ready.
// Local tasks run in scheduling order; inbound-derived tasks run in arrival
// order. Two tasks never interleave.
//
// # Reading replies
//
// A running task reads with a MessageFilter. Messages the filter does not
// accept are either bypassed, which means their default handling runs
// inline on a restricted codec, or backlogged until some later read or the
// queue itself picks them up. The choice is fixed per message type:
//
//	BYPASS:  Reflected, BeginTransactionAck, CommitTransactionAck,
//	         ReflectionQueueDry, RolePromotedToLeader,
//	         TransactionEnded, TransactionRejected
//	BACKLOG: every csp message, ReflectAck, DevicesInfo, DropDeviceAck,
//	         ServerHello, ServerInfo
//
// The backlog is rescanned in order before any fresh message is read.
//
// # Failures
//
// A task that fails with anything but a network error is retried up to its
// execution limit: five attempts for local tasks, one for inbound-derived
// tasks. Network errors end the executor run. A protocol violation also
// restarts the connection with exponential backoff.
package taskmanager
