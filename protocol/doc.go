// Package protocol defines the messages exchanged with the mediator server
// and their binary wire format.
//
// Two layers share one connection. The device-to-mediator layer (d2m) carries
// reflection, transaction and device-management payloads. The chat server
// layer (csp) is proxied through d2m and is opaque to the task manager apart
// from its payload type.
//
// # Message unions
//
// InboundMessage and OutboundMessage are closed sets: both interfaces carry
// an unexported marker method, so only the types declared here satisfy them.
// Consumers switch over the concrete pointer types:
//
//	switch m := msg.(type) {
//	case *protocol.ReflectAck:
//	    ...
//	case *protocol.CspMessage:
//	    ...
//	}
//
// # Framing
//
// Every d2m frame starts with a one-byte payload type followed by three
// reserved bytes. A proxied csp message is a d2m proxy frame whose payload is
// itself a csp container with the same four-byte header. Integers in
// fixed-layout payloads are little-endian; transaction and device payloads
// are protobuf encoded.
package protocol
