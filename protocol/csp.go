package protocol

import (
	"fmt"
	"unicode/utf8"
)

// CspPayloadType is the payload type of a chat server message.
type CspPayloadType byte

// Chat server payload types.
const (
	CspEchoRequest                       CspPayloadType = 0x00
	CspOutgoingMessage                   CspPayloadType = 0x01
	CspIncomingMessage                   CspPayloadType = 0x02
	CspUnblockIncomingMessages           CspPayloadType = 0x03
	CspSetPushToken                      CspPayloadType = 0x20
	CspDeletePushToken                   CspPayloadType = 0x25
	CspSetConnectionIdleTimeout          CspPayloadType = 0x30
	CspEchoResponse                      CspPayloadType = 0x80
	CspOutgoingMessageAck                CspPayloadType = 0x81
	CspIncomingMessageAck                CspPayloadType = 0x82
	CspQueueSendComplete                 CspPayloadType = 0xd0
	CspDeviceCookieChangeIndication      CspPayloadType = 0xd2
	CspClearDeviceCookieChangeIndication CspPayloadType = 0xd3
	CspCloseError                        CspPayloadType = 0xe0
	CspAlert                             CspPayloadType = 0xe1
)

var cspPayloadNames = map[CspPayloadType]string{
	CspEchoRequest:                       "echo-request",
	CspOutgoingMessage:                   "outgoing-message",
	CspIncomingMessage:                   "incoming-message",
	CspUnblockIncomingMessages:           "unblock-incoming-messages",
	CspSetPushToken:                      "set-push-token",
	CspDeletePushToken:                   "delete-push-token",
	CspSetConnectionIdleTimeout:          "set-connection-idle-timeout",
	CspEchoResponse:                      "echo-response",
	CspOutgoingMessageAck:                "outgoing-message-ack",
	CspIncomingMessageAck:                "incoming-message-ack",
	CspQueueSendComplete:                 "queue-send-complete",
	CspDeviceCookieChangeIndication:      "device-cookie-change-indication",
	CspClearDeviceCookieChangeIndication: "clear-device-cookie-change-indication",
	CspCloseError:                        "close-error",
	CspAlert:                             "alert",
}

// String returns the payload name, or its hex value if unknown.
func (t CspPayloadType) String() string {
	if name, ok := cspPayloadNames[t]; ok {
		return name
	}
	return fmt.Sprintf("csp(0x%02x)", byte(t))
}

// CspMessage is an inbound chat server payload proxied by the mediator.
type CspMessage struct {
	PayloadType CspPayloadType
	Data        []byte
}

func (*CspMessage) inbound() {}

// Name implements InboundMessage.
func (m *CspMessage) Name() string { return m.PayloadType.String() }

// ServerError decodes a close-error payload. The first byte tells whether the
// client may reconnect; the rest is a UTF-8 message.
func (m *CspMessage) ServerError() (canReconnect bool, message string, err error) {
	if m.PayloadType != CspCloseError {
		return false, "", fmt.Errorf("%w: %s is not a close-error", ErrUnexpectedPayload, m.PayloadType)
	}
	if len(m.Data) < 1 {
		return false, "", fmt.Errorf("%w: close-error needs at least 1 byte", ErrMalformedFrame)
	}
	text := m.Data[1:]
	if !utf8.Valid(text) {
		return false, "", fmt.Errorf("%w: close-error message is not UTF-8", ErrMalformedFrame)
	}
	return m.Data[0] != 0, string(text), nil
}

// AlertMessage decodes an alert payload.
func (m *CspMessage) AlertMessage() (string, error) {
	if m.PayloadType != CspAlert {
		return "", fmt.Errorf("%w: %s is not an alert", ErrUnexpectedPayload, m.PayloadType)
	}
	if !utf8.Valid(m.Data) {
		return "", fmt.Errorf("%w: alert is not UTF-8", ErrMalformedFrame)
	}
	return string(m.Data), nil
}

// OutboundCspMessage is a chat server payload sent through the mediator proxy.
type OutboundCspMessage struct {
	PayloadType CspPayloadType
	Data        []byte
}

func (*OutboundCspMessage) outbound() {}

// Name implements OutboundMessage.
func (m *OutboundCspMessage) Name() string { return m.PayloadType.String() }
