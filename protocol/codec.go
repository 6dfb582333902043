package protocol

import (
	"encoding/binary"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

const (
	headerLength          = 4
	reflectHeaderLength   = 8
	reflectedMinHeaderLen = 16
	reflectAckLength      = 16
	reflectedAckLength    = 8
)

func malformed(name string, format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s: %s", ErrMalformedFrame, name, fmt.Sprintf(format, args...))
}

func frame(payloadType byte, payload []byte) []byte {
	out := make([]byte, headerLength, headerLength+len(payload))
	out[0] = payloadType
	return append(out, payload...)
}

// DecodeInbound decodes one d2m frame received from the mediator.
func DecodeInbound(data []byte) (InboundMessage, error) {
	if len(data) < headerLength {
		return nil, malformed("frame", "need %d header bytes, got %d", headerLength, len(data))
	}
	payloadType := D2mPayloadType(data[0])
	payload := data[headerLength:]

	switch payloadType {
	case D2mProxy:
		if len(payload) < headerLength {
			return nil, malformed("proxy", "need %d csp header bytes, got %d", headerLength, len(payload))
		}
		return &CspMessage{
			PayloadType: CspPayloadType(payload[0]),
			Data:        clone(payload[headerLength:]),
		}, nil
	case D2mServerHello:
		return &ServerHello{Payload: clone(payload)}, nil
	case D2mServerInfo:
		return &ServerInfo{Payload: clone(payload)}, nil
	case D2mReflectionQueueDry:
		return &ReflectionQueueDry{}, nil
	case D2mRolePromotedToLeader:
		return &RolePromotedToLeader{}, nil
	case D2mDevicesInfo:
		return &DevicesInfo{Payload: clone(payload)}, nil
	case D2mDropDeviceAck:
		return &DropDeviceAck{Payload: clone(payload)}, nil
	case D2mBeginTransactionAck:
		return &BeginTransactionAck{}, nil
	case D2mCommitTransactionAck:
		return &CommitTransactionAck{}, nil
	case D2mTransactionRejected:
		id, scope, err := decodeTransactionState(payloadType.String(), payload)
		if err != nil {
			return nil, err
		}
		return &TransactionRejected{DeviceID: id, EncryptedScope: scope}, nil
	case D2mTransactionEnded:
		id, scope, err := decodeTransactionState(payloadType.String(), payload)
		if err != nil {
			return nil, err
		}
		return &TransactionEnded{DeviceID: id, EncryptedScope: scope}, nil
	case D2mReflectAck:
		return decodeReflectAck(payload)
	case D2mReflected:
		return decodeReflected(payload)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownPayload, payloadType)
	}
}

func decodeReflectAck(payload []byte) (*ReflectAck, error) {
	if len(payload) < reflectAckLength {
		return nil, malformed("reflect-ack", "need %d bytes, got %d", reflectAckLength, len(payload))
	}
	return &ReflectAck{
		ReflectID: ReflectID(binary.LittleEndian.Uint32(payload[4:8])),
		Timestamp: binary.LittleEndian.Uint64(payload[8:16]),
	}, nil
}

func decodeReflected(payload []byte) (*Reflected, error) {
	if len(payload) < 1 {
		return nil, malformed("reflected", "empty payload")
	}
	hdr := int(payload[0])
	if hdr < reflectedMinHeaderLen {
		return nil, malformed("reflected", "header needs at least %d bytes, got %d", reflectedMinHeaderLen, hdr)
	}
	if len(payload) < hdr {
		return nil, malformed("reflected", "header claims %d bytes, payload has %d", hdr, len(payload))
	}
	return &Reflected{
		Flags:       ReflectFlags(binary.LittleEndian.Uint16(payload[2:4])),
		ReflectedID: ReflectID(binary.LittleEndian.Uint32(payload[4:8])),
		Timestamp:   binary.LittleEndian.Uint64(payload[8:16]),
		Envelope:    clone(payload[hdr:]),
	}, nil
}

// decodeTransactionState decodes the shared body of TransactionRejected and
// TransactionEnded: fixed64 device_id = 1, bytes encrypted_scope = 2.
func decodeTransactionState(name string, payload []byte) (DeviceID, []byte, error) {
	var (
		id    DeviceID
		scope []byte
	)
	for len(payload) > 0 {
		num, typ, n := protowire.ConsumeTag(payload)
		if n < 0 {
			return 0, nil, malformed(name, "bad tag: %v", protowire.ParseError(n))
		}
		payload = payload[n:]

		switch {
		case num == 1 && typ == protowire.Fixed64Type:
			v, m := protowire.ConsumeFixed64(payload)
			if m < 0 {
				return 0, nil, malformed(name, "bad device id: %v", protowire.ParseError(m))
			}
			id, n = DeviceID(v), m
		case num == 1 && typ == protowire.VarintType:
			v, m := protowire.ConsumeVarint(payload)
			if m < 0 {
				return 0, nil, malformed(name, "bad device id: %v", protowire.ParseError(m))
			}
			id, n = DeviceID(v), m
		case num == 2 && typ == protowire.BytesType:
			v, m := protowire.ConsumeBytes(payload)
			if m < 0 {
				return 0, nil, malformed(name, "bad scope: %v", protowire.ParseError(m))
			}
			scope, n = clone(v), m
		default:
			n = protowire.ConsumeFieldValue(num, typ, payload)
			if n < 0 {
				return 0, nil, malformed(name, "bad field %d: %v", num, protowire.ParseError(n))
			}
		}
		payload = payload[n:]
	}
	return id, scope, nil
}

// EncodeOutbound encodes msg into one d2m frame.
func EncodeOutbound(msg OutboundMessage) ([]byte, error) {
	switch m := msg.(type) {
	case *OutboundCspMessage:
		return frame(byte(D2mProxy), frame(byte(m.PayloadType), m.Data)), nil

	case *BeginTransaction:
		var b []byte
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendBytes(b, m.EncryptedScope)
		if m.TTL > 0 {
			secs := m.TTL.Seconds()
			if secs > float64(^uint32(0)) {
				return nil, fmt.Errorf("begin-transaction: ttl %s does not fit u32 seconds", m.TTL)
			}
			b = protowire.AppendTag(b, 2, protowire.VarintType)
			b = protowire.AppendVarint(b, uint64(secs))
		}
		return frame(byte(D2mBeginTransaction), b), nil

	case *CommitTransaction:
		return frame(byte(D2mCommitTransaction), nil), nil

	case *Reflect:
		b := make([]byte, reflectHeaderLength, reflectHeaderLength+len(m.Envelope))
		b[0] = reflectHeaderLength
		binary.LittleEndian.PutUint16(b[2:4], uint16(m.Flags))
		binary.LittleEndian.PutUint32(b[4:8], uint32(m.ReflectID))
		return frame(byte(D2mReflect), append(b, m.Envelope...)), nil

	case *ReflectedAck:
		b := make([]byte, reflectedAckLength)
		binary.LittleEndian.PutUint32(b[4:8], uint32(m.ReflectedID))
		return frame(byte(D2mReflectedAck), b), nil

	case *GetDevicesInfo:
		return frame(byte(D2mGetDevicesInfo), nil), nil

	case *DropDevice:
		var b []byte
		b = protowire.AppendTag(b, 1, protowire.Fixed64Type)
		b = protowire.AppendFixed64(b, uint64(m.DeviceID))
		return frame(byte(D2mDropDevice), b), nil

	case *SetSharedDeviceData:
		var b []byte
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendBytes(b, m.Data)
		return frame(byte(D2mSetSharedDeviceData), b), nil

	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownPayload, msg)
	}
}

func clone(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
