package protocol

import (
	"errors"
	"fmt"
	"time"
)

// Common errors.
var (
	ErrMalformedFrame    = errors.New("malformed frame")
	ErrUnknownPayload    = errors.New("unknown payload type")
	ErrUnexpectedPayload = errors.New("unexpected payload type")
)

// D2mPayloadType is the payload type of a device-to-mediator frame.
type D2mPayloadType byte

// Device-to-mediator payload types.
const (
	D2mProxy                D2mPayloadType = 0x00
	D2mServerHello          D2mPayloadType = 0x10
	D2mClientHello          D2mPayloadType = 0x11
	D2mServerInfo           D2mPayloadType = 0x12
	D2mReflectionQueueDry   D2mPayloadType = 0x20
	D2mRolePromotedToLeader D2mPayloadType = 0x21
	D2mGetDevicesInfo       D2mPayloadType = 0x30
	D2mDevicesInfo          D2mPayloadType = 0x31
	D2mDropDevice           D2mPayloadType = 0x32
	D2mDropDeviceAck        D2mPayloadType = 0x33
	D2mSetSharedDeviceData  D2mPayloadType = 0x34
	D2mBeginTransaction     D2mPayloadType = 0x40
	D2mBeginTransactionAck  D2mPayloadType = 0x41
	D2mCommitTransaction    D2mPayloadType = 0x42
	D2mCommitTransactionAck D2mPayloadType = 0x43
	D2mTransactionRejected  D2mPayloadType = 0x44
	D2mTransactionEnded     D2mPayloadType = 0x45
	D2mReflect              D2mPayloadType = 0x80
	D2mReflectAck           D2mPayloadType = 0x81
	D2mReflected            D2mPayloadType = 0x82
	D2mReflectedAck         D2mPayloadType = 0x83
)

var d2mPayloadNames = map[D2mPayloadType]string{
	D2mProxy:                "proxy",
	D2mServerHello:          "server-hello",
	D2mClientHello:          "client-hello",
	D2mServerInfo:           "server-info",
	D2mReflectionQueueDry:   "reflection-queue-dry",
	D2mRolePromotedToLeader: "role-promoted-to-leader",
	D2mGetDevicesInfo:       "get-devices-info",
	D2mDevicesInfo:          "devices-info",
	D2mDropDevice:           "drop-device",
	D2mDropDeviceAck:        "drop-device-ack",
	D2mSetSharedDeviceData:  "set-shared-device-data",
	D2mBeginTransaction:     "begin-transaction",
	D2mBeginTransactionAck:  "begin-transaction-ack",
	D2mCommitTransaction:    "commit-transaction",
	D2mCommitTransactionAck: "commit-transaction-ack",
	D2mTransactionRejected:  "transaction-rejected",
	D2mTransactionEnded:     "transaction-ended",
	D2mReflect:              "reflect",
	D2mReflectAck:           "reflect-ack",
	D2mReflected:            "reflected",
	D2mReflectedAck:         "reflected-ack",
}

// String returns the payload name, or its hex value if unknown.
func (t D2mPayloadType) String() string {
	if name, ok := d2mPayloadNames[t]; ok {
		return name
	}
	return fmt.Sprintf("d2m(0x%02x)", byte(t))
}

// DeviceID identifies a device slot of the device group on the mediator.
type DeviceID uint64

// String formats the id as zero-padded hex.
func (id DeviceID) String() string { return fmt.Sprintf("%016x", uint64(id)) }

// ReflectID numbers reflected messages per connection. It may wrap.
type ReflectID uint32

// InboundMessage is a message received from the mediator server.
type InboundMessage interface {
	// Name returns the payload name for logging.
	Name() string
	inbound()
}

// OutboundMessage is a message sent to the mediator server.
type OutboundMessage interface {
	// Name returns the payload name for logging.
	Name() string
	outbound()
}

// ReflectFlags modify how the mediator stores a reflected message.
type ReflectFlags uint16

// ReflectFlagEphemeral marks a reflection the mediator must not queue for
// offline devices.
const ReflectFlagEphemeral ReflectFlags = 0x0001

// --- inbound d2m ---

// ServerHello starts the mediator handshake. The payload is kept opaque.
type ServerHello struct{ Payload []byte }

// ServerInfo carries mediator session information. The payload is kept opaque.
type ServerInfo struct{ Payload []byte }

// ReflectionQueueDry signals that all queued reflections have been delivered.
type ReflectionQueueDry struct{}

// RolePromotedToLeader signals that this device now holds the leader role.
type RolePromotedToLeader struct{}

// DevicesInfo lists the devices of the group. The payload is kept opaque.
type DevicesInfo struct{ Payload []byte }

// DropDeviceAck confirms a DropDevice request.
type DropDeviceAck struct{ Payload []byte }

// BeginTransactionAck confirms that the device group lock was acquired.
type BeginTransactionAck struct{}

// CommitTransactionAck confirms that the device group lock was released.
type CommitTransactionAck struct{}

// TransactionRejected reports that another device holds the device group lock.
type TransactionRejected struct {
	DeviceID       DeviceID
	EncryptedScope []byte
}

// TransactionEnded reports that another device released the device group lock.
type TransactionEnded struct {
	DeviceID       DeviceID
	EncryptedScope []byte
}

// ReflectAck confirms that a Reflect was stored in the reflection queues.
type ReflectAck struct {
	ReflectID ReflectID
	// Timestamp is milliseconds since the Unix epoch.
	Timestamp uint64
}

// Time converts the ack timestamp.
func (m *ReflectAck) Time() time.Time { return time.UnixMilli(int64(m.Timestamp)) }

// Reflected is a message reflected by another device of the group.
type Reflected struct {
	Flags       ReflectFlags
	ReflectedID ReflectID
	// Timestamp is milliseconds since the Unix epoch.
	Timestamp uint64
	Envelope  []byte
}

func (*ServerHello) inbound()          {}
func (*ServerInfo) inbound()           {}
func (*ReflectionQueueDry) inbound()   {}
func (*RolePromotedToLeader) inbound() {}
func (*DevicesInfo) inbound()          {}
func (*DropDeviceAck) inbound()        {}
func (*BeginTransactionAck) inbound()  {}
func (*CommitTransactionAck) inbound() {}
func (*TransactionRejected) inbound()  {}
func (*TransactionEnded) inbound()     {}
func (*ReflectAck) inbound()           {}
func (*Reflected) inbound()            {}

func (*ServerHello) Name() string          { return D2mServerHello.String() }
func (*ServerInfo) Name() string           { return D2mServerInfo.String() }
func (*ReflectionQueueDry) Name() string   { return D2mReflectionQueueDry.String() }
func (*RolePromotedToLeader) Name() string { return D2mRolePromotedToLeader.String() }
func (*DevicesInfo) Name() string          { return D2mDevicesInfo.String() }
func (*DropDeviceAck) Name() string        { return D2mDropDeviceAck.String() }
func (*BeginTransactionAck) Name() string  { return D2mBeginTransactionAck.String() }
func (*CommitTransactionAck) Name() string { return D2mCommitTransactionAck.String() }
func (*TransactionRejected) Name() string  { return D2mTransactionRejected.String() }
func (*TransactionEnded) Name() string     { return D2mTransactionEnded.String() }
func (*ReflectAck) Name() string           { return D2mReflectAck.String() }
func (*Reflected) Name() string            { return D2mReflected.String() }

// --- outbound d2m ---

// BeginTransaction requests the device group lock for EncryptedScope.
type BeginTransaction struct {
	EncryptedScope []byte
	// TTL bounds how long the mediator keeps the lock. Zero means the
	// server maximum.
	TTL time.Duration
}

// CommitTransaction releases the device group lock.
type CommitTransaction struct{}

// Reflect mirrors an encrypted envelope to the other devices of the group.
type Reflect struct {
	Flags     ReflectFlags
	ReflectID ReflectID
	Envelope  []byte
}

// ReflectedAck confirms that a Reflected message has been processed.
type ReflectedAck struct {
	ReflectedID ReflectID
}

// GetDevicesInfo requests the DevicesInfo of the group.
type GetDevicesInfo struct{}

// DropDevice frees the slot of another device.
type DropDevice struct {
	DeviceID DeviceID
}

// SetSharedDeviceData replaces the encrypted data shared among devices.
type SetSharedDeviceData struct {
	Data []byte
}

func (*BeginTransaction) outbound()    {}
func (*CommitTransaction) outbound()   {}
func (*Reflect) outbound()             {}
func (*ReflectedAck) outbound()        {}
func (*GetDevicesInfo) outbound()      {}
func (*DropDevice) outbound()          {}
func (*SetSharedDeviceData) outbound() {}

func (*BeginTransaction) Name() string    { return D2mBeginTransaction.String() }
func (*CommitTransaction) Name() string   { return D2mCommitTransaction.String() }
func (*Reflect) Name() string             { return D2mReflect.String() }
func (*ReflectedAck) Name() string        { return D2mReflectedAck.String() }
func (*GetDevicesInfo) Name() string      { return D2mGetDevicesInfo.String() }
func (*DropDevice) Name() string          { return D2mDropDevice.String() }
func (*SetSharedDeviceData) Name() string { return D2mSetSharedDeviceData.String() }
