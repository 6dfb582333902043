package archive

import (
	"fmt"
	"time"

	cbor "github.com/fxamacker/cbor/v2"
)

// record is the on-disk layout shared by all persistent backends.
type record struct {
	ID         string `cbor:"1,keyasint"`
	Kind       string `cbor:"2,keyasint"`
	Payload    []byte `cbor:"3,keyasint,omitempty"`
	ArchivedAt int64  `cbor:"4,keyasint"`
	Sequence   uint64 `cbor:"5,keyasint,omitempty"`
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	if encMode, err = cbor.CanonicalEncOptions().EncMode(); err != nil {
		panic(err)
	}
	if decMode, err = (cbor.DecOptions{}).DecMode(); err != nil {
		panic(err)
	}
}

func encodeRecord(task ArchivedTask, seq uint64) ([]byte, error) {
	return encMode.Marshal(record{
		ID:         task.ID,
		Kind:       task.Kind,
		Payload:    task.Payload,
		ArchivedAt: task.ArchivedAt.UnixMilli(),
		Sequence:   seq,
	})
}

func decodeRecord(data []byte) (ArchivedTask, uint64, error) {
	var r record
	if err := decMode.Unmarshal(data, &r); err != nil {
		return ArchivedTask{}, 0, fmt.Errorf("decode archived task: %w", err)
	}
	task := ArchivedTask{
		ID:         r.ID,
		Kind:       r.Kind,
		Payload:    r.Payload,
		ArchivedAt: time.UnixMilli(r.ArchivedAt),
	}
	if err := task.Validate(); err != nil {
		return ArchivedTask{}, 0, fmt.Errorf("decode archived task: %w", err)
	}
	return task, r.Sequence, nil
}
