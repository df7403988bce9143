package protocol

import (
	"encoding/binary"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/google/uuid"
)

// Edit is a parsed set voxel or erase voxel packet.
type Edit struct {
	Type     Type
	Sequence uint16
	SentAt   uint64
	Source   uuid.UUID

	// Records are the repeated code and RGB records of the edit.
	Records []byte
}

// Destructive reports whether the edit may replace elements with children.
func (e Edit) Destructive() bool {
	return e.Type == TypeSetVoxelDestructive
}

// MarshalEdit returns the packet of an edit.
func MarshalEdit(e Edit) ([]byte, error) {
	if !isEdit(e.Type) {
		return nil, errors.New("not an edit packet type").
			WithType(ErrTypeUnknownPacket).
			WithTag("type", e.Type)
	}

	b := make([]byte, 0, HeaderSize+2+8+16+len(e.Records))
	b = AppendHeader(b, e.Type)
	b = binary.LittleEndian.AppendUint16(b, e.Sequence)
	b = binary.LittleEndian.AppendUint64(b, e.SentAt)
	b = append(b, e.Source[:]...)
	return append(b, e.Records...), nil
}

// ParseEdit parses the payload of an edit packet of type t. Records alias
// the payload.
func ParseEdit(t Type, payload []byte) (Edit, error) {
	if !isEdit(t) {
		return Edit{}, errors.New("not an edit packet type").
			WithType(ErrTypeUnknownPacket).
			WithTag("type", t)
	}

	r := reader{data: payload}
	e := Edit{
		Type:     t,
		Sequence: r.uint16("sequence"),
		SentAt:   r.uint64("sent_at"),
		Source:   r.uuid("source"),
		Records:  r.rest(),
	}
	if r.err != nil {
		return Edit{}, r.err
	}
	return e, nil
}

func isEdit(t Type) bool {
	switch t {
	case TypeSetVoxel, TypeSetVoxelDestructive, TypeEraseVoxel:
		return true
	default:
		return false
	}
}
