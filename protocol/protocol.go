// Package protocol implements the binary packets exchanged between the octree
// server and its clients. Every packet starts with a type byte and a version
// byte. Multi-byte values are little-endian.
package protocol

import (
	"encoding/binary"
	"math"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/octree-server/packet"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/google/uuid"
)

const (
	// ErrTypeMalformed is the error type of truncated or inconsistent
	// packets.
	ErrTypeMalformed = "malformed_packet"

	// ErrTypeUnknownPacket is the error type of packets with an unknown type
	// or version.
	ErrTypeUnknownPacket = "unknown_packet"

	// Version is the version written in every packet header.
	Version = 1

	// HeaderSize is the size of the type and version header.
	HeaderSize = 2

	// MaxPacketSize is the largest packet the server sends.
	MaxPacketSize = packet.MaxPacketSize
)

// Type identifies a packet.
type Type byte

const (
	TypeUnknown Type = iota
	TypeOctreeData
	TypeOctreeStats
	TypeQuery
	TypeNack
	TypeJurisdiction
	TypeJurisdictionRequest
	TypeSetVoxel
	TypeSetVoxelDestructive
	TypeEraseVoxel
)

var typeNames = [...]string{
	TypeUnknown:             "unknown",
	TypeOctreeData:          "octree_data",
	TypeOctreeStats:         "octree_stats",
	TypeQuery:               "query",
	TypeNack:                "nack",
	TypeJurisdiction:        "jurisdiction",
	TypeJurisdictionRequest: "jurisdiction_request",
	TypeSetVoxel:            "set_voxel",
	TypeSetVoxelDestructive: "set_voxel_destructive",
	TypeEraseVoxel:          "erase_voxel",
}

func (t Type) String() string {
	if int(t) < len(typeNames) {
		return typeNames[t]
	}
	return typeNames[TypeUnknown]
}

// AppendHeader appends the header of a packet of type t to b.
func AppendHeader(b []byte, t Type) []byte {
	return append(b, byte(t), Version)
}

// ReadHeader reads the header of a packet. It returns the packet type and
// the payload that follows the header.
func ReadHeader(data []byte) (Type, []byte, error) {
	if len(data) < HeaderSize {
		return TypeUnknown, nil, errors.New("packet shorter than its header").
			WithType(ErrTypeMalformed).
			WithTag("size", len(data))
	}

	t := Type(data[0])
	if t == TypeUnknown || int(t) >= len(typeNames) {
		return t, nil, errors.New("unknown packet type").
			WithType(ErrTypeUnknownPacket).
			WithTag("type", data[0])
	}
	if data[1] != Version {
		return t, nil, errors.New("unsupported packet version").
			WithType(ErrTypeUnknownPacket).
			WithTag("type", t).
			WithTag("version", data[1])
	}
	return t, data[HeaderSize:], nil
}

// PacketType returns the type of a packet, or TypeUnknown when the packet is
// too short to tell.
func PacketType(data []byte) Type {
	if len(data) == 0 || int(data[0]) >= len(typeNames) {
		return TypeUnknown
	}
	return Type(data[0])
}

// reader reads little-endian values from a payload. The first out of bounds
// read sets err, after which every read returns zero values.
type reader struct {
	data   []byte
	offset int
	err    error
}

func (r *reader) next(n int, field string) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || r.offset+n > len(r.data) {
		r.err = errors.New("packet truncated").
			WithType(ErrTypeMalformed).
			WithTag("field", field).
			WithTag("offset", r.offset).
			WithTag("size", len(r.data))
		return nil
	}

	b := r.data[r.offset : r.offset+n]
	r.offset += n
	return b
}

func (r *reader) uint8(field string) uint8 {
	if b := r.next(1, field); b != nil {
		return b[0]
	}
	return 0
}

func (r *reader) bool(field string) bool {
	return r.uint8(field) != 0
}

func (r *reader) uint16(field string) uint16 {
	if b := r.next(2, field); b != nil {
		return binary.LittleEndian.Uint16(b)
	}
	return 0
}

func (r *reader) uint32(field string) uint32 {
	if b := r.next(4, field); b != nil {
		return binary.LittleEndian.Uint32(b)
	}
	return 0
}

func (r *reader) uint64(field string) uint64 {
	if b := r.next(8, field); b != nil {
		return binary.LittleEndian.Uint64(b)
	}
	return 0
}

func (r *reader) float32(field string) float32 {
	return math.Float32frombits(r.uint32(field))
}

func (r *reader) vec3(field string) mgl32.Vec3 {
	return mgl32.Vec3{r.float32(field), r.float32(field), r.float32(field)}
}

// quat reads x, y, z then w.
func (r *reader) quat(field string) mgl32.Quat {
	v := r.vec3(field)
	return mgl32.Quat{W: r.float32(field), V: v}
}

func (r *reader) uuid(field string) uuid.UUID {
	var id uuid.UUID
	if b := r.next(len(id), field); b != nil {
		copy(id[:], b)
	}
	return id
}

func (r *reader) rest() []byte {
	if r.err != nil {
		return nil
	}
	b := r.data[r.offset:]
	r.offset = len(r.data)
	return b
}

func appendBool(b []byte, v bool) []byte {
	if v {
		return append(b, 1)
	}
	return append(b, 0)
}

func appendFloat32(b []byte, v float32) []byte {
	return binary.LittleEndian.AppendUint32(b, math.Float32bits(v))
}

func appendVec3(b []byte, v mgl32.Vec3) []byte {
	b = appendFloat32(b, v[0])
	b = appendFloat32(b, v[1])
	return appendFloat32(b, v[2])
}

func appendQuat(b []byte, q mgl32.Quat) []byte {
	b = appendVec3(b, q.V)
	return appendFloat32(b, q.W)
}
