package protocol

import (
	"encoding/binary"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/octree-server/frustum"
	"github.com/aukilabs/octree-server/octree"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/segmentio/encoding/json"
)

// DefaultMaxPacketsPerSecond is the packet rate a client gets when its query
// does not ask for one.
const DefaultMaxPacketsPerSecond = 600

// Query is what a client wants to receive: its view and the encoding
// options applied to the elements sent to it.
type Query struct {
	UsesFrustum          bool
	WantColor            bool
	WantDelta            bool
	WantLowResMoving     bool
	WantOcclusionCulling bool
	WantCompression      bool

	Position          mgl32.Vec3
	Orientation       mgl32.Quat
	FieldOfView       float32
	AspectRatio       float32
	NearClip          float32
	FarClip           float32
	EyeOffsetPosition mgl32.Vec3

	MaxPacketsPerSecond int32
	SizeScale           float32
	BoundaryLevelAdjust int32
	KeyholeRadius       float32

	// Filter is an optional JSON object of application defined options.
	Filter map[string]any
}

// DefaultQuery returns the query of a client with a default camera that
// wants colors, deltas and compression.
func DefaultQuery() Query {
	f := frustum.New()
	return Query{
		UsesFrustum:         true,
		WantColor:           true,
		WantDelta:           true,
		WantCompression:     true,
		Orientation:         f.Orientation,
		FieldOfView:         f.FieldOfView,
		AspectRatio:         f.AspectRatio,
		NearClip:            f.NearClip,
		FarClip:             f.FarClip,
		MaxPacketsPerSecond: DefaultMaxPacketsPerSecond,
		SizeScale:           octree.DefaultOctreeSizeScale,
		KeyholeRadius:       f.KeyholeRadius,
	}
}

// Frustum returns the calculated view frustum of the query.
func (q Query) Frustum() *frustum.ViewFrustum {
	f := frustum.New()
	f.Position = q.Position
	f.Orientation = q.Orientation
	f.FieldOfView = q.FieldOfView
	f.AspectRatio = q.AspectRatio
	f.NearClip = q.NearClip
	f.FarClip = q.FarClip
	f.EyeOffsetPosition = q.EyeOffsetPosition
	f.KeyholeRadius = q.KeyholeRadius
	f.Calculate()
	return f
}

// MarshalQuery returns the query packet of q.
func MarshalQuery(q Query) ([]byte, error) {
	var filter []byte
	if len(q.Filter) != 0 {
		var err error
		if filter, err = json.Marshal(q.Filter); err != nil {
			return nil, errors.New("encoding query filter failed").
				WithType(ErrTypeMalformed).
				Wrap(err)
		}
	}
	if len(filter) > 0xFFFF {
		return nil, errors.New("query filter too large").
			WithType(ErrTypeMalformed).
			WithTag("size", len(filter))
	}

	b := make([]byte, 0, 96+len(filter))
	b = AppendHeader(b, TypeQuery)
	b = appendBool(b, q.UsesFrustum)
	b = appendBool(b, q.WantColor)
	b = appendBool(b, q.WantDelta)
	b = appendBool(b, q.WantLowResMoving)
	b = appendBool(b, q.WantOcclusionCulling)
	b = appendBool(b, q.WantCompression)
	b = appendVec3(b, q.Position)
	b = appendQuat(b, q.Orientation)
	b = appendFloat32(b, q.FieldOfView)
	b = appendFloat32(b, q.AspectRatio)
	b = appendFloat32(b, q.NearClip)
	b = appendFloat32(b, q.FarClip)
	b = appendVec3(b, q.EyeOffsetPosition)
	b = binary.LittleEndian.AppendUint32(b, uint32(q.MaxPacketsPerSecond))
	b = appendFloat32(b, q.SizeScale)
	b = binary.LittleEndian.AppendUint32(b, uint32(q.BoundaryLevelAdjust))
	b = appendFloat32(b, q.KeyholeRadius)
	b = binary.LittleEndian.AppendUint16(b, uint16(len(filter)))
	return append(b, filter...), nil
}

// ParseQuery parses the payload of a query packet.
func ParseQuery(payload []byte) (Query, error) {
	r := reader{data: payload}
	q := Query{
		UsesFrustum:          r.bool("uses_frustum"),
		WantColor:            r.bool("want_color"),
		WantDelta:            r.bool("want_delta"),
		WantLowResMoving:     r.bool("want_low_res_moving"),
		WantOcclusionCulling: r.bool("want_occlusion_culling"),
		WantCompression:      r.bool("want_compression"),
		Position:             r.vec3("position"),
		Orientation:          r.quat("orientation"),
		FieldOfView:          r.float32("field_of_view"),
		AspectRatio:          r.float32("aspect_ratio"),
		NearClip:             r.float32("near_clip"),
		FarClip:              r.float32("far_clip"),
		EyeOffsetPosition:    r.vec3("eye_offset_position"),
		MaxPacketsPerSecond:  int32(r.uint32("max_pps")),
		SizeScale:            r.float32("size_scale"),
		BoundaryLevelAdjust:  int32(r.uint32("boundary_level_adjust")),
		KeyholeRadius:        r.float32("keyhole_radius"),
	}
	filter := r.next(int(r.uint16("filter_size")), "filter")
	if r.err != nil {
		return Query{}, r.err
	}

	if len(filter) != 0 {
		if err := json.Unmarshal(filter, &q.Filter); err != nil {
			return Query{}, errors.New("invalid query filter").
				WithType(ErrTypeMalformed).
				Wrap(err)
		}
	}
	if q.MaxPacketsPerSecond <= 0 {
		q.MaxPacketsPerSecond = DefaultMaxPacketsPerSecond
	}
	if q.SizeScale <= 0 {
		q.SizeScale = octree.DefaultOctreeSizeScale
	}
	return q, nil
}
