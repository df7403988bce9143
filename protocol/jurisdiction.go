package protocol

import (
	"crypto/ecdsa"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/octree-server/jurisdiction"
	"github.com/aukilabs/octree-server/stats"
)

// MarshalJurisdictionRequest returns a packet asking a server for its
// jurisdiction.
func MarshalJurisdictionRequest() []byte {
	return AppendHeader(nil, TypeJurisdictionRequest)
}

// MarshalJurisdiction returns the jurisdiction packet of a server, signed
// with key when key is not nil.
func MarshalJurisdiction(m *jurisdiction.Map, nodeType jurisdiction.NodeType, key *ecdsa.PrivateKey) ([]byte, error) {
	body, err := m.MarshalPacket(nodeType, key)
	if err != nil {
		return nil, err
	}
	return append(AppendHeader(make([]byte, 0, HeaderSize+len(body)), TypeJurisdiction), body...), nil
}

// ParseJurisdiction parses the payload of a jurisdiction packet.
func ParseJurisdiction(payload []byte) (jurisdiction.Packet, error) {
	p, err := jurisdiction.UnmarshalPacket(payload)
	if err != nil {
		return jurisdiction.Packet{}, errors.New("parsing jurisdiction packet failed").
			WithType(ErrTypeMalformed).
			Wrap(err)
	}
	return p, nil
}

// MarshalStats returns the stats packet of the last completed scene.
func MarshalStats(s *stats.SceneStats) []byte {
	msg := s.Message()
	return append(AppendHeader(make([]byte, 0, HeaderSize+len(msg)), TypeOctreeStats), msg...)
}

// ParseStats parses the payload of a stats packet into s.
func ParseStats(payload []byte, s *stats.SceneStats) error {
	if _, err := s.Unpack(payload); err != nil {
		return errors.New("parsing stats packet failed").
			WithType(ErrTypeMalformed).
			Wrap(err)
	}
	return nil
}
