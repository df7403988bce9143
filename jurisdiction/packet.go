package jurisdiction

import (
	"crypto/ecdsa"
	"encoding/binary"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/octree-server/octcode"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

const (
	// ErrTypePacket is the error type of malformed jurisdiction packets.
	ErrTypePacket = "jurisdiction_packet_error"

	signatureSize = 65
)

// NodeType identifies the kind of server that sent a jurisdiction packet.
type NodeType byte

const (
	NodeTypeOctreeServer NodeType = 'O'
	NodeTypeEntityServer NodeType = 'o'
)

// Packet is a decoded jurisdiction packet.
type Packet struct {
	NodeType NodeType
	Map      *Map

	// Signed reports whether the packet carried a valid signature, in which
	// case Signer is the address of the signing key.
	Signed bool
	Signer common.Address
}

// AppendCodes appends the binary form of the jurisdiction codes to b: the
// root length and bytes, zero for an unknown jurisdiction, then the end node
// count followed by each end node length and bytes.
func (m *Map) AppendCodes(b []byte) []byte {
	if !m.HasRoot() {
		return append(b, 0)
	}

	n := m.root.Bytes()
	b = append(b, byte(n))
	b = append(b, m.root[:n]...)

	b = binary.LittleEndian.AppendUint16(b, uint16(len(m.endNodes)))
	for _, e := range m.endNodes {
		n := e.Bytes()
		b = append(b, byte(n))
		b = append(b, e[:n]...)
	}
	return b
}

// ReadCodes reads codes written by AppendCodes at the start of data. It
// returns the map and the number of bytes read.
func ReadCodes(data []byte) (*Map, int, error) {
	m := New(nil)
	offset := 0

	readCode := func(what string) (octcode.Code, error) {
		if offset >= len(data) {
			return nil, errors.Newf("jurisdiction truncated before %s", what).
				WithType(ErrTypePacket)
		}
		n := int(data[offset])
		offset++
		if offset+n > len(data) {
			return nil, errors.Newf("jurisdiction truncated in %s", what).
				WithType(ErrTypePacket).
				WithTag("size", n)
		}

		code, read, err := octcode.Read(data[offset : offset+n])
		if err != nil {
			return nil, errors.Newf("invalid %s in jurisdiction", what).
				WithType(ErrTypePacket).
				Wrap(err)
		}
		if read != n {
			return nil, errors.Newf("%s length mismatch in jurisdiction", what).
				WithType(ErrTypePacket).
				WithTag("size", n).
				WithTag("code_size", read)
		}
		offset += n
		return code.Clone(), nil
	}

	if len(data) == 0 {
		return nil, 0, errors.New("empty jurisdiction").
			WithType(ErrTypePacket)
	}
	if data[0] == 0 {
		return m, 1, nil
	}

	root, err := readCode("root")
	if err != nil {
		return nil, 0, err
	}
	m.root = root

	if offset+2 > len(data) {
		return nil, 0, errors.New("jurisdiction truncated before end node count").
			WithType(ErrTypePacket)
	}
	count := int(binary.LittleEndian.Uint16(data[offset:]))
	offset += 2

	for i := 0; i < count; i++ {
		e, err := readCode("end node")
		if err != nil {
			return nil, 0, err
		}
		m.endNodes = append(m.endNodes, e)
	}
	return m, offset, nil
}

// MarshalPacket serializes the jurisdiction behind a node type byte. When
// key is not nil, a signature over the keccak256 hash of the serialized
// jurisdiction is appended.
func (m *Map) MarshalPacket(nodeType NodeType, key *ecdsa.PrivateKey) ([]byte, error) {
	b := m.AppendCodes([]byte{byte(nodeType)})
	if key == nil {
		return b, nil
	}

	sig, err := crypto.Sign(crypto.Keccak256(b), key)
	if err != nil {
		return nil, errors.New("signing jurisdiction packet failed").
			WithType(ErrTypePacket).
			Wrap(err)
	}
	return append(b, sig...), nil
}

// UnmarshalPacket decodes a packet produced by MarshalPacket.
func UnmarshalPacket(data []byte) (Packet, error) {
	if len(data) < 2 {
		return Packet{}, errors.New("jurisdiction packet too short").
			WithType(ErrTypePacket).
			WithTag("size", len(data))
	}

	m, n, err := ReadCodes(data[1:])
	if err != nil {
		return Packet{}, err
	}
	p := Packet{
		NodeType: NodeType(data[0]),
		Map:      m,
	}
	offset := 1 + n

	switch rest := len(data) - offset; rest {
	case 0:
	case signatureSize:
		pub, err := crypto.SigToPub(crypto.Keccak256(data[:offset]), data[offset:])
		if err != nil {
			return Packet{}, errors.New("invalid jurisdiction packet signature").
				WithType(ErrTypePacket).
				Wrap(err)
		}
		p.Signed = true
		p.Signer = crypto.PubkeyToAddress(*pub)

	default:
		return Packet{}, errors.New("unexpected trailing bytes in jurisdiction packet").
			WithType(ErrTypePacket).
			WithTag("size", rest)
	}

	return p, nil
}
