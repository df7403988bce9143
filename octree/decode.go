package octree

import (
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/octree-server/octcode"
	"github.com/google/uuid"
)

// ErrTypeBitstream is the error type of truncated or corrupt bitstreams.
const ErrTypeBitstream = "malformed_bitstream"

// Gray is the color given to elements decoded from a bitstream without
// colors.
var Gray = Color{R: 128, G: 128, B: 128}

// ReadParams configures the decode of a bitstream. It must match the
// EncodeParams the bitstream was written with.
type ReadParams struct {
	IncludeColor      bool
	IncludeExistsBits bool

	// SourceUUID identifies the node the bitstream came from.
	SourceUUID uuid.UUID
}

// ReadBitstreamToTree decodes the root relative subtrees of data into the
// tree under the write lock. On truncated or corrupt data the remainder is
// skipped and an error is returned. Subtrees decoded before the fault are
// kept.
func (t *Tree) ReadBitstreamToTree(data []byte, params ReadParams) error {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	err := t.readBitstreamToTree(data, params)
	instrumentDecode(err)
	instrumentElements(t.elements.Load())
	return err
}

func (t *Tree) readBitstreamToTree(data []byte, params ReadParams) error {
	offset := 0
	for offset < len(data) {
		code, n, err := octcode.Read(data[offset:])
		if err != nil {
			return errors.New("reading subtree code failed").
				WithType(ErrTypeBitstream).
				WithTag("offset", offset).
				Wrap(err)
		}
		if code.Sections() > UnreasonablyDeepRecursion {
			decodeGuard.trip(code.Sections())
			return errors.New("subtree code too deep").
				WithType(ErrTypeBitstream).
				WithTag("offset", offset).
				WithTag("sections", code.Sections())
		}

		e := t.deepestElementForCode(t.root, code)
		if e.Level() != code.Sections() {
			e = t.createMissingElement(t.root, code)
		}
		offset += n

		read, err := t.readElementData(e, data[offset:], params)
		offset += read
		if err != nil {
			return errors.New("reading subtree failed").
				WithType(ErrTypeBitstream).
				WithTag("code", code).
				WithTag("offset", offset).
				Wrap(err)
		}
	}
	return nil
}

func errTruncated(what string, e *Element) error {
	return errors.Newf("bitstream truncated before %s", what).
		WithType(ErrTypeBitstream).
		WithTag("code", e.code)
}

// readElementData reads the masks, payloads and subtrees of the children of
// e and returns the number of bytes read.
func (t *Tree) readElementData(e *Element, data []byte, params ReadParams) (int, error) {
	if e.Level() > UnreasonablyDeepRecursion {
		decodeGuard.trip(e.Level())
		return 0, errors.New("bitstream too deep").
			WithType(ErrTypeBitstream).
			WithTag("code", e.code)
	}

	if len(data) == 0 {
		return 0, errTruncated("colored mask", e)
	}
	coloredBits := data[0]
	read := 1

	for i := 0; i < NumberOfChildren; i++ {
		if coloredBits&bit(i) == 0 {
			continue
		}

		child := e.AddChildAtIndex(i)
		if params.IncludeColor {
			n, err := child.ReadElementData(data[read:])
			read += n
			if err != nil {
				return read, err
			}
		} else {
			child.SetColor(Gray)
		}
		child.SetSourceUUID(params.SourceUUID)

		if e.IsDirty() || child.IsDirty() {
			t.dirty = true
		}
	}

	masks := 1
	if params.IncludeExistsBits {
		masks = 2
	}
	if len(data)-read < masks {
		return read, errTruncated("child masks", e)
	}

	existsInTreeBits := byte(0xFF)
	if params.IncludeExistsBits {
		existsInTreeBits = data[read]
		read++
	}
	existsInPacketBits := data[read]
	read++

	for i := 0; i < NumberOfChildren && read < len(data); i++ {
		if existsInPacketBits&bit(i) == 0 {
			continue
		}

		child := e.AddChildAtIndex(i)
		if e.IsDirty() {
			t.dirty = true
		}

		n, err := t.readElementData(child, data[read:], params)
		read += n
		if err != nil {
			return read, err
		}
	}

	if params.IncludeExistsBits {
		for i := 0; i < NumberOfChildren; i++ {
			if existsInTreeBits&bit(i) == 0 && e.children[i] != nil {
				e.SafeDeepDeleteChildAtIndex(i)
				t.dirty = true
			}
		}
	}
	return read, nil
}
