package octree

import (
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/octree-server/octcode"
	"github.com/aukilabs/octree-server/packet"
	"github.com/google/uuid"
)

// ErrTypeEdit is the error type of malformed edit data.
const ErrTypeEdit = "malformed_edit"

func readEditCode(data []byte, offset int) (octcode.Code, error) {
	code, n, err := octcode.Read(data[offset:])
	if err != nil {
		return nil, errors.New("reading edit code failed").
			WithType(ErrTypeEdit).
			WithTag("offset", offset).
			Wrap(err)
	}
	if code.Sections() > UnreasonablyDeepRecursion {
		return nil, errors.New("edit code too deep").
			WithType(ErrTypeEdit).
			WithTag("offset", offset).
			WithTag("sections", code.Sections())
	}
	if offset+n+packet.BytesPerColor > len(data) {
		return nil, errors.New("edit truncated before color").
			WithType(ErrTypeEdit).
			WithTag("offset", offset).
			WithTag("code", code)
	}
	return code, nil
}

// ProcessEditData colors the voxels of repeated code and RGB records under
// the write lock. Records are applied until the first malformed one. It
// returns the number of applied records.
func (t *Tree) ProcessEditData(data []byte, destructive bool, source uuid.UUID) (int, error) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	defer func() {
		instrumentElements(t.elements.Load())
	}()

	applied := 0
	for offset := 0; offset < len(data); {
		code, err := readEditCode(data, offset)
		if err != nil {
			instrumentEdits("set", applied)
			return applied, err
		}
		offset += code.Bytes()

		t.setVoxel(code, Color{
			R: data[offset],
			G: data[offset+1],
			B: data[offset+2],
		}, destructive, source)
		offset += packet.BytesPerColor
		applied++
	}

	instrumentEdits("set", applied)
	return applied, nil
}

// ProcessEraseData deletes the voxels of repeated code records under the
// write lock, collapsing emptied ancestors. Each code is followed by three
// ignored color bytes. It returns the number of deleted codes.
func (t *Tree) ProcessEraseData(data []byte) (int, error) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	defer func() {
		instrumentElements(t.elements.Load())
	}()

	applied := 0
	for offset := 0; offset < len(data); {
		code, err := readEditCode(data, offset)
		if err != nil {
			instrumentEdits("erase", applied)
			return applied, err
		}

		t.deleteOctalCode(code, true)
		offset += code.Bytes() + packet.BytesPerColor
		applied++
	}

	instrumentEdits("erase", applied)
	return applied, nil
}

// AppendEdit appends a code and RGB record to b.
func AppendEdit(b []byte, code octcode.Code, c Color) []byte {
	b = append(b, code[:code.Bytes()]...)
	return append(b, c.R, c.G, c.B)
}
