package jurisdiction

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/octree-server/octcode"
	"gopkg.in/ini.v1"
	"gopkg.in/yaml.v3"
)

const (
	// ErrTypeFile is the error type of unreadable or invalid jurisdiction
	// files.
	ErrTypeFile = "jurisdiction_file_error"

	rootKey         = "root"
	endNodesSection = "endNodes"
	endNodeKey      = "endnode%d"
)

type yamlFile struct {
	Root     string   `yaml:"root"`
	EndNodes []string `yaml:"endNodes,omitempty"`
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	default:
		return false
	}
}

// LoadFile reads a jurisdiction file. Files ending in .yaml or .yml are read
// as YAML, anything else as INI.
func LoadFile(path string) (*Map, error) {
	var root string
	var endNodes []string

	if isYAML(path) {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.New("reading jurisdiction file failed").
				WithType(ErrTypeFile).
				WithTag("path", path).
				Wrap(err)
		}

		var f yamlFile
		if err := yaml.Unmarshal(data, &f); err != nil {
			return nil, errors.New("parsing jurisdiction file failed").
				WithType(ErrTypeFile).
				WithTag("path", path).
				Wrap(err)
		}
		root, endNodes = f.Root, f.EndNodes
	} else {
		cfg, err := ini.Load(path)
		if err != nil {
			return nil, errors.New("loading jurisdiction file failed").
				WithType(ErrTypeFile).
				WithTag("path", path).
				Wrap(err)
		}

		root = cfg.Section(ini.DefaultSection).Key(rootKey).String()

		keys := cfg.Section(endNodesSection).Keys()
		sort.SliceStable(keys, func(i, j int) bool {
			return endNodeIndex(keys[i].Name()) < endNodeIndex(keys[j].Name())
		})
		for _, k := range keys {
			endNodes = append(endNodes, k.String())
		}
	}

	if root == "" {
		return nil, errors.New("jurisdiction file has no root").
			WithType(ErrTypeFile).
			WithTag("path", path)
	}

	m, err := Parse(root, strings.Join(endNodes, ","))
	if err != nil {
		return nil, errors.New("invalid jurisdiction file").
			WithType(ErrTypeFile).
			WithTag("path", path).
			Wrap(err)
	}
	return m, nil
}

func endNodeIndex(key string) int {
	var i int
	if _, err := fmt.Sscanf(key, endNodeKey, &i); err != nil {
		return -1
	}
	return i
}

// SaveFile writes the map to a jurisdiction file, in the format chosen by
// the file extension like LoadFile.
func (m *Map) SaveFile(path string) error {
	if !m.HasRoot() {
		return errors.New("saving an unknown jurisdiction").
			WithType(ErrTypeFile).
			WithTag("path", path)
	}

	if isYAML(path) {
		f := yamlFile{Root: m.root.String()}
		for _, e := range m.endNodes {
			f.EndNodes = append(f.EndNodes, e.String())
		}

		data, err := yaml.Marshal(f)
		if err != nil {
			return errors.New("encoding jurisdiction file failed").
				WithType(ErrTypeFile).
				Wrap(err)
		}
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return errors.New("writing jurisdiction file failed").
				WithType(ErrTypeFile).
				WithTag("path", path).
				Wrap(err)
		}
		return nil
	}

	cfg := ini.Empty()
	cfg.Section(ini.DefaultSection).Key(rootKey).SetValue(m.root.String())

	section := cfg.Section(endNodesSection)
	for i, e := range m.endNodes {
		section.Key(fmt.Sprintf(endNodeKey, i)).SetValue(e.String())
	}

	if err := cfg.SaveTo(path); err != nil {
		return errors.New("writing jurisdiction file failed").
			WithType(ErrTypeFile).
			WithTag("path", path).
			Wrap(err)
	}
	return nil
}

// Codes returns the root followed by the end nodes.
func (m *Map) Codes() []octcode.Code {
	if !m.HasRoot() {
		return nil
	}
	return append([]octcode.Code{m.root}, m.endNodes...)
}
