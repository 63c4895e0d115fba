package asset

import (
	"bufio"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
	"unicode"

	"github.com/cockroachdb/errors"
)

// TextureSlot names one of the textures a material samples
type TextureSlot string

const (
	SlotAlbedo            TextureSlot = "albedo"
	SlotEmissive          TextureSlot = "emissive"
	SlotNormal            TextureSlot = "normal"
	SlotRoughnessMetallic TextureSlot = "roughnessMetallic"
)

var textureSlots = []TextureSlot{SlotAlbedo, SlotEmissive, SlotNormal, SlotRoughnessMetallic}

type Material struct {
	Name     string
	Textures map[TextureSlot]string
}

// MaterialLibrary is the content of a material description file: the texture paths of every
// material and the material each mesh of the companion blob is drawn with
type MaterialLibrary struct {
	Materials     []Material
	MeshMaterials map[uint32]string
}

func (l *MaterialLibrary) Material(name string) (*Material, bool) {
	for i := range l.Materials {
		if l.Materials[i].Name == name {
			return &l.Materials[i], true
		}
	}
	return nil, false
}

func (l *MaterialLibrary) material(name string) *Material {
	material, ok := l.Material(name)
	if !ok {
		l.Materials = append(l.Materials, Material{Name: name, Textures: make(map[TextureSlot]string)})
		material = &l.Materials[len(l.Materials)-1]
	}
	return material
}

// cutField splits the first whitespace separated field off s
func cutField(s string) (field, rest string) {
	end := strings.IndexFunc(s, unicode.IsSpace)
	if end < 0 {
		return s, ""
	}
	return s[:end], strings.TrimSpace(s[end:])
}

// ParseMaterials reads a material description. Each non-empty line that is not a # comment is
// either
//
//	material <name> <slot> <path>
//	mesh <index> <material>
//
// where slot is albedo, emissive, normal or roughnessMetallic. A path runs to the end of its
// line. Every mesh must name a material declared somewhere in the file.
func ParseMaterials(r io.Reader) (*MaterialLibrary, error) {
	library := &MaterialLibrary{MeshMaterials: make(map[uint32]string)}

	scanner := bufio.NewScanner(r)
	lineNumber := 0
	for scanner.Scan() {
		lineNumber++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		keyword, rest := cutField(line)
		switch keyword {
		case "material":
			name, rest := cutField(rest)
			slotName, path := cutField(rest)
			if path == "" {
				return nil, errors.Wrapf(ErrFileFormat, "line %d: expected material <name> <slot> <path>", lineNumber)
			}
			slot := TextureSlot(slotName)
			if !slices.Contains(textureSlots, slot) {
				return nil, errors.Wrapf(ErrFileFormat, "line %d: unknown texture slot %q", lineNumber, slotName)
			}
			library.material(name).Textures[slot] = path
		case "mesh":
			fields := strings.Fields(rest)
			if len(fields) != 2 {
				return nil, errors.Wrapf(ErrFileFormat, "line %d: expected mesh <index> <material>", lineNumber)
			}
			index, err := strconv.ParseUint(fields[0], 10, 32)
			if err != nil {
				return nil, errors.WithSecondaryError(errors.Wrapf(ErrFileFormat, "line %d: bad mesh index %q", lineNumber, fields[0]), err)
			}
			if previous, ok := library.MeshMaterials[uint32(index)]; ok {
				return nil, errors.Wrapf(ErrFileFormat, "line %d: mesh %d already uses material %q", lineNumber, index, previous)
			}
			library.MeshMaterials[uint32(index)] = fields[1]
		default:
			return nil, errors.Wrapf(ErrFileFormat, "line %d: unknown keyword %q", lineNumber, keyword)
		}
	}
	err := scanner.Err()
	if err != nil {
		return nil, err
	}

	for index, name := range library.MeshMaterials {
		if _, ok := library.Material(name); !ok {
			return nil, errors.Wrapf(ErrFileFormat, "mesh %d uses undeclared material %q", index, name)
		}
	}
	return library, nil
}

// WriteMaterials writes library in the format ParseMaterials reads. Materials keep their order
// and meshes are written by ascending index.
func WriteMaterials(w io.Writer, library *MaterialLibrary) error {
	out := bufio.NewWriter(w)

	for _, material := range library.Materials {
		if material.Name == "" || strings.ContainsAny(material.Name, " \t") {
			return errors.Wrapf(ErrFileFormat, "material name %q cannot be written", material.Name)
		}
		for _, slot := range textureSlots {
			path, ok := material.Textures[slot]
			if !ok {
				continue
			}
			_, err := fmt.Fprintf(out, "material %s %s %s\n", material.Name, slot, path)
			if err != nil {
				return err
			}
		}
	}

	indices := make([]uint32, 0, len(library.MeshMaterials))
	for index := range library.MeshMaterials {
		indices = append(indices, index)
	}
	slices.Sort(indices)
	for _, index := range indices {
		_, err := fmt.Fprintf(out, "mesh %d %s\n", index, library.MeshMaterials[index])
		if err != nil {
			return err
		}
	}

	return out.Flush()
}
