// Package graphfile loads frame graphs described declaratively in YAML or JSON files, so that
// graphs can be compiled and simulated without writing Go code.
package graphfile

import (
	"io"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/dustin/go-humanize"
	"github.com/gogpu/gputypes"
	"github.com/spf13/viper"
	"github.com/vkngwrapper/foundry/framegraph"
	"github.com/vkngwrapper/foundry/memory"
	"github.com/vkngwrapper/foundry/resource"
	"golang.org/x/exp/constraints"
)

var ErrInvalidFile = errors.New("invalid pass file")

// File is the decoded form of a pass file. Kinds, formats, usages and flags are matched
// case-insensitively, ignoring dashes and underscores:
//
//	root: Present
//	passes:
//	  - name: Opaque
//	    kind: graphic
//	    width: 1920
//	    height: 1080
//	    creates:
//	      - name: color
//	        texture: {format: rgba8unorm, width: 1920, height: 1080}
//	    subunits:
//	      - name: draw
//	        uses:
//	          - {resource: color, access: [color-attachment], stage: [fragment]}
type File struct {
	Root   string `mapstructure:"root"`
	Passes []Pass `mapstructure:"passes"`
}

type Pass struct {
	Name      string     `mapstructure:"name"`
	Kind      string     `mapstructure:"kind"`
	Width     uint32     `mapstructure:"width"`
	Height    uint32     `mapstructure:"height"`
	Creates   []Resource `mapstructure:"creates"`
	Modifies  []Modify   `mapstructure:"modifies"`
	Reads     []string   `mapstructure:"reads"`
	Pipelines []string   `mapstructure:"pipelines"`
	SubUnits  []SubUnit  `mapstructure:"subunits"`
}

type Resource struct {
	Name     string   `mapstructure:"name"`
	Buffer   *Buffer  `mapstructure:"buffer"`
	Texture  *Texture `mapstructure:"texture"`
	External bool     `mapstructure:"external"`
}

// Buffer sizes accept humanized values such as "64 KiB"
type Buffer struct {
	Size   string   `mapstructure:"size"`
	Usage  []string `mapstructure:"usage"`
	Memory string   `mapstructure:"memory"`
}

type Texture struct {
	Format      string   `mapstructure:"format"`
	Dimension   string   `mapstructure:"dimension"`
	Width       uint32   `mapstructure:"width"`
	Height      uint32   `mapstructure:"height"`
	Depth       uint32   `mapstructure:"depth"`
	MipLevels   uint32   `mapstructure:"mips"`
	ArrayLayers uint32   `mapstructure:"layers"`
	Usage       []string `mapstructure:"usage"`
	Memory      string   `mapstructure:"memory"`
}

type Modify struct {
	Name   string `mapstructure:"name"`
	Source string `mapstructure:"source"`
}

type SubUnit struct {
	Name string `mapstructure:"name"`
	Uses []Use  `mapstructure:"uses"`
}

type Use struct {
	Resource string   `mapstructure:"resource"`
	Access   []string `mapstructure:"access"`
	Stage    []string `mapstructure:"stage"`
}

// Load reads a pass file. The format is taken from the file extension.
func Load(path string) (*File, error) {
	v := viper.New()
	v.SetConfigFile(path)

	err := v.ReadInConfig()
	if err != nil {
		return nil, errors.WithSecondaryError(errors.Wrapf(ErrInvalidFile, "failed to read %s", path), err)
	}
	return decode(v)
}

// Parse reads a pass file of the given format ("yaml" or "json") from r
func Parse(r io.Reader, format string) (*File, error) {
	v := viper.New()
	v.SetConfigType(format)

	err := v.ReadConfig(r)
	if err != nil {
		return nil, errors.WithSecondaryError(errors.Wrapf(ErrInvalidFile, "failed to parse %s pass file", format), err)
	}
	return decode(v)
}

func decode(v *viper.Viper) (*File, error) {
	var file File
	err := v.Unmarshal(&file)
	if err != nil {
		return nil, errors.WithSecondaryError(errors.Wrap(ErrInvalidFile, "failed to decode pass file"), err)
	}
	if file.Root == "" {
		return nil, errors.Wrap(ErrInvalidFile, "pass file has no root")
	}
	return &file, nil
}

// Build turns the file into frame graph passes. When record is not nil it supplies the recorder of
// each pass by name.
func (f *File) Build(record func(pass string) framegraph.Recorder) ([]framegraph.Pass, error) {
	passes := make([]framegraph.Pass, 0, len(f.Passes))
	for _, entry := range f.Passes {
		result, err := entry.setup()
		if err != nil {
			return nil, errors.Wrapf(err, "pass %q", entry.Name)
		}
		if record != nil {
			result.Record = record(entry.Name)
		}

		setup := func() (framegraph.SetupResult, error) { return result, nil }

		kind, ok := lookup(entry.Kind, []framegraph.Kind{framegraph.KindGraphic, framegraph.KindCompute, framegraph.KindTransfer})
		if !ok && entry.Kind != "" {
			return nil, errors.Wrapf(ErrInvalidFile, "pass %q has unknown kind %q", entry.Name, entry.Kind)
		}

		switch kind {
		case framegraph.KindCompute:
			passes = append(passes, framegraph.ComputePass{Name: entry.Name, Setup: setup})
		case framegraph.KindTransfer:
			passes = append(passes, framegraph.TransferPass{Name: entry.Name, Setup: setup})
		default:
			passes = append(passes, framegraph.GraphicPass{Name: entry.Name, Width: entry.Width, Height: entry.Height, Setup: setup})
		}
	}
	return passes, nil
}

func (p Pass) setup() (framegraph.SetupResult, error) {
	result := framegraph.SetupResult{Pipelines: p.Pipelines}

	for _, res := range p.Creates {
		description, err := res.description()
		if err != nil {
			return result, errors.Wrapf(err, "resource %q", res.Name)
		}
		result.Resources = append(result.Resources, framegraph.Create(res.Name, description))
	}
	for _, modify := range p.Modifies {
		result.Resources = append(result.Resources, framegraph.Modify(modify.Name, modify.Source))
	}
	for _, name := range p.Reads {
		result.Resources = append(result.Resources, framegraph.Read(name))
	}

	for _, unit := range p.SubUnits {
		subUnit := framegraph.SubUnit{Name: unit.Name}
		for _, use := range unit.Uses {
			access, err := flags(use.Access, accessFlags)
			if err != nil {
				return result, errors.Wrapf(err, "sub-unit %q access to %q", unit.Name, use.Resource)
			}
			stage, err := flags(use.Stage, stageFlags)
			if err != nil {
				return result, errors.Wrapf(err, "sub-unit %q stage of %q", unit.Name, use.Resource)
			}
			subUnit.Uses = append(subUnit.Uses, framegraph.Use{Resource: use.Resource, Access: access, Stage: stage})
		}
		result.SubUnits = append(result.SubUnits, subUnit)
	}
	return result, nil
}

func (r Resource) description() (framegraph.ResourceDescription, error) {
	switch {
	case r.Buffer != nil && r.Texture != nil:
		return framegraph.ResourceDescription{}, errors.Wrap(ErrInvalidFile, "resource is both a buffer and a texture")
	case r.Buffer != nil:
		description, err := r.Buffer.description()
		return framegraph.BufferResource(description), err
	case r.Texture != nil:
		description, err := r.Texture.description()
		if r.External {
			return framegraph.ExternalTexture(description), err
		}
		return framegraph.TextureResource(description), err
	}
	return framegraph.ResourceDescription{}, errors.Wrap(ErrInvalidFile, "resource has neither a buffer nor a texture")
}

func (b *Buffer) description() (resource.BufferDescription, error) {
	var description resource.BufferDescription

	size, err := humanize.ParseBytes(b.Size)
	if err != nil {
		return description, errors.WithSecondaryError(errors.Wrapf(ErrInvalidFile, "bad buffer size %q", b.Size), err)
	}
	description.Size = int(size)

	description.Usage, err = flags(b.Usage, bufferUsages)
	if err != nil {
		return description, err
	}
	description.Memory, err = memoryUsage(b.Memory)
	return description, err
}

func (t *Texture) description() (resource.TextureDescription, error) {
	description := resource.TextureDescription{
		Dimension:   gputypes.TextureDimension2D,
		Size:        gputypes.Extent3D{Width: t.Width, Height: t.Height, DepthOrArrayLayers: max(t.Depth, 1)},
		MipLevels:   max(t.MipLevels, 1),
		ArrayLayers: max(t.ArrayLayers, 1),
	}

	format, ok := textureFormats[normalize(t.Format)]
	if !ok {
		return description, errors.Wrapf(ErrInvalidFile, "unknown texture format %q", t.Format)
	}
	description.Format = format

	if t.Dimension != "" {
		description.Dimension, ok = textureDimensions[normalize(t.Dimension)]
		if !ok {
			return description, errors.Wrapf(ErrInvalidFile, "unknown texture dimension %q", t.Dimension)
		}
	}

	var err error
	description.Usage, err = flags(t.Usage, textureUsages)
	if err != nil {
		return description, err
	}
	description.Memory, err = memoryUsage(t.Memory)
	return description, err
}

// memoryUsage defaults to GPU-only memory
func memoryUsage(name string) (memory.Usage, error) {
	if name == "" {
		return memory.UsageGPUOnly, nil
	}
	usage, ok := lookup(name, []memory.Usage{memory.UsageGPUOnly, memory.UsageCPUOnly, memory.UsageCPUToGPU, memory.UsageGPUToCPU})
	if !ok {
		return 0, errors.Wrapf(ErrInvalidFile, "unknown memory usage %q", name)
	}
	return usage, nil
}

func normalize(name string) string {
	return strings.ToLower(strings.NewReplacer("-", "", "_", "", " ", "").Replace(name))
}

// lookup finds the value among candidates whose String matches name
func lookup[T interface{ String() string }](name string, candidates []T) (T, bool) {
	name = normalize(name)
	for _, candidate := range candidates {
		if normalize(candidate.String()) == name {
			return candidate, true
		}
	}
	var zero T
	return zero, false
}

func flags[T constraints.Integer](names []string, mapping map[string]T) (T, error) {
	var result T
	for _, name := range names {
		flag, ok := mapping[normalize(name)]
		if !ok {
			return result, errors.Wrapf(ErrInvalidFile, "unknown flag %q", name)
		}
		result |= flag
	}
	return result, nil
}

func flagMapping[T interface {
	~int32
	String() string
}](values ...T) map[string]T {
	mapping := make(map[string]T, len(values))
	for _, value := range values {
		mapping[normalize(value.String())] = value
	}
	return mapping
}

var accessFlags = flagMapping(
	framegraph.AccessSampled,
	framegraph.AccessStorage,
	framegraph.AccessColorAttachment,
	framegraph.AccessDepthStencilAttachment,
	framegraph.AccessVertex,
	framegraph.AccessIndex,
	framegraph.AccessIndirect,
	framegraph.AccessUniform,
	framegraph.AccessTransferSrc,
	framegraph.AccessTransferDst,
)

var stageFlags = flagMapping(
	framegraph.StageVertex,
	framegraph.StageFragment,
	framegraph.StageCompute,
	framegraph.StageTransfer,
)

var bufferUsages = map[string]gputypes.BufferUsage{
	"mapread":  gputypes.BufferUsageMapRead,
	"mapwrite": gputypes.BufferUsageMapWrite,
	"copysrc":  gputypes.BufferUsageCopySrc,
	"copydst":  gputypes.BufferUsageCopyDst,
	"index":    gputypes.BufferUsageIndex,
	"vertex":   gputypes.BufferUsageVertex,
	"uniform":  gputypes.BufferUsageUniform,
	"storage":  gputypes.BufferUsageStorage,
	"indirect": gputypes.BufferUsageIndirect,
}

var textureUsages = map[string]gputypes.TextureUsage{
	"copysrc":          gputypes.TextureUsageCopySrc,
	"copydst":          gputypes.TextureUsageCopyDst,
	"texturebinding":   gputypes.TextureUsageTextureBinding,
	"storagebinding":   gputypes.TextureUsageStorageBinding,
	"renderattachment": gputypes.TextureUsageRenderAttachment,
}

var textureFormats = map[string]gputypes.TextureFormat{
	"rgba8unorm":          gputypes.TextureFormatRGBA8Unorm,
	"bgra8unorm":          gputypes.TextureFormatBGRA8Unorm,
	"r8unorm":             gputypes.TextureFormatR8Unorm,
	"depth24plusstencil8": gputypes.TextureFormatDepth24PlusStencil8,
}

var textureDimensions = map[string]gputypes.TextureDimension{
	"1d": gputypes.TextureDimension1D,
	"2d": gputypes.TextureDimension2D,
	"3d": gputypes.TextureDimension3D,
}
