package framegraph

import (
	"fmt"
	"strings"

	"github.com/dolthub/swiss"
	"github.com/gogpu/gputypes"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"golang.org/x/exp/constraints"
)

// ResourceInfo is what compilation learned about one resource
type ResourceInfo struct {
	Name string
	// Creator is the pass that creates or modifies the resource, empty if none does
	Creator string
	// Source is the resource a modified resource continues from
	Source  string
	Readers []string

	Description ResourceDescription
	// Inherited is set when Description was taken from the source of a modified resource
	Inherited bool
	// Scheduled is set when Creator is part of the compiled order
	Scheduled bool

	Access AccessFlags
	Stages StageFlags

	BufferUsage  gputypes.BufferUsage
	TextureUsage gputypes.TextureUsage
}

// IsOwned reports whether the renderer is responsible for creating this resource
func (r ResourceInfo) IsOwned() bool {
	return r.Scheduled && !r.Description.IsEmpty() && !r.Description.External
}

// Graph is the result of a successful Compile. It is immutable and may be shared between
// goroutines.
type Graph struct {
	order     []string
	passes    *swiss.Map[string, *passMapping]
	resources []ResourceInfo
	byName    *swiss.Map[string, int]
}

func (c *compiler) graph() *Graph {
	byName := swiss.NewMap[string, int](uint32(len(c.infos)))
	for index, info := range c.infos {
		byName.Put(info.Name, index)
	}

	return &Graph{
		order:     c.order,
		passes:    c.passes,
		resources: c.infos,
		byName:    byName,
	}
}

// Order lists the scheduled passes in execution order
func (g *Graph) Order() []string {
	return append([]string(nil), g.order...)
}

func (g *Graph) Pass(name string) (Pass, bool) {
	mapping, ok := g.passes.Get(name)
	if !ok {
		return nil, false
	}
	return mapping.pass, true
}

// Setup returns what a pass declared when the graph was compiled
func (g *Graph) Setup(name string) (SetupResult, bool) {
	mapping, ok := g.passes.Get(name)
	if !ok {
		return SetupResult{}, false
	}
	return mapping.setup, true
}

// Resources lists every resource in the order it was first declared
func (g *Graph) Resources() []ResourceInfo {
	return append([]ResourceInfo(nil), g.resources...)
}

func (g *Graph) Resource(name string) (ResourceInfo, bool) {
	index, ok := g.byName.Get(name)
	if !ok {
		return ResourceInfo{}, false
	}
	return g.resources[index], true
}

type usageName[T constraints.Unsigned] struct {
	flag T
	name string
}

var bufferUsageNames = []usageName[gputypes.BufferUsage]{
	{gputypes.BufferUsageMapRead, "MapRead"},
	{gputypes.BufferUsageMapWrite, "MapWrite"},
	{gputypes.BufferUsageCopySrc, "CopySrc"},
	{gputypes.BufferUsageCopyDst, "CopyDst"},
	{gputypes.BufferUsageIndex, "Index"},
	{gputypes.BufferUsageVertex, "Vertex"},
	{gputypes.BufferUsageUniform, "Uniform"},
	{gputypes.BufferUsageStorage, "Storage"},
	{gputypes.BufferUsageIndirect, "Indirect"},
}

var textureUsageNames = []usageName[gputypes.TextureUsage]{
	{gputypes.TextureUsageCopySrc, "CopySrc"},
	{gputypes.TextureUsageCopyDst, "CopyDst"},
	{gputypes.TextureUsageTextureBinding, "TextureBinding"},
	{gputypes.TextureUsageStorageBinding, "StorageBinding"},
	{gputypes.TextureUsageRenderAttachment, "RenderAttachment"},
}

func usageString[T constraints.Unsigned](usage T, names []usageName[T]) string {
	var parts []string
	for _, n := range names {
		if usage&n.flag != 0 {
			parts = append(parts, n.name)
			usage &^= n.flag
		}
	}
	if usage != 0 {
		parts = append(parts, fmt.Sprintf("%#x", uint64(usage)))
	}
	if len(parts) == 0 {
		return "None"
	}
	return strings.Join(parts, "|")
}

// BufferUsageString names the flags set in usage
func BufferUsageString(usage gputypes.BufferUsage) string {
	return usageString(usage, bufferUsageNames)
}

// TextureUsageString names the flags set in usage
func TextureUsageString(usage gputypes.TextureUsage) string {
	return usageString(usage, textureUsageNames)
}

func (r ResourceInfo) kindName() string {
	switch {
	case r.Description.IsBuffer():
		return "Buffer"
	case r.Description.IsTexture():
		return "Texture"
	default:
		return "Unknown"
	}
}

func (r ResourceInfo) usageString() string {
	switch {
	case r.Description.IsBuffer():
		return BufferUsageString(r.BufferUsage)
	case r.Description.IsTexture():
		return TextureUsageString(r.TextureUsage)
	default:
		return "None"
	}
}

func writeStrings(array jwriter.ArrayState, values []string) {
	for _, value := range values {
		array.String(value)
	}
	array.End()
}

// WriteJSON writes the compiled order, the setup of each scheduled pass and every resource
func (g *Graph) WriteJSON(writer *jwriter.Writer) {
	obj := writer.Object()

	writeStrings(obj.Name("Order").Array(), g.order)

	passes := obj.Name("Passes").Array()
	for _, name := range g.order {
		mapping, _ := g.passes.Get(name)

		passObj := passes.Object()
		passObj.Name("Name").String(name)
		passObj.Name("Kind").String(mapping.pass.Kind().String())
		if graphic, ok := mapping.pass.(GraphicPass); ok {
			passObj.Name("Width").Int(int(graphic.Width))
			passObj.Name("Height").Int(int(graphic.Height))
		}
		if len(mapping.setup.Pipelines) > 0 {
			writeStrings(passObj.Name("Pipelines").Array(), mapping.setup.Pipelines)
		}

		subUnits := passObj.Name("SubUnits").Array()
		for _, subUnit := range mapping.setup.SubUnits {
			subUnitObj := subUnits.Object()
			subUnitObj.Name("Name").String(subUnit.Name)
			uses := subUnitObj.Name("Uses").Array()
			for _, use := range subUnit.Uses {
				useObj := uses.Object()
				useObj.Name("Resource").String(use.Resource)
				useObj.Name("Access").String(use.Access.String())
				if use.Stage != 0 {
					useObj.Name("Stage").String(use.Stage.String())
				}
				useObj.End()
			}
			uses.End()
			subUnitObj.End()
		}
		subUnits.End()
		passObj.End()
	}
	passes.End()

	resources := obj.Name("Resources").Array()
	for _, info := range g.resources {
		resObj := resources.Object()
		resObj.Name("Name").String(info.Name)
		resObj.Name("Kind").String(info.kindName())
		if info.Creator != "" {
			resObj.Name("Creator").String(info.Creator)
		}
		if info.Source != "" {
			resObj.Name("Source").String(info.Source)
		}
		writeStrings(resObj.Name("Readers").Array(), info.Readers)
		resObj.Name("External").Bool(info.Description.External)
		resObj.Name("Scheduled").Bool(info.Scheduled)
		if info.Access != 0 {
			resObj.Name("Access").String(info.Access.String())
		}
		resObj.Name("Usage").String(info.usageString())
		resObj.End()
	}
	resources.End()

	obj.End()
}

func (g *Graph) String() string {
	var builder strings.Builder
	builder.WriteString("order: ")
	builder.WriteString(strings.Join(g.order, " -> "))
	builder.WriteByte('\n')

	for _, info := range g.resources {
		fmt.Fprintf(&builder, "%s %s: %s", info.kindName(), info.Name, info.usageString())
		if info.Creator != "" {
			fmt.Fprintf(&builder, " (by %s)", info.Creator)
		}
		builder.WriteByte('\n')
	}
	return builder.String()
}
