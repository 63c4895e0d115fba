package framegraph

import (
	"github.com/vkngwrapper/foundry/resource"
)

// DeclarationKind says how a pass touches a resource
type DeclarationKind int32

const (
	// DeclareCreate makes the pass the producer of a new resource
	DeclareCreate DeclarationKind = iota
	// DeclareModify makes the pass the producer of a resource that continues from a source
	// resource, so it is ordered after the source's producer and every reader of the source
	DeclareModify
	// DeclareRead orders the pass after the resource's producer
	DeclareRead
)

var declarationKindMapping = map[DeclarationKind]string{
	DeclareCreate: "Create",
	DeclareModify: "Modify",
	DeclareRead:   "Read",
}

func (k DeclarationKind) String() string {
	str, ok := declarationKindMapping[k]
	if !ok {
		return "Unknown"
	}
	return str
}

// ResourceDescription describes a resource created by a pass. Exactly one of Buffer and Texture
// is set. External resources, such as swapchain images, are owned outside the graph and are never
// created by the renderer.
type ResourceDescription struct {
	Buffer   *resource.BufferDescription
	Texture  *resource.TextureDescription
	External bool
}

func BufferResource(description resource.BufferDescription) ResourceDescription {
	return ResourceDescription{Buffer: &description}
}

func TextureResource(description resource.TextureDescription) ResourceDescription {
	return ResourceDescription{Texture: &description}
}

// ExternalTexture describes a texture that the graph writes to but does not own
func ExternalTexture(description resource.TextureDescription) ResourceDescription {
	return ResourceDescription{Texture: &description, External: true}
}

func (d ResourceDescription) IsBuffer() bool  { return d.Buffer != nil }
func (d ResourceDescription) IsTexture() bool { return d.Texture != nil }
func (d ResourceDescription) IsEmpty() bool   { return d.Buffer == nil && d.Texture == nil }

// Declaration is one resource a pass creates, modifies or reads
type Declaration struct {
	Kind        DeclarationKind
	Name        string
	Source      string
	Description ResourceDescription
}

func Create(name string, description ResourceDescription) Declaration {
	return Declaration{Kind: DeclareCreate, Name: name, Description: description}
}

// Modify declares a new version of name that continues from source. A modified resource without a
// description of its own takes its source's.
func Modify(name, source string) Declaration {
	return Declaration{Kind: DeclareModify, Name: name, Source: source}
}

func Read(name string) Declaration {
	return Declaration{Kind: DeclareRead, Name: name}
}
