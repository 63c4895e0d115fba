package framegraph

import (
	"context"

	"github.com/vkngwrapper/foundry/resource"
)

// Kind is the kind of work a pass records, which decides the queue it is submitted to
type Kind int32

const (
	KindGraphic Kind = iota
	KindCompute
	KindTransfer
)

var kindMapping = map[Kind]string{
	KindGraphic:  "Graphic",
	KindCompute:  "Compute",
	KindTransfer: "Transfer",
}

func (k Kind) String() string {
	str, ok := kindMapping[k]
	if !ok {
		return "Unknown"
	}
	return str
}

// Resources resolves the names of a compiled graph's resources to backend objects. It is handed
// to recorders, which may run concurrently, and must only be read.
type Resources interface {
	Buffer(name string) (resource.NativeBuffer, bool)
	Texture(name string) (resource.NativeTexture, bool)
}

// CommandList is whatever a backend accepts as recorded work
type CommandList any

// Recorder records the commands of one pass
type Recorder func(ctx context.Context, resources Resources) (CommandList, error)

// SetupResult is what a pass declares about itself at compile time
type SetupResult struct {
	Resources []Declaration
	SubUnits  []SubUnit
	// Pipelines names the pipelines the pass binds, so they can be prepared ahead of recording
	Pipelines []string
	Record    Recorder
}

// SetupFunc declares a pass's resources and sub-units. It is called exactly once per compile and
// must not depend on the order passes are set up in.
type SetupFunc func() (SetupResult, error)

// Pass is one of GraphicPass, ComputePass or TransferPass
type Pass interface {
	PassName() string
	Kind() Kind
	runSetup() (SetupResult, error)
}

// GraphicPass renders into attachments of the given size
type GraphicPass struct {
	Name   string
	Width  uint32
	Height uint32
	Setup  SetupFunc
}

// ComputePass dispatches compute work
type ComputePass struct {
	Name  string
	Setup SetupFunc
}

// TransferPass copies between resources
type TransferPass struct {
	Name  string
	Setup SetupFunc
}

var (
	_ Pass = GraphicPass{}
	_ Pass = ComputePass{}
	_ Pass = TransferPass{}
)

func (p GraphicPass) PassName() string  { return p.Name }
func (p GraphicPass) Kind() Kind        { return KindGraphic }
func (p ComputePass) PassName() string  { return p.Name }
func (p ComputePass) Kind() Kind        { return KindCompute }
func (p TransferPass) PassName() string { return p.Name }
func (p TransferPass) Kind() Kind       { return KindTransfer }

func runSetup(setup SetupFunc) (SetupResult, error) {
	if setup == nil {
		return SetupResult{}, nil
	}
	return setup()
}

func (p GraphicPass) runSetup() (SetupResult, error)  { return runSetup(p.Setup) }
func (p ComputePass) runSetup() (SetupResult, error)  { return runSetup(p.Setup) }
func (p TransferPass) runSetup() (SetupResult, error) { return runSetup(p.Setup) }
