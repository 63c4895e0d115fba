// Package framegraph compiles a declarative set of passes into an execution order and works out
// the usage every resource must be created with.
package framegraph

import (
	"cmp"
	"slices"

	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
)

type resourceRecord struct {
	name        string
	creator     string
	source      string
	readers     []string
	description ResourceDescription
	inherited   bool

	access AccessFlags
	stages StageFlags
}

type passMapping struct {
	pass  Pass
	index int
	setup SetupResult

	creates  []string
	reads    []string
	modifies []string

	// temporary is set while the pass is on the traversal stack, permanent once it is scheduled
	temporary bool
	permanent bool
}

type compiler struct {
	passes        *swiss.Map[string, *passMapping]
	passOrder     []*passMapping
	resources     *swiss.Map[string, *resourceRecord]
	resourceOrder []*resourceRecord

	stack []string
	order []string
	infos []ResourceInfo
}

// Compile sets up every pass once, in the order given, and returns the passes root depends on,
// directly or not, ordered so that each pass comes after everything it depends on. A pass depends
// on the producer of every resource it reads. A pass that modifies a resource also depends on the
// producer of the resource's source and on every pass that reads the source.
//
// Compilation either succeeds entirely or returns a *CompileError.
func Compile(passes []Pass, root string) (*Graph, error) {
	c := &compiler{
		passes:    swiss.NewMap[string, *passMapping](uint32(len(passes))),
		passOrder: make([]*passMapping, 0, len(passes)),
		resources: swiss.NewMap[string, *resourceRecord](uint32(len(passes) * 4)),
	}

	err := c.register(passes)
	if err != nil {
		return nil, err
	}

	rootMapping, ok := c.passes.Get(root)
	if !ok {
		return nil, &CompileError{Kind: ErrMissingPass, Pass: root}
	}

	err = c.visit(rootMapping)
	if err != nil {
		return nil, err
	}

	err = c.inferUsage()
	if err != nil {
		return nil, err
	}

	return c.graph(), nil
}

func (c *compiler) record(name string) *resourceRecord {
	rec, ok := c.resources.Get(name)
	if !ok {
		rec = &resourceRecord{name: name}
		c.resources.Put(name, rec)
		c.resourceOrder = append(c.resourceOrder, rec)
	}
	return rec
}

func (c *compiler) register(passes []Pass) error {
	for index, pass := range passes {
		if pass == nil {
			return &CompileError{Kind: ErrSetup, cause: errors.Newf("pass %d is nil", index)}
		}

		name := pass.PassName()
		if name == "" {
			return &CompileError{Kind: ErrSetup, cause: errors.Newf("pass %d has no name", index)}
		}
		if c.passes.Has(name) {
			return &CompileError{Kind: ErrDuplicatePass, Pass: name}
		}

		setup, err := pass.runSetup()
		if err != nil {
			return &CompileError{Kind: ErrSetup, Pass: name, cause: err}
		}

		mapping := &passMapping{pass: pass, index: index, setup: setup}
		c.passes.Put(name, mapping)
		c.passOrder = append(c.passOrder, mapping)

		for _, declaration := range setup.Resources {
			err = c.declare(mapping, declaration)
			if err != nil {
				return err
			}
		}
	}

	return nil
}

func (c *compiler) declare(mapping *passMapping, declaration Declaration) error {
	passName := mapping.pass.PassName()
	if declaration.Name == "" {
		return &CompileError{Kind: ErrMissingResource, Pass: passName, cause: errors.New("declaration has no resource name")}
	}

	rec := c.record(declaration.Name)
	switch declaration.Kind {
	case DeclareCreate, DeclareModify:
		if rec.creator != "" {
			return &CompileError{
				Kind:     ErrMultipleProducers,
				Pass:     passName,
				Resource: declaration.Name,
				cause:    errors.Newf("already produced by %q", rec.creator),
			}
		}
	}

	switch declaration.Kind {
	case DeclareCreate:
		description := declaration.Description
		if description.IsEmpty() || (description.IsBuffer() && description.IsTexture()) {
			return &CompileError{
				Kind:     ErrSetup,
				Pass:     passName,
				Resource: declaration.Name,
				cause:    errors.New("a created resource needs exactly one of a buffer or a texture description"),
			}
		}
		rec.creator = passName
		rec.description = description
		mapping.creates = append(mapping.creates, declaration.Name)
	case DeclareModify:
		if declaration.Source == "" || declaration.Source == declaration.Name {
			return &CompileError{Kind: ErrMissingSource, Pass: passName, Resource: declaration.Name}
		}
		rec.creator = passName
		rec.source = declaration.Source
		rec.description = declaration.Description
		mapping.modifies = append(mapping.modifies, declaration.Name)
	case DeclareRead:
		if !slices.Contains(rec.readers, passName) {
			rec.readers = append(rec.readers, passName)
		}
		if !slices.Contains(mapping.reads, declaration.Name) {
			mapping.reads = append(mapping.reads, declaration.Name)
		}
	default:
		return &CompileError{
			Kind:     ErrSetup,
			Pass:     passName,
			Resource: declaration.Name,
			cause:    errors.Newf("unknown declaration kind %d", declaration.Kind),
		}
	}

	return nil
}

func (c *compiler) findDependencies(mapping *passMapping) ([]*passMapping, error) {
	passName := mapping.pass.PassName()

	var names []string
	add := func(name string) {
		if name != passName && !slices.Contains(names, name) {
			names = append(names, name)
		}
	}

	for _, name := range mapping.modifies {
		rec, _ := c.resources.Get(name)
		if rec.source == "" {
			return nil, &CompileError{Kind: ErrMissingSource, Pass: passName, Resource: name}
		}

		source, ok := c.resources.Get(rec.source)
		if !ok {
			return nil, &CompileError{Kind: ErrMissingResource, Pass: passName, Resource: rec.source}
		}
		if source.creator == "" {
			return nil, &CompileError{Kind: ErrMissingPass, Pass: passName, Resource: rec.source}
		}

		// The new version may not be written until every read of the old one is done
		add(source.creator)
		for _, reader := range source.readers {
			add(reader)
		}
	}

	for _, name := range mapping.reads {
		rec, _ := c.resources.Get(name)
		if rec.creator == "" {
			return nil, &CompileError{Kind: ErrMissingPass, Pass: passName, Resource: name}
		}
		add(rec.creator)
	}

	dependencies := make([]*passMapping, 0, len(names))
	for _, name := range names {
		dependency, ok := c.passes.Get(name)
		if !ok {
			return nil, &CompileError{Kind: ErrMissingPass, Pass: name}
		}
		dependencies = append(dependencies, dependency)
	}

	// Passes that touch more shared state go first. This only affects which of the valid orders
	// is picked.
	slices.SortStableFunc(dependencies, func(a, b *passMapping) int {
		if order := cmp.Compare(len(b.reads)+len(b.modifies), len(a.reads)+len(a.modifies)); order != 0 {
			return order
		}
		if order := cmp.Compare(len(b.creates), len(a.creates)); order != 0 {
			return order
		}
		return cmp.Compare(a.index, b.index)
	})

	return dependencies, nil
}

func (c *compiler) visit(mapping *passMapping) error {
	if mapping.permanent {
		return nil
	}

	passName := mapping.pass.PassName()
	if mapping.temporary {
		start := slices.Index(c.stack, passName)
		cycle := append(slices.Clone(c.stack[start:]), passName)
		return &CompileError{Kind: ErrCycle, Pass: passName, Cycle: cycle}
	}

	mapping.temporary = true
	c.stack = append(c.stack, passName)

	dependencies, err := c.findDependencies(mapping)
	if err != nil {
		return err
	}

	for _, dependency := range dependencies {
		err = c.visit(dependency)
		if err != nil {
			return err
		}
	}

	c.stack = c.stack[:len(c.stack)-1]
	mapping.temporary = false
	mapping.permanent = true
	c.order = append(c.order, passName)
	return nil
}
