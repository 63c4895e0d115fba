package framegraph

import (
	"slices"

	"github.com/cockroachdb/errors"
)

// resolveDescription walks the source chain of a modified resource until it finds a description
func (c *compiler) resolveDescription(rec *resourceRecord) {
	if !rec.description.IsEmpty() {
		return
	}

	visited := []*resourceRecord{rec}
	current := rec
	for current.source != "" {
		next, ok := c.resources.Get(current.source)
		if !ok || slices.Contains(visited, next) {
			return
		}
		if !next.description.IsEmpty() {
			rec.description = next.description
			rec.inherited = true
			return
		}
		visited = append(visited, next)
		current = next
	}
}

// inferUsage unions the usage each resource was declared with and the usage implied by every
// sub-unit that touches it
func (c *compiler) inferUsage() error {
	for _, mapping := range c.passOrder {
		for _, subUnit := range mapping.setup.SubUnits {
			for _, use := range subUnit.Uses {
				rec, ok := c.resources.Get(use.Resource)
				if !ok {
					return &CompileError{
						Kind:     ErrMissingResource,
						Pass:     mapping.pass.PassName(),
						Resource: use.Resource,
						cause:    errors.Newf("used by sub-unit %q", subUnit.Name),
					}
				}
				rec.access |= use.Access
				rec.stages |= use.Stage
			}
		}
	}

	scheduled := make(map[string]struct{}, len(c.order))
	for _, name := range c.order {
		scheduled[name] = struct{}{}
	}

	c.infos = make([]ResourceInfo, 0, len(c.resourceOrder))
	for _, rec := range c.resourceOrder {
		c.resolveDescription(rec)

		info, err := c.resourceInfo(rec, scheduled)
		if err != nil {
			return err
		}
		c.infos = append(c.infos, info)
	}

	return nil
}

func (c *compiler) resourceInfo(rec *resourceRecord, scheduled map[string]struct{}) (ResourceInfo, error) {
	_, isScheduled := scheduled[rec.creator]
	info := ResourceInfo{
		Name:        rec.name,
		Creator:     rec.creator,
		Source:      rec.source,
		Readers:     append([]string(nil), rec.readers...),
		Description: rec.description,
		Inherited:   rec.inherited,
		Scheduled:   isScheduled,
		Access:      rec.access,
		Stages:      rec.stages,
	}

	switch {
	case rec.description.IsBuffer():
		usage, invalid := bufferUsage(rec.access)
		if invalid != 0 {
			return info, &CompileError{Kind: ErrInvalidAccess, Resource: rec.name, cause: errors.Newf("buffer used as %s", invalid)}
		}
		info.BufferUsage = rec.description.Buffer.Usage | usage
	case rec.description.IsTexture():
		usage, invalid := textureUsage(rec.access)
		if invalid != 0 {
			return info, &CompileError{Kind: ErrInvalidAccess, Resource: rec.name, cause: errors.Newf("texture used as %s", invalid)}
		}
		info.TextureUsage = rec.description.Texture.Usage | usage
	}

	return info, nil
}
