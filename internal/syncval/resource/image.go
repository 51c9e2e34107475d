package resource

import (
	"errors"
	"fmt"
)

// ErrSubresourceOutOfBounds is returned when a subresource range exceeds the
// image's mip, layer or aspect count.
var ErrSubresourceOutOfBounds = errors.New("resource: subresource range out of bounds")

// Image describes the subresource layout of an image resource.
type Image struct {
	ID        ID
	Aspects   uint32 // number of aspects, e.g. 2 for depth+stencil
	MipLevels uint32
	Layers    uint32
}

// Subresources selects aspects, mip levels and array layers of an image.
type Subresources struct {
	BaseAspect  uint32
	AspectCount uint32
	BaseMip     uint32
	MipCount    uint32
	BaseLayer   uint32
	LayerCount  uint32
}

// All returns a selection covering every subresource of img.
func (img Image) All() Subresources {
	return Subresources{
		AspectCount: img.Aspects,
		MipCount:    img.MipLevels,
		LayerCount:  img.Layers,
	}
}

// Extent returns the size of the image's flattened address space.
func (img Image) Extent() uint64 {
	return uint64(img.Aspects) * uint64(img.MipLevels) * uint64(img.Layers)
}

// Ranges flattens a subresource selection into linear ranges. Each
// (aspect, mip) pair contributes one contiguous run of layers; runs that
// touch are coalesced, so selecting every layer of consecutive mips yields a
// single range.
func (img Image) Ranges(sel Subresources) ([]Range, error) {
	if sel.AspectCount == 0 || sel.MipCount == 0 || sel.LayerCount == 0 {
		return nil, fmt.Errorf("%w: image %d selects no subresources", ErrEmptyRange, img.ID)
	}
	if sel.BaseAspect+sel.AspectCount > img.Aspects ||
		sel.BaseMip+sel.MipCount > img.MipLevels ||
		sel.BaseLayer+sel.LayerCount > img.Layers {
		return nil, fmt.Errorf("%w: image %d %+v", ErrSubresourceOutOfBounds, img.ID, sel)
	}

	layers := uint64(img.Layers)
	var out []Range
	for a := sel.BaseAspect; a < sel.BaseAspect+sel.AspectCount; a++ {
		for m := sel.BaseMip; m < sel.BaseMip+sel.MipCount; m++ {
			begin := (uint64(a)*uint64(img.MipLevels)+uint64(m))*layers + uint64(sel.BaseLayer)
			r := Range{Resource: img.ID, Begin: begin, End: begin + uint64(sel.LayerCount)}
			if n := len(out); n > 0 && out[n-1].End == r.Begin {
				out[n-1].End = r.End
				continue
			}
			out = append(out, r)
		}
	}
	return out, nil
}
