package pipeline

import (
	"fmt"
	"sort"

	"github.com/cogentcore/webgpu/wgpu"
)

// mergeBindGroupLayouts merges per-stage bind group layout descriptors into one set for the
// pipeline layout. Entries sharing a binding number have their Visibility flags ORed together;
// such entries must describe the same kind of resource.
//
// Parameters:
//   - stages: the bind group layout descriptors of each stage
//
// Returns:
//   - map[int]wgpu.BindGroupLayoutDescriptor: the merged descriptors keyed by group index
//   - error: an error naming the first conflicting group and binding
func mergeBindGroupLayouts(stages ...map[int]wgpu.BindGroupLayoutDescriptor) (map[int]wgpu.BindGroupLayoutDescriptor, error) {
	byGroup := make(map[int]map[uint32]wgpu.BindGroupLayoutEntry)
	for _, layouts := range stages {
		for g, desc := range layouts {
			if byGroup[g] == nil {
				byGroup[g] = make(map[uint32]wgpu.BindGroupLayoutEntry)
			}
			for _, e := range desc.Entries {
				existing, ok := byGroup[g][e.Binding]
				if !ok {
					byGroup[g][e.Binding] = e
					continue
				}
				if !sameResource(existing, e) {
					return nil, fmt.Errorf("group %d binding %d is declared with different resource types", g, e.Binding)
				}
				existing.Visibility |= e.Visibility
				byGroup[g][e.Binding] = existing
			}
		}
	}

	merged := make(map[int]wgpu.BindGroupLayoutDescriptor, len(byGroup))
	for g, entryMap := range byGroup {
		entries := make([]wgpu.BindGroupLayoutEntry, 0, len(entryMap))
		for _, e := range entryMap {
			entries = append(entries, e)
		}
		sort.Slice(entries, func(i, j int) bool { return entries[i].Binding < entries[j].Binding })
		merged[g] = wgpu.BindGroupLayoutDescriptor{Entries: entries}
	}
	return merged, nil
}

func sameResource(a, b wgpu.BindGroupLayoutEntry) bool {
	return a.Buffer.Type == b.Buffer.Type &&
		a.Sampler.Type == b.Sampler.Type &&
		a.Texture.SampleType == b.Texture.SampleType &&
		a.Texture.ViewDimension == b.Texture.ViewDimension &&
		a.StorageTexture.Format == b.StorageTexture.Format &&
		a.StorageTexture.Access == b.StorageTexture.Access
}
