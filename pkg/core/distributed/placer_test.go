// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package distributed_test

import (
	"sync"
	"testing"

	"github.com/gomlx/hlopasses/pkg/core/distributed"
	"github.com/gomlx/hlopasses/pkg/support/status"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultPlacer(t *testing.T) {
	da := must.M1(distributed.DefaultPlacer{}.AssignDevices(2, 3))
	want := [][]int{{0, 1, 2}, {3, 4, 5}}
	for r, row := range want {
		for c, device := range row {
			assert.Equal(t, device, da.At(r, c), "replica=%d, computation=%d", r, c)
		}
	}
	id := must.M1(da.LogicalIDForDevice(4))
	assert.Equal(t, 1, id.Replica)
	assert.Equal(t, 1, id.Computation)
	_, err := da.LogicalIDForDevice(99)
	require.Error(t, err)
	assert.True(t, status.IsNotFound(err))
	require.NoError(t, da.Validate(nil))

	for _, counts := range [][2]int{{0, 3}, {2, 0}, {-1, -1}} {
		_, err = distributed.DefaultPlacer{}.AssignDevices(counts[0], counts[1])
		assert.True(t, status.IsInvalidArgument(err), "counts=%v", counts)
	}
	_, err = distributed.DefaultPlacer{}.DeviceID(2, 0, 2, 3)
	assert.True(t, status.IsInvalidArgument(err))
}

func TestSingleDevicePlacer(t *testing.T) {
	da := must.M1(distributed.SingleDevicePlacer{Device: 3}.AssignDevices(1, 1))
	assert.Equal(t, 3, da.At(0, 0))
	_, err := distributed.SingleDevicePlacer{}.AssignDevices(2, 1)
	assert.True(t, status.IsUnimplemented(err))
}

// offsetPlacer shifts the default assignment by a fixed offset.
type offsetPlacer struct {
	offset int
}

func (p offsetPlacer) DeviceID(replica, computation, replicaCount, computationCount int) (int, error) {
	device, err := distributed.DefaultPlacer{}.DeviceID(replica, computation, replicaCount, computationCount)
	return device + p.offset, err
}

func (p offsetPlacer) AssignDevices(replicaCount, computationCount int) (*distributed.DeviceAssignment, error) {
	da, err := distributed.NewDeviceAssignment(replicaCount, computationCount)
	if err != nil {
		return nil, err
	}
	for r := range replicaCount {
		for c := range computationCount {
			device, err := p.DeviceID(r, c, replicaCount, computationCount)
			if err != nil {
				return nil, err
			}
			if err = da.Set(r, c, device); err != nil {
				return nil, err
			}
		}
	}
	return da, nil
}

func TestRegistry(t *testing.T) {
	r := distributed.NewRegistry()
	_, err := r.GetForPlatform("gpu")
	require.Error(t, err)
	assert.True(t, status.IsNotFound(err))
	assert.IsType(t, distributed.DefaultPlacer{}, must.M1(r.PlacerOrDefault("gpu")))

	var constructed int
	r.Register("gpu", func() distributed.ComputationPlacer {
		constructed++
		return offsetPlacer{offset: 10}
	})
	assert.Equal(t, 0, constructed, "placer must be constructed lazily")
	p1 := must.M1(r.GetForPlatform("gpu"))
	p2 := must.M1(r.GetForPlatform("gpu"))
	assert.Equal(t, 1, constructed, "placer must be cached")
	assert.Equal(t, p1, p2)
	assert.Equal(t, 11, must.M1(p1.DeviceID(0, 1, 1, 2)))

	// Last write wins, and drops the cached placer.
	r.Register("gpu", func() distributed.ComputationPlacer { return offsetPlacer{offset: 100} })
	assert.Equal(t, 101, must.M1(must.M1(r.GetForPlatform("gpu")).DeviceID(0, 1, 1, 2)))
	assert.Equal(t, []distributed.PlatformID{"gpu"}, r.Platforms())

	r.Unregister("gpu")
	_, err = r.GetForPlatform("gpu")
	assert.True(t, status.IsNotFound(err))

	r.Register("nil", func() distributed.ComputationPlacer { return nil })
	_, err = r.GetForPlatform("nil")
	assert.True(t, status.IsInternal(err))
	_, err = r.PlacerOrDefault("nil")
	assert.True(t, status.IsInternal(err), "a broken placer must not fall back to the default one")
}

func TestRegistryConcurrentReads(t *testing.T) {
	r := distributed.NewRegistry()
	var constructed int
	r.Register("cpu", func() distributed.ComputationPlacer {
		constructed++
		return distributed.DefaultPlacer{}
	})
	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			placer, err := r.GetForPlatform("cpu")
			if assert.NoError(t, err) {
				da, err := placer.AssignDevices(2, 2)
				assert.NoError(t, err)
				assert.Equal(t, 3, da.At(1, 1))
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, constructed)
}

func TestPackageLevelAssignDevices(t *testing.T) {
	da := must.M1(distributed.AssignDevices("unregistered-platform", 1, 2))
	assert.Equal(t, 1, da.At(0, 1))

	distributed.RegisterPlacer("broken-platform", func() distributed.ComputationPlacer { return nil })
	defer distributed.DefaultRegistry.Unregister("broken-platform")
	_, err := distributed.AssignDevices("broken-platform", 1, 2)
	assert.True(t, status.IsInternal(err))
}
