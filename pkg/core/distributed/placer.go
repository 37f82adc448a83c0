// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package distributed

import (
	"github.com/gomlx/hlopasses/pkg/support/status"
)

// ComputationPlacer assigns physical devices to the replicas and computations of a program.
type ComputationPlacer interface {
	// DeviceID returns the device assigned to (replica, computation) in a replicaCount x computationCount
	// setup. It must match what AssignDevices returns.
	DeviceID(replica, computation, replicaCount, computationCount int) (int, error)

	// AssignDevices returns the full replicaCount x computationCount assignment.
	AssignDevices(replicaCount, computationCount int) (*DeviceAssignment, error)
}

// DefaultPlacer assigns devices in replica major order: device = computation + replica*computationCount.
type DefaultPlacer struct{}

// Compile-time check that DefaultPlacer implements ComputationPlacer.
var _ ComputationPlacer = DefaultPlacer{}

// DeviceID implements ComputationPlacer.
func (DefaultPlacer) DeviceID(replica, computation, replicaCount, computationCount int) (int, error) {
	if replicaCount <= 0 || computationCount <= 0 {
		return 0, status.InvalidArgumentf("placement requires positive replica and computation counts, got %d and %d",
			replicaCount, computationCount)
	}
	if replica < 0 || replica >= replicaCount || computation < 0 || computation >= computationCount {
		return 0, status.InvalidArgumentf("slot (replica=%d, computation=%d) out of range for %d replicas x %d computations",
			replica, computation, replicaCount, computationCount)
	}
	return computation + replica*computationCount, nil
}

// AssignDevices implements ComputationPlacer.
func (p DefaultPlacer) AssignDevices(replicaCount, computationCount int) (*DeviceAssignment, error) {
	return assignWith(p, replicaCount, computationCount)
}

// assignWith fills a new assignment with placer.DeviceID for every slot.
func assignWith(placer ComputationPlacer, replicaCount, computationCount int) (*DeviceAssignment, error) {
	da, err := NewDeviceAssignment(replicaCount, computationCount)
	if err != nil {
		return nil, err
	}
	for replica := range replicaCount {
		for computation := range computationCount {
			device, err := placer.DeviceID(replica, computation, replicaCount, computationCount)
			if err != nil {
				return nil, err
			}
			if err = da.Set(replica, computation, device); err != nil {
				return nil, err
			}
		}
	}
	return da, nil
}

// SingleDevicePlacer places everything on one device. It doesn't support more than one replica or computation.
type SingleDevicePlacer struct {
	Device int
}

var _ ComputationPlacer = SingleDevicePlacer{}

// DeviceID implements ComputationPlacer.
func (p SingleDevicePlacer) DeviceID(replica, computation, replicaCount, computationCount int) (int, error) {
	if replicaCount <= 0 || computationCount <= 0 {
		return 0, status.InvalidArgumentf("placement requires positive replica and computation counts, got %d and %d",
			replicaCount, computationCount)
	}
	if replicaCount > 1 || computationCount > 1 {
		return 0, status.Unimplementedf("single device placer cannot place %d replicas x %d computations",
			replicaCount, computationCount)
	}
	if replica != 0 || computation != 0 {
		return 0, status.InvalidArgumentf("slot (replica=%d, computation=%d) out of range", replica, computation)
	}
	return p.Device, nil
}

// AssignDevices implements ComputationPlacer.
func (p SingleDevicePlacer) AssignDevices(replicaCount, computationCount int) (*DeviceAssignment, error) {
	return assignWith(p, replicaCount, computationCount)
}
