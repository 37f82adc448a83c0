// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package distributed holds the placement of replicated and partitioned computations on devices: the
// DeviceAssignment table, the ComputationPlacer that fills it, and a registry of per-platform placers.
package distributed

import (
	"fmt"
	"slices"
	"strings"

	"github.com/gomlx/gopjrt/protos/xla_data"
	"github.com/gomlx/hlopasses/pkg/support/sets"
	"github.com/gomlx/hlopasses/pkg/support/status"
	"github.com/pkg/errors"
	"google.golang.org/protobuf/proto"
)

// Unassigned is the device id of a slot of a DeviceAssignment not yet populated.
const Unassigned = -1

// DeviceAssignment maps each (replica, computation) logical slot to a physical device id.
//
// Its size is fixed at construction, and all slots start as Unassigned.
type DeviceAssignment struct {
	replicaCount, computationCount int

	// devices is indexed by replica*computationCount + computation.
	devices []int
}

// LogicalID identifies a slot of a DeviceAssignment.
type LogicalID struct {
	Replica, Computation int
}

// String implements fmt.Stringer.
func (id LogicalID) String() string {
	return fmt.Sprintf("(replica=%d, computation=%d)", id.Replica, id.Computation)
}

// NewDeviceAssignment creates a replicaCount x computationCount assignment with all slots Unassigned.
// Both counts must be positive.
func NewDeviceAssignment(replicaCount, computationCount int) (*DeviceAssignment, error) {
	if replicaCount <= 0 || computationCount <= 0 {
		return nil, status.InvalidArgumentf("device assignment requires positive replica and computation counts, got %d and %d",
			replicaCount, computationCount)
	}
	da := &DeviceAssignment{
		replicaCount:     replicaCount,
		computationCount: computationCount,
		devices:          make([]int, replicaCount*computationCount),
	}
	for ii := range da.devices {
		da.devices[ii] = Unassigned
	}
	return da, nil
}

// ReplicaCount is the number of rows of the assignment.
func (da *DeviceAssignment) ReplicaCount() int { return da.replicaCount }

// ComputationCount is the number of columns of the assignment.
func (da *DeviceAssignment) ComputationCount() int { return da.computationCount }

func (da *DeviceAssignment) checkSlot(replica, computation int) error {
	if replica < 0 || replica >= da.replicaCount || computation < 0 || computation >= da.computationCount {
		return status.InvalidArgumentf("slot (replica=%d, computation=%d) out of range for a %dx%d device assignment",
			replica, computation, da.replicaCount, da.computationCount)
	}
	return nil
}

// At returns the device assigned to the slot. It panics if the slot is out of range.
func (da *DeviceAssignment) At(replica, computation int) int {
	if err := da.checkSlot(replica, computation); err != nil {
		panic(err)
	}
	return da.devices[replica*da.computationCount+computation]
}

// Set assigns device to the slot.
func (da *DeviceAssignment) Set(replica, computation, device int) error {
	if err := da.checkSlot(replica, computation); err != nil {
		return err
	}
	if device < Unassigned {
		return status.InvalidArgumentf("invalid device id %d", device)
	}
	da.devices[replica*da.computationCount+computation] = device
	return nil
}

// LogicalIDForDevice returns the first slot (in replica major order) assigned to device.
func (da *DeviceAssignment) LogicalIDForDevice(device int) (LogicalID, error) {
	if device >= 0 {
		if pos := slices.Index(da.devices, device); pos >= 0 {
			return LogicalID{Replica: pos / da.computationCount, Computation: pos % da.computationCount}, nil
		}
	}
	return LogicalID{}, status.NotFoundf("device %d not found in device assignment", device)
}

// ReplicaIDForDevice returns the replica of the slot assigned to device.
func (da *DeviceAssignment) ReplicaIDForDevice(device int) (int, error) {
	id, err := da.LogicalIDForDevice(device)
	if err != nil {
		return 0, err
	}
	return id.Replica, nil
}

// DeviceToLogicalIDMap returns a map from every assigned device to its slot.
// If a device is assigned to more than one slot, the first one in replica major order is kept.
func (da *DeviceAssignment) DeviceToLogicalIDMap() map[int]LogicalID {
	m := make(map[int]LogicalID, len(da.devices))
	for pos := len(da.devices) - 1; pos >= 0; pos-- {
		if device := da.devices[pos]; device != Unassigned {
			m[device] = LogicalID{Replica: pos / da.computationCount, Computation: pos % da.computationCount}
		}
	}
	return m
}

// AliasFunc reports whether device may be assigned to more than one replica of the given computation.
type AliasFunc func(computation, device int) bool

// Validate checks that every slot is assigned, and that no device id is repeated within the same computation
// column unless mayAlias permits it. mayAlias can be nil, in which case no repetition is allowed.
func (da *DeviceAssignment) Validate(mayAlias AliasFunc) error {
	for computation := range da.computationCount {
		seen := sets.Make[int](da.replicaCount)
		for replica := range da.replicaCount {
			device := da.At(replica, computation)
			if device == Unassigned {
				return status.InvalidArgumentf("slot (replica=%d, computation=%d) is unassigned", replica, computation)
			}
			if seen.Has(device) && (mayAlias == nil || !mayAlias(computation, device)) {
				return status.InvalidArgumentf("device %d assigned more than once to computation %d", device, computation)
			}
			seen.Insert(device)
		}
	}
	return nil
}

// Equal returns whether both assignments have the same size and devices.
func (da *DeviceAssignment) Equal(other *DeviceAssignment) bool {
	if da == nil || other == nil {
		return da == other
	}
	return da.replicaCount == other.replicaCount && da.computationCount == other.computationCount &&
		slices.Equal(da.devices, other.devices)
}

// Clone returns a copy of the assignment.
func (da *DeviceAssignment) Clone() *DeviceAssignment {
	clone := *da
	clone.devices = slices.Clone(da.devices)
	return &clone
}

// String returns one line per computation listing the devices of its replicas.
func (da *DeviceAssignment) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Computations: %d Replicas: %d\n", da.computationCount, da.replicaCount)
	for computation := range da.computationCount {
		fmt.Fprintf(&sb, "Computation %d:", computation)
		for replica := range da.replicaCount {
			fmt.Fprintf(&sb, " %d", da.At(replica, computation))
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// ToProto converts the assignment to its XLA proto representation.
func (da *DeviceAssignment) ToProto() *xla_data.DeviceAssignmentProto {
	p := &xla_data.DeviceAssignmentProto{
		ReplicaCount:       int32(da.replicaCount),
		ComputationCount:   int32(da.computationCount),
		ComputationDevices: make([]*xla_data.DeviceAssignmentProto_ComputationDevice, da.computationCount),
	}
	for computation := range da.computationCount {
		ids := make([]int64, da.replicaCount)
		for replica := range da.replicaCount {
			ids[replica] = int64(da.At(replica, computation))
		}
		p.ComputationDevices[computation] = &xla_data.DeviceAssignmentProto_ComputationDevice{ReplicaDeviceIds: ids}
	}
	return p
}

// FromProto creates a DeviceAssignment from its XLA proto representation.
func FromProto(p *xla_data.DeviceAssignmentProto) (*DeviceAssignment, error) {
	if p == nil {
		return nil, status.InvalidArgumentf("nil DeviceAssignmentProto")
	}
	da, err := NewDeviceAssignment(int(p.GetReplicaCount()), int(p.GetComputationCount()))
	if err != nil {
		return nil, err
	}
	if len(p.GetComputationDevices()) != da.computationCount {
		return nil, status.InvalidArgumentf("DeviceAssignmentProto has %d computation devices, expected %d",
			len(p.GetComputationDevices()), da.computationCount)
	}
	for computation, devices := range p.GetComputationDevices() {
		ids := devices.GetReplicaDeviceIds()
		if len(ids) != da.replicaCount {
			return nil, status.InvalidArgumentf("DeviceAssignmentProto computation %d has %d replica devices, expected %d",
				computation, len(ids), da.replicaCount)
		}
		for replica, id := range ids {
			if err := da.Set(replica, computation, int(id)); err != nil {
				return nil, err
			}
		}
	}
	return da, nil
}

// Serialize returns the assignment as the (deterministic) binary encoding of its proto.
func (da *DeviceAssignment) Serialize() ([]byte, error) {
	data, err := proto.MarshalOptions{Deterministic: true}.Marshal(da.ToProto())
	if err != nil {
		return nil, errors.Wrap(err, "failed to serialize DeviceAssignment")
	}
	return data, nil
}

// Deserialize parses an assignment serialized with Serialize.
func Deserialize(data []byte) (*DeviceAssignment, error) {
	p := &xla_data.DeviceAssignmentProto{}
	if err := proto.Unmarshal(data, p); err != nil {
		return nil, status.InvalidArgumentf("failed to parse DeviceAssignmentProto: %v", err)
	}
	return FromProto(p)
}
