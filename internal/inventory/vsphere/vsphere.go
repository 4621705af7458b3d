// Package vsphere maps vSphere managed objects onto inventory records.
//
// Each mapper reads the cumulative property tree of one object as delivered
// by the property collector. References are ManagedObjectReference values,
// either {"type": ..., "value": ...} maps or bare ref strings. A bare string
// is typed with the property's usual target type; a bare network ref that
// turns out to be a DistributedVirtualPortgroup still resolves, since both
// map to the network record type.
package vsphere

import (
	"strings"

	"github.com/steveyegge/invsync/internal/inventory/graph"
)

// Record types produced by this package.
const (
	RecordVM           = "vm"
	RecordVMDisk       = "vm_disk"
	RecordVMNic        = "vm_nic"
	RecordHost         = "host"
	RecordHostNic      = "host_nic"
	RecordCluster      = "cluster"
	RecordDatastore    = "datastore"
	RecordNetwork      = "network"
	RecordResourcePool = "resource_pool"
	RecordFolder       = "folder"
	RecordDatacenter   = "datacenter"
)

// Register installs every vSphere mapper into reg.
func Register(reg *graph.Registry) {
	reg.Register("VirtualMachine", RecordVM, mapVirtualMachine)
	reg.Register("HostSystem", RecordHost, mapHostSystem)
	reg.Register("ClusterComputeResource", RecordCluster, mapCluster)
	reg.Register("Datastore", RecordDatastore, mapDatastore)
	reg.Register("Network", RecordNetwork, mapNetwork)
	reg.Register("DistributedVirtualPortgroup", RecordNetwork, mapNetwork)
	reg.Register("ResourcePool", RecordResourcePool, mapResourcePool)
	reg.Register("Folder", RecordFolder, mapFolder)
	reg.Register("Datacenter", RecordDatacenter, mapDatacenter)
}

// NewRegistry returns a registry with every vSphere mapper installed.
func NewRegistry() *graph.Registry {
	reg := graph.NewRegistry()
	Register(reg)
	return reg
}

// vSphere escapes these characters in entity names.
var nameDecoder = strings.NewReplacer(
	"%25", "%",
	"%2f", "/", "%2F", "/",
	"%5c", `\`, "%5C", `\`,
)

// DecodeName reverses the escaping vSphere applies to entity names.
func DecodeName(name string) string {
	if !strings.Contains(name, "%") {
		return name
	}
	return nameDecoder.Replace(name)
}

// name reads and decodes the object's name.
func name(obj graph.Object) string {
	return DecodeName(obj.String("name", ""))
}

// powerState normalizes VirtualMachinePowerState and HostSystemPowerState.
func powerState(raw string) string {
	switch raw {
	case "poweredOn":
		return "on"
	case "poweredOff":
		return "off"
	case "suspended":
		return "suspended"
	case "standBy":
		return "standby"
	default:
		return "unknown"
	}
}

// primary creates the primary record with the common fields filled in.
func primary(recordType string, obj graph.Object) *graph.Record {
	rec := graph.NewRecord(recordType, obj.ID)
	rec.Name = name(obj)
	rec.Relate("parent", obj.Ref("parent", "Folder"))
	return rec
}
