package vsphere

import (
	"strconv"
	"strings"

	"github.com/steveyegge/invsync/internal/inventory/graph"
)

func mapVirtualMachine(obj graph.Object) ([]*graph.Record, error) {
	vm := primary(RecordVM, obj)
	vm.UID = obj.String("config.uuid", "")

	guest := obj.String("config.guestFullName", "")
	if guest == "" {
		guest = obj.String("guest.guestFullName", "")
	}
	vm.Set("power_state", powerState(obj.String("runtime.powerState", ""))).
		Set("template", obj.Bool("config.template", false)).
		Set("guest_os", guest).
		Set("cpus", obj.Int("config.hardware.numCPU", 0)).
		Set("memory_mb", obj.Int("config.hardware.memoryMB", 0))

	vm.Relate("host", obj.Ref("runtime.host", "HostSystem")).
		Relate("resource_pool", obj.Ref("resourcePool", "ResourcePool")).
		RelateAll("datastores", obj.Refs("datastore", "Datastore")).
		RelateAll("networks", obj.Refs("network", "Network"))

	records := []*graph.Record{vm}
	for _, raw := range obj.Slice("config.hardware.device") {
		dev, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		device := graph.NewObject(obj.ID, dev, nil)
		key := deviceKey(device)
		if key == "" {
			continue
		}

		if file := device.String("backing.fileName", ""); file != "" {
			disk := vm.Child(RecordVMDisk, key).
				Set("label", device.String("deviceInfo.label", "")).
				Set("file", file).
				Set("capacity_kb", device.Int("capacityInKB", 0)).
				Set("thin", device.Bool("backing.thinProvisioned", false))
			disk.Name = device.String("deviceInfo.label", key)
			disk.Relate("datastore", refAt(obj, device, "backing.datastore", "Datastore"))
			records = append(records, disk)
		}

		if mac := device.String("macAddress", ""); mac != "" {
			nic := vm.Child(RecordVMNic, key).
				Set("label", device.String("deviceInfo.label", "")).
				Set("mac", strings.ToLower(mac)).
				Set("connected", device.Bool("connectable.connected", false))
			nic.Name = device.String("deviceInfo.label", key)
			nic.Relate("network", refAt(obj, device, "backing.network", "Network"))
			records = append(records, nic)
		}
	}
	return records, nil
}

// refAt reads a reference nested inside a device, typed through obj's registry.
func refAt(obj, device graph.Object, path, defaultObjectType string) graph.Ref {
	v, ok := device.Value(path)
	if !ok {
		return graph.Ref{}
	}
	return obj.RefOf(v, defaultObjectType)
}

// deviceKey returns the device key, unique within its VM.
func deviceKey(device graph.Object) string {
	v, ok := device.Value("key")
	if !ok {
		return ""
	}
	if n := graph.AsInt(v, -1); n >= 0 {
		return strconv.FormatInt(n, 10)
	}
	return graph.AsString(v, "")
}

func mapHostSystem(obj graph.Object) ([]*graph.Record, error) {
	host := primary(RecordHost, obj)
	host.UID = obj.String("hardware.systemInfo.uuid", "")

	product := obj.String("config.product.name", "")
	subtype := "esx"
	if strings.Contains(strings.ToLower(product), "esxi") {
		subtype = "esxi"
	}
	host.Set("vendor", obj.String("hardware.systemInfo.vendor", obj.String("summary.hardware.vendor", ""))).
		Set("model", obj.String("hardware.systemInfo.model", "")).
		Set("product", product).
		Set("version", obj.String("config.product.version", "")).
		Set("subtype", subtype).
		Set("power_state", powerState(obj.String("runtime.powerState", ""))).
		Set("maintenance", obj.Bool("runtime.inMaintenanceMode", false))

	host.RelateAll("datastores", obj.Refs("datastore", "Datastore")).
		RelateAll("networks", obj.Refs("network", "Network"))

	records := []*graph.Record{host}
	for _, raw := range obj.Slice("config.network.pnic") {
		pnic, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		p := graph.NewObject(obj.ID, pnic, nil)
		device := p.String("device", "")
		key := p.String("key", device)
		if key == "" {
			continue
		}
		nic := host.Child(RecordHostNic, key).
			Set("device", device).
			Set("mac", strings.ToLower(p.String("mac", ""))).
			Set("speed_mb", p.Int("linkSpeed.speedMb", 0))
		nic.Name = device
		records = append(records, nic)
	}
	return records, nil
}

func mapCluster(obj graph.Object) ([]*graph.Record, error) {
	cluster := primary(RecordCluster, obj)
	cluster.Set("ha_enabled", obj.Bool("configurationEx.dasConfig.enabled", false)).
		Set("drs_enabled", obj.Bool("configurationEx.drsConfig.enabled", false))
	return []*graph.Record{cluster}, nil
}

func mapResourcePool(obj graph.Object) ([]*graph.Record, error) {
	pool := primary(RecordResourcePool, obj)
	pool.Set("cpu_limit", obj.Int("config.cpuAllocation.limit", -1)).
		Set("memory_limit", obj.Int("config.memoryAllocation.limit", -1))
	return []*graph.Record{pool}, nil
}
