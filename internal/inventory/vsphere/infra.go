package vsphere

import "github.com/steveyegge/invsync/internal/inventory/graph"

func mapDatastore(obj graph.Object) ([]*graph.Record, error) {
	ds := graph.NewRecord(RecordDatastore, obj.ID)
	ds.Name = name(obj)
	ds.Set("store_type", obj.String("summary.type", "")).
		Set("url", obj.String("summary.url", "")).
		Set("capacity", obj.Int("summary.capacity", 0)).
		Set("free_space", obj.Int("summary.freeSpace", 0)).
		Set("accessible", obj.Bool("summary.accessible", true))
	return []*graph.Record{ds}, nil
}

// mapNetwork covers standard networks and distributed portgroups.
func mapNetwork(obj graph.Object) ([]*graph.Record, error) {
	net := primary(RecordNetwork, obj)
	kind := "standard"
	if obj.ID.Type == "DistributedVirtualPortgroup" {
		kind = "distributed"
		if vlan, ok := obj.Value("config.defaultPortConfig.vlan.vlanId"); ok {
			net.Set("vlan_id", graph.AsInt(vlan, 0))
		}
	}
	net.Set("kind", kind)
	return []*graph.Record{net}, nil
}

func mapFolder(obj graph.Object) ([]*graph.Record, error) {
	return []*graph.Record{primary(RecordFolder, obj)}, nil
}

func mapDatacenter(obj graph.Object) ([]*graph.Record, error) {
	return []*graph.Record{primary(RecordDatacenter, obj)}, nil
}
