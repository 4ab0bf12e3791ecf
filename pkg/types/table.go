package types

// TableInfo is the registry row of a logical table.
type TableInfo struct {
	// TableID is the immutable identifier of the table
	TableID string `json:"table_id"`

	// TableName is the optional short name, unique when set
	TableName string `json:"table_name,omitempty"`

	// TablePath is the unique physical location of the table
	TablePath string `json:"table_path"`

	// TableSchema is the serialized schema, opaque to the metadata engine
	TableSchema string `json:"table_schema,omitempty"`

	// Properties is free-form table configuration (last writer wins)
	Properties map[string]string `json:"properties,omitempty"`

	// Partitions lists the partition-key column names in order
	Partitions []string `json:"partitions,omitempty"`
}

// TableNameID maps a short table name to its table id.
type TableNameID struct {
	TableName string `json:"table_name"`
	TableID   string `json:"table_id"`
}

// TablePathID maps a table path to its table id.
type TablePathID struct {
	TablePath string `json:"table_path"`
	TableID   string `json:"table_id"`
}

// Clone returns a deep copy of the table info.
func (t TableInfo) Clone() TableInfo {
	cp := t
	if t.Properties != nil {
		cp.Properties = make(map[string]string, len(t.Properties))
		for k, v := range t.Properties {
			cp.Properties[k] = v
		}
	}
	if t.Partitions != nil {
		cp.Partitions = append([]string(nil), t.Partitions...)
	}
	return cp
}
