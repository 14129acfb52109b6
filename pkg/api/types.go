package api

// SizeHeader carries the value length on HEAD and GET blob responses.
const SizeHeader = "X-Flashkv-Size"

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Code  int    `json:"code"`
	Error string `json:"error"`
}

// PartitionResponse describes one partition table entry.
type PartitionResponse struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Subtype     string `json:"subtype"`
	Offset      int64  `json:"offset"`
	Size        int64  `json:"size"`
	ReadOnly    bool   `json:"read_only"`
	KV          bool   `json:"kv"`
	Initialized bool   `json:"initialized"`
}

// PartitionList is the response of GET /v1/partitions.
type PartitionList struct {
	TableID    string              `json:"table_id"`
	Partitions []PartitionResponse `json:"partitions"`
}

// NamespaceList is the response of GET /v1/partitions/{p}/namespaces.
type NamespaceList struct {
	Partition  string   `json:"partition"`
	Namespaces []string `json:"namespaces"`
}

// KeyList is the response of GET /v1/partitions/{p}/namespaces/{ns}.
type KeyList struct {
	Partition string   `json:"partition"`
	Namespace string   `json:"namespace"`
	Keys      []string `json:"keys"`
}

// EraseNamespaceResponse reports how many keys a namespace delete removed.
type EraseNamespaceResponse struct {
	Partition string `json:"partition"`
	Namespace string `json:"namespace"`
	Deleted   int    `json:"deleted"`
}
