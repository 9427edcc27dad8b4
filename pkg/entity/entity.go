package entity

// Provenance identifies the event that produced a staged row, kept around
// for diagnostics only.
type Provenance struct {
	ChainID uint64
	EventID string
}

// StagedRow is an entry of the in-memory store: a CRUD tag, the current
// entity value (nil once Deleted, or if it was only ever Read and later
// deleted without a cached value), and the provenance of whichever event
// last touched it.
type StagedRow struct {
	CRUD       CRUD
	Entity     any
	Provenance Provenance
}

// RawEventRecord is the persisted form of a decoded log, kept so that
// reprocessing a batch never needs to re-query the RPC provider.
type RawEventRecord struct {
	ChainID         uint64
	EventID         string
	BlockNumber     uint64
	BlockTimestamp  uint64
	BlockHash       string
	TxHash          string
	TxIndex         uint
	LogIndex        uint
	ContractAddress string
	EventName       string
	RawParamsJSON   string
}

// DynamicContractRegistration records a contract address that a handler
// registered at runtime, turning it into a fetch target for subsequent
// blocks on its chain.
type DynamicContractRegistration struct {
	ChainID            uint64
	ContractAddress    string
	ContractType       string
	RegisteringEventID string
}
