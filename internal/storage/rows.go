package storage

import "github.com/chainindexor/core/pkg/entity"

type entityRow struct {
	ID   string `meddler:"id,pk"`
	Data any    `meddler:"data,json"`
}

type rawEventRow struct {
	ChainID         uint64 `meddler:"chain_id,pk"`
	EventID         string `meddler:"event_id,pk"`
	BlockNumber     uint64 `meddler:"block_number"`
	BlockTimestamp  uint64 `meddler:"block_timestamp"`
	BlockHash       string `meddler:"block_hash"`
	TxHash          string `meddler:"tx_hash"`
	TxIndex         uint   `meddler:"tx_index"`
	LogIndex        uint   `meddler:"log_index"`
	ContractAddress string `meddler:"contract_address"`
	EventName       string `meddler:"event_name"`
	RawParamsJSON   string `meddler:"raw_params_json"`
}

func (r rawEventRow) toRecord() entity.RawEventRecord {
	return entity.RawEventRecord{
		ChainID:         r.ChainID,
		EventID:         r.EventID,
		BlockNumber:     r.BlockNumber,
		BlockTimestamp:  r.BlockTimestamp,
		BlockHash:       r.BlockHash,
		TxHash:          r.TxHash,
		TxIndex:         r.TxIndex,
		LogIndex:        r.LogIndex,
		ContractAddress: r.ContractAddress,
		EventName:       r.EventName,
		RawParamsJSON:   r.RawParamsJSON,
	}
}

func rawEventRowFrom(rec entity.RawEventRecord) rawEventRow {
	return rawEventRow{
		ChainID:         rec.ChainID,
		EventID:         rec.EventID,
		BlockNumber:     rec.BlockNumber,
		BlockTimestamp:  rec.BlockTimestamp,
		BlockHash:       rec.BlockHash,
		TxHash:          rec.TxHash,
		TxIndex:         rec.TxIndex,
		LogIndex:        rec.LogIndex,
		ContractAddress: rec.ContractAddress,
		EventName:       rec.EventName,
		RawParamsJSON:   rec.RawParamsJSON,
	}
}

type dynamicContractRow struct {
	ChainID            uint64 `meddler:"chain_id,pk"`
	ContractAddress    string `meddler:"contract_address,pk"`
	ContractType       string `meddler:"contract_type"`
	RegisteringEventID string `meddler:"registering_event_id"`
}

func (r dynamicContractRow) toRegistration() entity.DynamicContractRegistration {
	return entity.DynamicContractRegistration{
		ChainID:            r.ChainID,
		ContractAddress:    r.ContractAddress,
		ContractType:       r.ContractType,
		RegisteringEventID: r.RegisteringEventID,
	}
}

func dynamicContractRowFrom(reg entity.DynamicContractRegistration) dynamicContractRow {
	return dynamicContractRow{
		ChainID:            reg.ChainID,
		ContractAddress:    reg.ContractAddress,
		ContractType:       reg.ContractType,
		RegisteringEventID: reg.RegisteringEventID,
	}
}

type checkpointRow struct {
	ChainID             uint64 `meddler:"chain_id,pk"`
	LastProcessedBlock  uint64 `meddler:"last_processed_block"`
}
