// Package storage declares the durable-storage interface the commit
// engine drives. Implementations live under internal/storage; this
// package exists so the commit engine and the runtime depend only on
// the interface, never on a concrete database driver.
package storage

import (
	"context"

	"github.com/chainindexor/core/pkg/entity"
)

// Row is a plain structured entity value read from or written to
// durable storage. Serialization to the underlying store is the
// collaborator's concern, not the commit engine's.
type Row struct {
	ID    string
	Value any
}

// Storage is the durable-storage collaborator the commit engine and the
// loader/handler runtime depend on. A single transaction is scoped to
// one WithTx call; Tx must not be retained past it.
type Storage interface {
	// WithTx runs fn inside a single transaction. If fn returns an
	// error the transaction rolls back; otherwise it commits.
	WithTx(ctx context.Context, fn func(Tx) error) error
}

// Tx is the set of bulk operations available inside a transaction.
type Tx interface {
	BatchRead(ctx context.Context, entityType string, ids []string) ([]Row, error)
	BatchUpsert(ctx context.Context, entityType string, rows []Row) error
	BatchDelete(ctx context.Context, entityType string, ids []string) error

	BatchSetRawEvents(ctx context.Context, records []entity.RawEventRecord) error
	BatchDeleteRawEvents(ctx context.Context, keys []RawEventKey) error
	LatestProcessedBlock(ctx context.Context, chainID uint64) (block uint64, ok bool, err error)
	SetLatestProcessedBlock(ctx context.Context, chainID uint64, block uint64) error

	BatchSetDynamicContracts(ctx context.Context, regs []entity.DynamicContractRegistration) error
	BatchDeleteDynamicContracts(ctx context.Context, keys []DynamicContractKey) error
	AllDynamicContracts(ctx context.Context) ([]entity.DynamicContractRegistration, error)
}

// RawEventKey identifies a raw event record for deletion.
type RawEventKey struct {
	ChainID uint64
	EventID string
}

// DynamicContractKey identifies a dynamic contract registration for
// deletion.
type DynamicContractKey struct {
	ChainID uint64
	Address string
}
