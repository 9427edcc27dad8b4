package store

import (
	"testing"

	"github.com/chainindexor/core/pkg/entity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_SetGet(t *testing.T) {
	s := New(nil)

	s.Set("gravatar", "0xabc", "v1", entity.Create, entity.Provenance{ChainID: 1, EventID: "e1"})

	value, ok := s.Get("gravatar", "0xabc")
	require.True(t, ok)
	assert.Equal(t, "v1", value)
}

func TestStore_GetMissing(t *testing.T) {
	s := New(nil)

	_, ok := s.Get("gravatar", "missing")
	assert.False(t, ok)
}

func TestStore_CRUDFolding(t *testing.T) {
	tests := []struct {
		name     string
		sequence []entity.CRUD
		wantCRUD entity.CRUD
		wantGet  bool
	}{
		{
			name:     "create then read",
			sequence: []entity.CRUD{entity.Create, entity.Read},
			wantCRUD: entity.Create,
			wantGet:  true,
		},
		{
			name:     "create then update",
			sequence: []entity.CRUD{entity.Create, entity.Update},
			wantCRUD: entity.Create,
			wantGet:  true,
		},
		{
			name:     "create then delete",
			sequence: []entity.CRUD{entity.Create, entity.Delete},
			wantCRUD: entity.Delete,
			wantGet:  false,
		},
		{
			name:     "read then update",
			sequence: []entity.CRUD{entity.Read, entity.Update},
			wantCRUD: entity.Update,
			wantGet:  true,
		},
		{
			name:     "update then delete then update",
			sequence: []entity.CRUD{entity.Update, entity.Delete, entity.Update},
			wantCRUD: entity.Update,
			wantGet:  true,
		},
		{
			name:     "second create folds to update",
			sequence: []entity.CRUD{entity.Create, entity.Create},
			wantCRUD: entity.Update,
			wantGet:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New(nil)
			for _, tag := range tt.sequence {
				s.Set("gravatar", "0xabc", "v", tag, entity.Provenance{ChainID: 1, EventID: "e1"})
			}
			rows := s.Rows("gravatar")
			require.Contains(t, rows, "0xabc")
			assert.Equal(t, tt.wantCRUD, rows["0xabc"].CRUD)

			_, ok := s.Get("gravatar", "0xabc")
			assert.Equal(t, tt.wantGet, ok)
		})
	}
}

func TestStore_Delete(t *testing.T) {
	s := New(nil)
	s.Set("gravatar", "0xabc", "v1", entity.Create, entity.Provenance{})
	s.Delete("gravatar", "0xabc", entity.Provenance{ChainID: 2, EventID: "e2"})

	_, ok := s.Get("gravatar", "0xabc")
	assert.False(t, ok)

	row := s.Rows("gravatar")["0xabc"]
	require.NotNil(t, row)
	assert.Equal(t, entity.Delete, row.CRUD)
	assert.Equal(t, "v1", row.Entity)
	assert.Equal(t, uint64(2), row.Provenance.ChainID)
}

func TestStore_DeleteNeverStaged(t *testing.T) {
	s := New(nil)
	s.Delete("gravatar", "0xnew", entity.Provenance{})

	row := s.Rows("gravatar")["0xnew"]
	require.NotNil(t, row)
	assert.Equal(t, entity.Delete, row.CRUD)
	assert.Nil(t, row.Entity)
}

func TestStore_Reset(t *testing.T) {
	s := New(nil)
	s.Set("gravatar", "0xabc", "v1", entity.Create, entity.Provenance{})
	s.SetRawEvent(entity.RawEventRecord{ChainID: 1, EventID: "e1"}, entity.Create)

	s.Reset()

	assert.Empty(t, s.EntityTypes())
	assert.Nil(t, s.Rows("gravatar"))
	assert.Nil(t, s.RawEventRows())
}

func TestStore_EntityTypesExcludesReservedNamespaces(t *testing.T) {
	s := New(nil)
	s.Set("gravatar", "0xabc", "v1", entity.Create, entity.Provenance{})
	s.SetRawEvent(entity.RawEventRecord{ChainID: 1, EventID: "e1"}, entity.Create)
	s.SetDynamicContract(entity.DynamicContractRegistration{ChainID: 1, ContractAddress: "0xc"}, entity.Create)

	assert.Equal(t, []string{"gravatar"}, s.EntityTypes())
}

func TestStore_RawEventRowsKeyedByChainAndEventID(t *testing.T) {
	s := New(nil)
	rec := entity.RawEventRecord{ChainID: 7, EventID: "e9", EventName: "Transfer"}
	s.SetRawEvent(rec, entity.Create)

	rows := s.RawEventRows()
	require.Len(t, rows, 1)
	row, ok := rows["7:e9"]
	require.True(t, ok)
	assert.Equal(t, rec, row.Entity)
}

func TestStore_DynamicContractRowsKeyedByChainAndAddress(t *testing.T) {
	s := New(nil)
	reg := entity.DynamicContractRegistration{ChainID: 3, ContractAddress: "0xdead", ContractType: "pair"}
	s.SetDynamicContract(reg, entity.Create)

	rows := s.DynamicContractRows()
	require.Len(t, rows, 1)
	row, ok := rows["3:0xdead"]
	require.True(t, ok)
	assert.Equal(t, reg, row.Entity)
}
