package audit

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/pesio-ai/be-contracts-access/internal/errors"
	"github.com/pesio-ai/be-contracts-access/internal/repository"
	"github.com/pesio-ai/be-contracts-access/internal/repository/memory"
)

func TestLedger_RecordStartsPending(t *testing.T) {
	store := memory.NewStore()
	l := NewLedger(store.AuditLogs())
	ctx := context.Background()

	id, err := l.RecordUpdate(ctx, Mutation{
		OrganisationID: "org",
		EntityType:     "contract",
		EntityID:       "c1",
		ActorID:        "u1",
		Before:         map[string]any{"title": "a"},
		After:          map[string]any{"title": "b"},
		Metadata:       map[string]any{"source": "api"},
	})
	require.NoError(t, err)

	entry, err := store.AuditLogs().GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, repository.ActionUpdate, entry.Action)
	assert.Equal(t, repository.ApprovalPending, entry.ApprovalStatus)
	assert.True(t, entry.ApprovalRequired)
	assert.JSONEq(t, `{"title":"a"}`, string(entry.Before))
	assert.JSONEq(t, `{"title":"b"}`, string(entry.After))
	assert.Equal(t, "api", entry.Metadata["source"])

	require.NoError(t, l.SetApprovalStatus(ctx, id, repository.ApprovalNotRequired, false))
	entry, err = store.AuditLogs().GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, repository.ApprovalNotRequired, entry.ApprovalStatus)
	assert.False(t, entry.ApprovalRequired)
}

func TestLedger_CreateAndDeleteDropOneSide(t *testing.T) {
	store := memory.NewStore()
	l := NewLedger(store.AuditLogs())
	ctx := context.Background()

	m := Mutation{OrganisationID: "org", EntityType: "contract", EntityID: "c1", Before: "x", After: "y"}

	id, err := l.RecordCreate(ctx, m)
	require.NoError(t, err)
	entry, err := store.AuditLogs().GetByID(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, entry.Before)
	assert.JSONEq(t, `"y"`, string(entry.After))

	id, err = l.RecordDelete(ctx, m)
	require.NoError(t, err)
	entry, err = store.AuditLogs().GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, repository.ActionDelete, entry.Action)
	assert.Nil(t, entry.After)
}

func TestLedger_Validation(t *testing.T) {
	l := NewLedger(memory.NewStore().AuditLogs())

	_, err := l.RecordCreate(context.Background(), Mutation{EntityType: "contract", EntityID: "c1"})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidInput))

	_, err = l.RecordCreate(context.Background(), Mutation{OrganisationID: "org", After: make(chan int), EntityType: "contract", EntityID: "c1"})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidInput))
}

func TestLedger_StoreFailure(t *testing.T) {
	store := memory.NewStore()
	store.FailNext = errors.New("disk full")
	l := NewLedger(store.AuditLogs())

	_, err := l.RecordCreate(context.Background(), Mutation{OrganisationID: "org", EntityType: "contract", EntityID: "c1"})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeTransientStore))
}

func TestChangedFields(t *testing.T) {
	tests := []struct {
		name   string
		before string
		after  string
		want   []string
	}{
		{"identical", `{"a":1,"b":"x"}`, `{"b":"x","a":1}`, nil},
		{"changed scalar", `{"a":1,"b":"x"}`, `{"a":2,"b":"x"}`, []string{"a"}},
		{"added and removed", `{"a":1}`, `{"b":1}`, []string{"a", "b"}},
		{"null vs value", `{"team_id":null}`, `{"team_id":"t1"}`, []string{"team_id"}},
		{"nested whitespace", `{"o":{"k": 1}}`, `{"o":{"k":1}}`, nil},
		{"nested change", `{"o":{"k":1}}`, `{"o":{"k":2}}`, []string{"o"}},
		{"empty before", ``, `{"a":1}`, []string{"a"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ChangedFields([]byte(tt.before), []byte(tt.after)))
		})
	}
}

func TestField(t *testing.T) {
	payload := []byte(`{"total_amount":"1200.50","title":"Lease"}`)
	assert.Equal(t, "1200.50", Field(payload, "total_amount").String())
	assert.False(t, Field(payload, "missing").Exists())
}
