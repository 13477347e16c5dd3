package vectorindex

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/fault"
)

type fakeSchema struct {
	exists    bool
	existsErr error
	deleteErr error
	deleted   []string
}

func (f *fakeSchema) ClassExists(_ context.Context, _ string) (bool, error) {
	return f.exists, f.existsErr
}

func (f *fakeSchema) DeleteClass(_ context.Context, name string) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deleted = append(f.deleted, name)
	return nil
}

func TestClassName(t *testing.T) {
	assert.Equal(t, "Org_4f1c2a9e_0b1d", ClassName("4f1c2a9e-0b1d"))
	assert.Equal(t, "Org_", ClassName(""))
}

func TestStore_DeleteIndex(t *testing.T) {
	t.Run("deletes existing class", func(t *testing.T) {
		schema := &fakeSchema{exists: true}
		s := &Store{schema: schema}
		require.NoError(t, s.DeleteIndex(context.Background(), "Org_1"))
		assert.Equal(t, []string{"Org_1"}, schema.deleted)
	})

	t.Run("missing class is a no-op", func(t *testing.T) {
		schema := &fakeSchema{}
		s := &Store{schema: schema}
		require.NoError(t, s.DeleteIndex(context.Background(), "Org_1"))
		assert.Empty(t, schema.deleted)
	})

	t.Run("delete failure is reported", func(t *testing.T) {
		schema := &fakeSchema{exists: true, deleteErr: &fault.WeaviateClientError{StatusCode: 500, Msg: "boom"}}
		s := &Store{schema: schema}
		err := s.DeleteIndex(context.Background(), "Org_1")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "status 500: boom")
	})

	t.Run("existence check failure is reported", func(t *testing.T) {
		s := &Store{schema: &fakeSchema{existsErr: errors.New("connection refused")}}
		err := s.DeleteIndex(context.Background(), "Org_1")
		assert.ErrorContains(t, err, "connection refused")
	})
}
