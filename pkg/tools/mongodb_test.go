package tools

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/merlinn-co/merlinn/pkg/models"
)

func TestMongoFindArgs_Parse(t *testing.T) {
	tests := []struct {
		name      string
		args      string
		defaultDB string
		wantDB    string
		wantLimit int64
		wantKeys  []string
		wantErr   string
	}{
		{name: "defaults", args: `{"collection":"orders"}`, defaultDB: "shop", wantDB: "shop", wantLimit: 10},
		{name: "clamped limit", args: `{"database":"x","collection":"c","limit":1000}`, wantDB: "x", wantLimit: mongoMaxLimit},
		{name: "ext json filter", args: `{"collection":"c","filter":{"status":"failed","_id":{"$oid":"65a000000000000000000000"}}}`,
			defaultDB: "shop", wantDB: "shop", wantLimit: 10, wantKeys: []string{"status", "_id"}},
		{name: "no database", args: `{"collection":"c"}`, wantErr: "database is required"},
		{name: "no collection", args: `{"collection":" "}`, defaultDB: "shop", wantErr: "collection is required"},
		{name: "bad filter", args: `{"collection":"c","filter":"nope"}`, defaultDB: "shop", wantErr: "invalid filter"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var a mongoFindArgs
			require.NoError(t, json.Unmarshal([]byte(tt.args), &a))
			filter, err := a.parse(tt.defaultDB)
			if tt.wantErr != "" {
				assert.ErrorContains(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantDB, a.Database)
			assert.Equal(t, tt.wantLimit, a.Limit)
			for _, k := range tt.wantKeys {
				assert.Contains(t, filter, k)
			}
		})
	}
}

func TestMongoDBLoader(t *testing.T) {
	_, err := MongoDBLoader(context.Background(), integration(models.VendorMongoDB), models.RunContext{})
	assert.Error(t, err)

	in := integration(models.VendorMongoDB)
	in.Credentials["connection_string"] = "mongodb://localhost:27017"
	tools, err := MongoDBLoader(context.Background(), in, models.RunContext{})
	require.NoError(t, err)
	assert.Len(t, tools, 2)
}
