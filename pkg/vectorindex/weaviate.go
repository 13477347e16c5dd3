// Package vectorindex manages the document index store the builder writes to.
package vectorindex

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/auth"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/fault"

	"github.com/merlinn-co/merlinn/pkg/config"
)

// ClassName returns the index class for an organization. Weaviate class
// names must start with an upper-case letter and hold only letters, digits
// and underscores.
func ClassName(organizationID string) string {
	var b strings.Builder
	b.WriteString("Org_")
	for _, r := range organizationID {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

// classDeleter is the narrow schema surface Store needs.
type classDeleter interface {
	DeleteClass(ctx context.Context, className string) error
	ClassExists(ctx context.Context, className string) (bool, error)
}

type weaviateSchema struct {
	client *weaviate.Client
}

func (w weaviateSchema) DeleteClass(ctx context.Context, className string) error {
	return w.client.Schema().ClassDeleter().WithClassName(className).Do(ctx)
}

func (w weaviateSchema) ClassExists(ctx context.Context, className string) (bool, error) {
	return w.client.Schema().ClassExistenceChecker().WithClassName(className).Do(ctx)
}

// Store tears down organization indexes in Weaviate.
type Store struct {
	schema classDeleter
}

// New creates a Store from configuration.
func New(cfg config.WeaviateConfig) (*Store, error) {
	wc := weaviate.Config{Host: cfg.Host, Scheme: cfg.Scheme}
	if key := cfg.APIKey(); key != "" {
		wc.AuthConfig = auth.ApiKey{Value: key}
	}
	client, err := weaviate.NewClient(wc)
	if err != nil {
		return nil, fmt.Errorf("creating weaviate client: %w", err)
	}
	return &Store{schema: weaviateSchema{client: client}}, nil
}

// DeleteIndex removes the class holding name's documents. A class that does
// not exist is already torn down.
func (s *Store) DeleteIndex(ctx context.Context, name string) error {
	exists, err := s.schema.ClassExists(ctx, name)
	if err != nil {
		return fmt.Errorf("checking index %s: %w", name, describe(err))
	}
	if !exists {
		slog.Info("Vector index already absent", "index", name)
		return nil
	}
	if err := s.schema.DeleteClass(ctx, name); err != nil {
		return fmt.Errorf("deleting index %s: %w", name, describe(err))
	}
	slog.Info("Vector index deleted", "index", name)
	return nil
}

// describe unwraps the weaviate client's error type, whose Error() hides
// the server message.
func describe(err error) error {
	if we, ok := err.(*fault.WeaviateClientError); ok {
		if we.DerivedFromError != nil {
			return fmt.Errorf("status %d: %s: %w", we.StatusCode, we.Msg, we.DerivedFromError)
		}
		return fmt.Errorf("status %d: %s", we.StatusCode, we.Msg)
	}
	return err
}
