package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/merlinn-co/merlinn/pkg/models"
	"github.com/merlinn-co/merlinn/pkg/queue"
	"github.com/merlinn-co/merlinn/pkg/store"
)

var (
	owner  = models.Principal{UserID: "u-owner", OrganizationID: "org-1", Role: models.RoleOwner}
	member = models.Principal{UserID: "u-member", OrganizationID: "org-1", Role: models.RoleMember}
)

// prefixCipher "encrypts" by prefixing so tests can see what reached the store.
type prefixCipher struct{ failDecrypt bool }

func (c prefixCipher) EncryptMap(_ context.Context, values map[string]string) (map[string]string, error) {
	out := make(map[string]string, len(values))
	for k, v := range values {
		out[k] = "enc:" + v
	}
	return out, nil
}

func (c prefixCipher) DecryptMap(_ context.Context, values map[string]string) (map[string]string, error) {
	if c.failDecrypt {
		return nil, errors.New("bad key")
	}
	out := make(map[string]string, len(values))
	for k, v := range values {
		out[k] = strings.TrimPrefix(v, "enc:")
	}
	return out, nil
}

type fakePlans struct {
	states     map[string]*models.PlanFieldState
	increments []string
}

func (f *fakePlans) FieldState(_ context.Context, _ string, fieldCode string) (*models.PlanFieldState, error) {
	st, ok := f.states[fieldCode]
	if !ok {
		return nil, store.ErrNotFound
	}
	return st, nil
}

func (f *fakePlans) Increment(_ context.Context, organizationID, fieldCode string) error {
	f.increments = append(f.increments, organizationID+"/"+fieldCode)
	return nil
}

func numberField(code string, limit, used int) *models.PlanFieldState {
	v, _ := json.Marshal(limit)
	return &models.PlanFieldState{Code: code, Kind: models.PlanFieldNumber, Value: v, Used: used}
}

type fakeIntegrations struct {
	mu       sync.Mutex
	byVendor map[string]models.Integration
	created  []*models.Integration
	updates  []map[string]string
	createFn func(in *models.Integration) error
}

func newFakeIntegrations(ins ...models.Integration) *fakeIntegrations {
	f := &fakeIntegrations{byVendor: map[string]models.Integration{}}
	for _, in := range ins {
		f.byVendor[in.Vendor.Name] = in
	}
	return f
}

func (f *fakeIntegrations) ListByOrganization(_ context.Context, _ string) ([]models.Integration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Integration
	for _, in := range f.byVendor {
		out = append(out, in)
	}
	return out, nil
}

func (f *fakeIntegrations) GetByVendor(_ context.Context, _ string, vendor string) (*models.Integration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	in, ok := f.byVendor[vendor]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &in, nil
}

func (f *fakeIntegrations) Create(_ context.Context, in *models.Integration) error {
	if f.createFn != nil {
		if err := f.createFn(in); err != nil {
			return err
		}
	}
	in.ID = "int-new"
	f.created = append(f.created, in)
	return nil
}

func (f *fakeIntegrations) UpdateCredentials(_ context.Context, _ string, credentials map[string]string, _ map[string]any) (time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, credentials)
	return time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC), nil
}

type fakeIndexes struct {
	idx        *models.Index
	acquireErr error
	acquired   int
	failed     []string
	deleted    []string
	updateErr  error
	stale      []models.Index
	staleSince time.Time
}

func (f *fakeIndexes) Get(_ context.Context, id string) (*models.Index, error) {
	if f.idx == nil || f.idx.ID != id {
		return nil, store.ErrNotFound
	}
	return f.idx, nil
}

func (f *fakeIndexes) GetByOrganization(_ context.Context, organizationID string) (*models.Index, error) {
	if f.idx == nil || f.idx.OrganizationID != organizationID {
		return nil, store.ErrNotFound
	}
	return f.idx, nil
}

func (f *fakeIndexes) Acquire(_ context.Context, idx *models.Index) error {
	if f.acquireErr != nil {
		return f.acquireErr
	}
	f.acquired++
	idx.ID = "idx-1"
	idx.State.BuildID = fmt.Sprintf("build-%d", f.acquired)
	f.idx = idx
	return nil
}

func (f *fakeIndexes) UpdateSource(_ context.Context, id, buildID, source string, status models.SourceStatus, documents *int) (*models.Index, error) {
	if f.updateErr != nil {
		return nil, f.updateErr
	}
	if f.idx == nil || f.idx.ID != id {
		return nil, store.ErrNotFound
	}
	if f.idx.State.BuildID != buildID {
		return nil, store.ErrBuildSuperseded
	}
	f.idx.State = f.idx.State.WithSource(source, status)
	if documents != nil {
		if f.idx.Stats == nil {
			f.idx.Stats = map[string]int{}
		}
		f.idx.Stats[source] = *documents
	}
	return f.idx, nil
}

func (f *fakeIndexes) MarkFailed(_ context.Context, id, buildID string) error {
	if f.idx != nil && f.idx.ID == id && f.idx.State.BuildID != buildID {
		return store.ErrBuildSuperseded
	}
	f.failed = append(f.failed, id)
	if f.idx != nil && f.idx.ID == id {
		f.idx.State = f.idx.State.FailAll()
	}
	return nil
}

func (f *fakeIndexes) ListStale(_ context.Context, before time.Time) ([]models.Index, error) {
	f.staleSince = before
	return f.stale, nil
}

func (f *fakeIndexes) Delete(_ context.Context, id string) error {
	f.deleted = append(f.deleted, id)
	f.idx = nil
	return nil
}

type fakeDispatcher struct {
	tasks []queue.BuildTask
	err   error
}

func (f *fakeDispatcher) Dispatch(_ context.Context, task queue.BuildTask) error {
	if f.err != nil {
		return f.err
	}
	f.tasks = append(f.tasks, task)
	return nil
}

type fakeVectors struct {
	err     error
	deleted []string
}

func (f *fakeVectors) DeleteIndex(_ context.Context, name string) error {
	if f.err != nil {
		return f.err
	}
	f.deleted = append(f.deleted, name)
	return nil
}
