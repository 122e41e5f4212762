package client_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/gorilla/mux"

	"github.com/ormgate-tech/ormgate/core/access"
	"github.com/ormgate-tech/ormgate/core/client"
	"github.com/ormgate-tech/ormgate/core/gateway"
	"github.com/ormgate-tech/ormgate/core/login"
	"github.com/ormgate-tech/ormgate/core/store"
)

type fakeVerifier struct{}

func (fakeVerifier) Authenticate(ctx context.Context, db, loginName, password string) (login.Session, error) {
	if db == "acme" && loginName == "a@x.com" && password == "secret" {
		return login.Session{UserID: 7, Login: loginName, SessionID: "session-1"}, nil
	}
	return login.Session{}, login.ErrInvalidCredentials
}

// fakeTokens is both the token source of the login service and the
// validator of the authentication middleware
type fakeTokens struct {
	issued map[string]access.Principal
}

func (f *fakeTokens) FindValidForUser(ctx context.Context, userID int64) (access.Token, error) {
	return access.Token{}, access.ErrNoToken
}

func (f *fakeTokens) Issue(ctx context.Context, principal access.Principal, ttl time.Duration) (access.Token, error) {
	secret := fmt.Sprintf("token-%d", len(f.issued)+1)
	f.issued[secret] = principal
	return access.Token{
		Secret:    secret,
		UserID:    principal.ID,
		UserLogin: principal.Login,
		ExpiresAt: time.Now().Add(ttl),
	}, nil
}

func (f *fakeTokens) FindValidBySecret(ctx context.Context, secret string) (access.Token, access.Principal, error) {
	principal, ok := f.issued[secret]
	if !ok {
		return access.Token{}, access.Principal{}, access.ErrNoToken
	}
	return access.Token{Secret: secret}, principal, nil
}

// memoryStore is a minimal in-memory record store for one model
type memoryStore struct {
	records map[int64]map[string]interface{}
	next    int64
}

func (m *memoryStore) lookup(model string) error {
	if model != "res_partner" {
		return fmt.Errorf("%w: %s", store.ErrModelNotFound, model)
	}
	return nil
}

func (m *memoryStore) Get(ctx context.Context, model string, id int64) (map[string]interface{}, error) {
	if err := m.lookup(model); err != nil {
		return nil, err
	}
	record, ok := m.records[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s id %d", store.ErrRecordNotFound, model, id)
	}
	return record, nil
}

func (m *memoryStore) Search(ctx context.Context, model string, q store.SearchQuery) ([]map[string]interface{}, error) {
	if err := m.lookup(model); err != nil {
		return nil, err
	}
	result := []map[string]interface{}{}
	for _, record := range m.records {
		result = append(result, record)
	}
	return result, nil
}

func (m *memoryStore) Fields(ctx context.Context, model string) (map[string]store.Field, error) {
	if err := m.lookup(model); err != nil {
		return nil, err
	}
	return map[string]store.Field{
		"name": {Name: "name", Kind: "char", Required: true},
	}, nil
}

func (m *memoryStore) Create(ctx context.Context, model string, data map[string]interface{}) ([]int64, error) {
	if err := m.lookup(model); err != nil {
		return nil, err
	}
	batch := []map[string]interface{}{data}
	if list, ok := data["records"].([]interface{}); ok && len(data) == 1 {
		batch = batch[:0]
		for _, entry := range list {
			record, ok := entry.(map[string]interface{})
			if !ok {
				return nil, fmt.Errorf("records must be objects, got %T", entry)
			}
			batch = append(batch, record)
		}
	}
	ids := []int64{}
	for _, data := range batch {
		m.next++
		record := map[string]interface{}{"id": m.next}
		for field, value := range data {
			record[field] = value
		}
		m.records[m.next] = record
		ids = append(ids, m.next)
	}
	return ids, nil
}

func (m *memoryStore) Update(ctx context.Context, model string, id int64, data map[string]interface{}) error {
	record, err := m.Get(ctx, model, id)
	if err != nil {
		return err
	}
	for field, value := range data {
		record[field] = value
	}
	return nil
}

func (m *memoryStore) Delete(ctx context.Context, model string, id int64) error {
	if _, err := m.Get(ctx, model, id); err != nil {
		return err
	}
	delete(m.records, id)
	return nil
}

func (m *memoryStore) Methods(ctx context.Context, model string) ([]string, error) {
	if err := m.lookup(model); err != nil {
		return nil, err
	}
	return []string{"search_count"}, nil
}

func (m *memoryStore) Execute(ctx context.Context, model, method string, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
	if err := m.lookup(model); err != nil {
		return nil, err
	}
	if method != "search_count" {
		return nil, fmt.Errorf("%w: %s", store.ErrMethodNotFound, method)
	}
	return int64(len(m.records)), nil
}

func newTestGateway() *mux.Router {
	tokens := &fakeTokens{issued: map[string]access.Principal{}}
	recordStore := &memoryStore{records: map[int64]map[string]interface{}{}}

	router := mux.NewRouter()
	router.Use(access.NewMiddleware(tokens))
	login.NewService(fakeVerifier{}, tokens).AddRoutes(router)
	gateway.New(recordStore).AddRoutes(router)
	return router
}

func TestLoginAndRecordRoundTrip(t *testing.T) {
	c := client.NewWithRouter(newTestGateway())

	c, result, err := c.Login("acme", "a@x.com", "secret")
	if err != nil {
		t.Fatal(err)
	}
	if result.Token == "" || result.SessionID != "session-1" || result.User.Email != "a@x.com" {
		t.Fatalf("unexpected login result %+v", result)
	}

	partners := c.Model("res_partner")

	id, err := partners.Create(map[string]interface{}{"name": "ACME"})
	if err != nil {
		t.Fatal(err)
	}
	if id == 0 {
		t.Fatal("no id assigned")
	}

	var record map[string]interface{}
	if _, err := partners.Get(id, &record); err != nil {
		t.Fatal(err)
	}
	if record["name"] != "ACME" {
		t.Fatalf("unexpected record %v", record)
	}

	if _, err := partners.Update(id, map[string]interface{}{"name": "ACME Inc"}); err != nil {
		t.Fatal(err)
	}
	if _, err := partners.Get(id, &record); err != nil {
		t.Fatal(err)
	}
	if record["name"] != "ACME Inc" {
		t.Fatalf("update lost: %v", record)
	}

	var records []map[string]interface{}
	if _, err := partners.Search(client.SearchRequest{Fields: []string{"name"}}, &records); err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 {
		t.Fatalf("unexpected search result %v", records)
	}

	var count int64
	if _, err := partners.Execute("search_count", nil, nil, &count); err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Fatalf("unexpected count %d", count)
	}

	var schema map[string]store.Field
	if _, err := partners.Schema(&schema); err != nil {
		t.Fatal(err)
	}
	if schema["name"].Kind != "char" {
		t.Fatalf("unexpected schema %v", schema)
	}

	if _, err := partners.Delete(id); err != nil {
		t.Fatal(err)
	}
	if _, err := partners.Get(id, &record); err == nil {
		t.Fatal("deleted record still readable")
	}
}

func TestCreateManyReturnsAllIDs(t *testing.T) {
	c := client.NewWithRouter(newTestGateway())
	c, _, err := c.Login("acme", "a@x.com", "secret")
	if err != nil {
		t.Fatal(err)
	}
	partners := c.Model("res_partner")

	ids, err := partners.CreateMany([]map[string]interface{}{
		{"name": "ACME"}, {"name": "Globex"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 2 {
		t.Fatalf("expected 2 ids, got %v", ids)
	}

	// a batch of one still comes back as a list
	ids, err = partners.CreateMany([]map[string]interface{}{{"name": "Initech"}})
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 1 || ids[0] == 0 {
		t.Fatalf("expected one id, got %v", ids)
	}
}

func TestLoginFailureIsSurfaced(t *testing.T) {
	c := client.NewWithRouter(newTestGateway())

	_, _, err := c.Login("acme", "a@x.com", "wrong")
	if err == nil {
		t.Fatal("expected an error")
	}
}

func TestRequestWithoutTokenIsRejected(t *testing.T) {
	c := client.NewWithRouter(newTestGateway())

	var record map[string]interface{}
	status, err := c.Model("res_partner").Get(1, &record)
	if err == nil {
		t.Fatal("expected an error")
	}
	if status != 401 {
		t.Fatalf("expected 401, got %d", status)
	}
}

func TestGatewayErrorCarriesMessage(t *testing.T) {
	c := client.NewWithRouter(newTestGateway())
	c, _, err := c.Login("acme", "a@x.com", "secret")
	if err != nil {
		t.Fatal(err)
	}

	var record map[string]interface{}
	status, err := c.Model("no_such_model").Get(1, &record)
	if status != 404 || err == nil {
		t.Fatalf("expected 404 with error, got %d %v", status, err)
	}
}
