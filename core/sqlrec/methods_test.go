package sqlrec

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/ormgate-tech/ormgate/core/store"
)

func TestMethodsSurface(t *testing.T) {
	s, _ := newMockStore(t)
	ctx := context.Background()

	methods, err := s.Methods(ctx, "res_partner")
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]bool{"fields_get": true, "name_get": true, "search_count": true, "search_read": true}
	if len(methods) != len(want) {
		t.Fatalf("unexpected surface %v", methods)
	}
	for _, method := range methods {
		if !want[method] {
			t.Fatalf("unexpected method %s", method)
		}
	}

	// callers get a copy, not the surface itself
	methods[0] = "unlink"
	again, _ := s.Methods(ctx, "res_partner")
	for _, method := range again {
		if method == "unlink" {
			t.Fatal("surface is mutable through the returned slice")
		}
	}

	if _, err := s.Methods(ctx, "no_such_model"); !errors.Is(err, store.ErrModelNotFound) {
		t.Fatalf("expected model not found, got %v", err)
	}
}

func TestExecuteUnknownMethod(t *testing.T) {
	s, _ := newMockStore(t)

	_, err := s.Execute(context.Background(), "res_partner", "unlink", nil, nil)
	if !errors.Is(err, store.ErrMethodNotFound) {
		t.Fatalf("expected method not found, got %v", err)
	}
}

func TestExecuteSearchCount(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT count.+ FROM unit_test."res_partner" WHERE "is_company" = `).
		WithArgs(true).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(12)))

	result, err := s.Execute(context.Background(), "res_partner", "search_count",
		[]interface{}{[]interface{}{[]interface{}{"is_company", "=", true}}}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if result != int64(12) {
		t.Fatalf("unexpected count %v", result)
	}
}

func TestExecuteSearchRead(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT "id","name" FROM unit_test."res_partner" WHERE "is_company" = .+ ORDER BY "name" LIMIT 1;`).
		WithArgs(true).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).AddRow(int64(1), "ACME"))

	result, err := s.Execute(context.Background(), "res_partner", "search_read",
		[]interface{}{[]interface{}{[]interface{}{"is_company", "=", true}}},
		map[string]interface{}{
			"fields": []interface{}{"name"},
			"limit":  1.0,
			"order":  "name",
		})
	if err != nil {
		t.Fatal(err)
	}
	records, ok := result.([]map[string]interface{})
	if !ok || len(records) != 1 || records[0]["name"] != "ACME" {
		t.Fatalf("unexpected result %v", result)
	}
}

func TestExecuteNameGet(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT "name" FROM unit_test."res_company" WHERE id = `).
		WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("HQ"))

	result, err := s.Execute(context.Background(), "res_company", "name_get",
		[]interface{}{[]interface{}{3.0}}, nil)
	if err != nil {
		t.Fatal(err)
	}
	references, ok := result.([]store.Reference)
	if !ok || len(references) != 1 || references[0] != (store.Reference{ID: 3, Label: "HQ"}) {
		t.Fatalf("unexpected result %v", result)
	}
}

// a model without a textual field has no display field; its labels fall
// back to the "model,id" form without touching the database
func TestExecuteNameGetFallbackLabel(t *testing.T) {
	s, mock := newMockStore(t)

	result, err := s.Execute(context.Background(), "audit_event", "name_get",
		[]interface{}{[]interface{}{5.0}}, nil)
	if err != nil {
		t.Fatal(err)
	}
	references := result.([]store.Reference)
	if references[0].Label != "audit_event,5" {
		t.Fatalf("unexpected label %q", references[0].Label)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestExecuteFieldsGet(t *testing.T) {
	s, _ := newMockStore(t)

	result, err := s.Execute(context.Background(), "res_partner", "fields_get", nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	fields, ok := result.(map[string]interface{})
	if !ok {
		t.Fatalf("unexpected result %v", result)
	}
	id := fields["id"].(map[string]interface{})
	if id["readonly"] != true {
		t.Fatalf("id must be readonly: %v", id)
	}
	companyID := fields["company_id"].(map[string]interface{})
	if companyID["relation"] != "res_company" {
		t.Fatalf("relation metadata lost: %v", companyID)
	}
}

func TestExecuteSearchReadRejectsBadArguments(t *testing.T) {
	s, _ := newMockStore(t)
	ctx := context.Background()

	if _, err := s.Execute(ctx, "res_partner", "search_read",
		[]interface{}{"not-a-domain"}, nil); err == nil {
		t.Fatal("malformed domain accepted")
	}
	if _, err := s.Execute(ctx, "res_partner", "search_read", nil,
		map[string]interface{}{"fields": "name"}); err == nil {
		t.Fatal("fields must be a list")
	}
	if _, err := s.Execute(ctx, "res_partner", "name_get", nil, nil); err == nil {
		t.Fatal("name_get without ids accepted")
	}
}
