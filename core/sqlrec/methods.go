package sqlrec

import (
	"context"
	"fmt"

	"github.com/ormgate-tech/ormgate/core/store"
)

// exposedMethods is the method surface every model offers for execute_kw.
// Method invocation never goes through reflection; only the names listed
// here can be executed.
var exposedMethods = []string{"fields_get", "name_get", "search_count", "search_read"}

// Methods returns the names of the methods a model exposes for Execute.
func (s *Store) Methods(ctx context.Context, modelName string) ([]string, error) {
	if _, err := s.lookup(modelName); err != nil {
		return nil, err
	}
	methods := make([]string, len(exposedMethods))
	copy(methods, exposedMethods)
	return methods, nil
}

// Execute invokes an exposed method with positional and keyword arguments.
func (s *Store) Execute(ctx context.Context, modelName, method string, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
	m, err := s.lookup(modelName)
	if err != nil {
		return nil, err
	}

	switch method {
	case "search_read":
		return s.executeSearchRead(ctx, m, args, kwargs)
	case "search_count":
		return s.executeSearchCount(ctx, m, args)
	case "name_get":
		return s.executeNameGet(ctx, m, args)
	case "fields_get":
		return s.executeFieldsGet(ctx, m)
	}
	return nil, fmt.Errorf("%w: %s on model %s", store.ErrMethodNotFound, method, modelName)
}

func (s *Store) executeSearchRead(ctx context.Context, m *model, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
	q := store.SearchQuery{}
	if len(args) > 0 {
		domain, ok := args[0].([]interface{})
		if !ok {
			return nil, fmt.Errorf("search_read requires a domain as first argument")
		}
		q.Domain = domain
	}
	if fields, ok := kwargs["fields"]; ok {
		list, err := stringList("fields", fields)
		if err != nil {
			return nil, err
		}
		q.Fields = list
	}
	if limit, ok := kwargs["limit"]; ok {
		n, err := toInt64("limit", limit)
		if err != nil {
			return nil, err
		}
		q.Limit = int(n)
	}
	if order, ok := kwargs["order"]; ok {
		orderBy, ok := order.(string)
		if !ok {
			return nil, fmt.Errorf("order requires a string, got %T", order)
		}
		q.OrderBy = orderBy
	}
	return s.Search(ctx, m.name, q)
}

func (s *Store) executeSearchCount(ctx context.Context, m *model, args []interface{}) (interface{}, error) {
	var domain []interface{}
	if len(args) > 0 {
		list, ok := args[0].([]interface{})
		if !ok {
			return nil, fmt.Errorf("search_count requires a domain as first argument")
		}
		domain = list
	}
	where, parameters, err := s.whereClause(m, domain)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf("SELECT count(*) FROM %s.\"%s\"%s;", s.db.Schema, m.name, where)
	var count int64
	if err := s.db.QueryRowContext(ctx, query, parameters...).Scan(&count); err != nil {
		return nil, err
	}
	return count, nil
}

func (s *Store) executeNameGet(ctx context.Context, m *model, args []interface{}) (interface{}, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("name_get requires a list of ids")
	}
	list, ok := args[0].([]interface{})
	if !ok {
		return nil, fmt.Errorf("name_get requires a list of ids")
	}
	references := make([]store.Reference, 0, len(list))
	for _, item := range list {
		id, err := toInt64("id", item)
		if err != nil {
			return nil, err
		}
		label, err := s.labelOf(ctx, m.name, id)
		if err != nil {
			return nil, err
		}
		references = append(references, store.Reference{ID: id, Label: label})
	}
	return references, nil
}

func (s *Store) executeFieldsGet(ctx context.Context, m *model) (interface{}, error) {
	fields, err := s.Fields(ctx, m.name)
	if err != nil {
		return nil, err
	}
	result := make(map[string]interface{}, len(fields))
	for name, field := range fields {
		entry := map[string]interface{}{
			"name": field.Name,
			"kind": field.Kind,
		}
		if field.Label != "" {
			entry["label"] = field.Label
		}
		if field.Required {
			entry["required"] = true
		}
		if field.Relation != "" {
			entry["relation"] = field.Relation
		}
		if field.ReadOnly {
			entry["readonly"] = true
		}
		result[name] = entry
	}
	return result, nil
}

func stringList(name string, value interface{}) ([]string, error) {
	list, ok := value.([]interface{})
	if !ok {
		return nil, fmt.Errorf("%s requires a list of strings, got %T", name, value)
	}
	result := make([]string, len(list))
	for i, item := range list {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("%s requires a list of strings, got %T element", name, item)
		}
		result[i] = s
	}
	return result, nil
}
