package sqlrec

import (
	"context"
	"database/sql"
	"encoding/base64"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/lib/pq"

	"github.com/ormgate-tech/ormgate/core/csql"
	"github.com/ormgate-tech/ormgate/core/normalize"
	"github.com/ormgate-tech/ormgate/core/store"
)

// Get returns the full field-value map of one record.
func (s *Store) Get(ctx context.Context, modelName string, id int64) (map[string]interface{}, error) {
	m, err := s.lookup(modelName)
	if err != nil {
		return nil, err
	}
	columns := m.columns()
	query := fmt.Sprintf("SELECT %s FROM %s.\"%s\" WHERE id = $1;",
		quoteColumns(columns), s.db.Schema, m.name)

	row := s.db.QueryRowContext(ctx, query, id)
	record, err := s.scanRecord(ctx, m, columns, row.Scan)
	if err == csql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s id %d", store.ErrRecordNotFound, m.name, id)
	}
	return record, err
}

// Search returns the field-value maps of all records matching the query.
func (s *Store) Search(ctx context.Context, modelName string, q store.SearchQuery) ([]map[string]interface{}, error) {
	m, err := s.lookup(modelName)
	if err != nil {
		return nil, err
	}
	columns, err := m.projection(q.Fields)
	if err != nil {
		return nil, err
	}
	where, parameters, err := s.whereClause(m, q.Domain)
	if err != nil {
		return nil, err
	}
	orderBy, err := m.orderClause(q.OrderBy)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf("SELECT %s FROM %s.\"%s\"%s%s",
		quoteColumns(columns), s.db.Schema, m.name, where, orderBy)
	if q.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", q.Limit)
	}
	query += ";"

	rows, err := s.db.QueryContext(ctx, query, parameters...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []map[string]interface{}{}
	for rows.Next() {
		record, err := s.scanRecord(ctx, m, columns, rows.Scan)
		if err != nil {
			return nil, err
		}
		result = append(result, record)
	}
	return result, rows.Err()
}

// Fields returns the introspected field metadata of a model.
func (s *Store) Fields(ctx context.Context, modelName string) (map[string]store.Field, error) {
	m, err := s.lookup(modelName)
	if err != nil {
		return nil, err
	}
	fields := map[string]store.Field{
		"id":         {Name: "id", Kind: KindInteger, Label: "ID", ReadOnly: true},
		"created_at": {Name: "created_at", Kind: KindDatetime, Label: "Created At", ReadOnly: true},
		"updated_at": {Name: "updated_at", Kind: KindDatetime, Label: "Updated At", ReadOnly: true},
	}
	for _, fc := range m.fields {
		fields[fc.Name] = store.Field{
			Name:     fc.Name,
			Kind:     fc.Kind,
			Label:    fc.Label,
			Required: fc.Required,
			Relation: fc.Relation,
		}
	}
	return fields, nil
}

// Create persists one or several new records and returns their ids. A bulk
// creation is requested with a payload of the form {"records": [{...},...]};
// anything else creates a single record.
func (s *Store) Create(ctx context.Context, modelName string, data map[string]interface{}) ([]int64, error) {
	m, err := s.lookup(modelName)
	if err != nil {
		return nil, err
	}

	if records, ok := bulkRecords(data); ok {
		ids := make([]int64, 0, len(records))
		for _, record := range records {
			id, err := s.insertOne(ctx, m, record)
			if err != nil {
				return nil, err
			}
			ids = append(ids, id)
		}
		return ids, nil
	}

	id, err := s.insertOne(ctx, m, data)
	if err != nil {
		return nil, err
	}
	return []int64{id}, nil
}

func bulkRecords(data map[string]interface{}) ([]map[string]interface{}, bool) {
	if len(data) != 1 {
		return nil, false
	}
	list, ok := data["records"].([]interface{})
	if !ok {
		return nil, false
	}
	records := make([]map[string]interface{}, 0, len(list))
	for _, item := range list {
		record, ok := item.(map[string]interface{})
		if !ok {
			return nil, false
		}
		records = append(records, record)
	}
	return records, true
}

func (s *Store) insertOne(ctx context.Context, m *model, data map[string]interface{}) (int64, error) {
	var columns []string
	var parameters []interface{}
	for field, value := range data {
		fc, ok := m.byName[field]
		if !ok {
			return 0, fmt.Errorf("unknown field %s on model %s", field, m.name)
		}
		parameter, err := toColumnValue(fc, value)
		if err != nil {
			return 0, err
		}
		columns = append(columns, field)
		parameters = append(parameters, parameter)
	}
	for _, fc := range m.fields {
		if fc.Required {
			if value, ok := data[fc.Name]; !ok || value == nil {
				return 0, fmt.Errorf("missing required field %s on model %s", fc.Name, m.name)
			}
		}
	}

	query := fmt.Sprintf("INSERT INTO %s.\"%s\" (%s) VALUES(%s) RETURNING id;",
		s.db.Schema, m.name, quoteColumns(columns), parameterString(len(columns)))
	var id int64
	if err := s.db.QueryRowContext(ctx, query, parameters...).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

// Update applies a field-value map to an existing record.
func (s *Store) Update(ctx context.Context, modelName string, id int64, data map[string]interface{}) error {
	m, err := s.lookup(modelName)
	if err != nil {
		return err
	}

	assignments := []string{"updated_at = now()"}
	var parameters []interface{}
	for field, value := range data {
		fc, ok := m.byName[field]
		if !ok {
			return fmt.Errorf("unknown field %s on model %s", field, m.name)
		}
		parameter, err := toColumnValue(fc, value)
		if err != nil {
			return err
		}
		parameters = append(parameters, parameter)
		assignments = append(assignments, fmt.Sprintf("\"%s\" = $%d", field, len(parameters)))
	}
	parameters = append(parameters, id)

	query := fmt.Sprintf("UPDATE %s.\"%s\" SET %s WHERE id = $%d;",
		s.db.Schema, m.name, strings.Join(assignments, ", "), len(parameters))
	result, err := s.db.ExecContext(ctx, query, parameters...)
	if err != nil {
		return err
	}
	count, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return fmt.Errorf("%w: %s id %d", store.ErrRecordNotFound, m.name, id)
	}
	return nil
}

// Delete removes an existing record. Referential constraint violations
// surface as plain errors carrying the database's message.
func (s *Store) Delete(ctx context.Context, modelName string, id int64) error {
	m, err := s.lookup(modelName)
	if err != nil {
		return err
	}
	query := fmt.Sprintf("DELETE FROM %s.\"%s\" WHERE id = $1;", s.db.Schema, m.name)
	result, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return err
	}
	count, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return fmt.Errorf("%w: %s id %d", store.ErrRecordNotFound, m.name, id)
	}
	return nil
}

// projection validates a requested field subset. An empty request selects
// all columns; the id column is always included.
func (m *model) projection(fields []string) ([]string, error) {
	if len(fields) == 0 {
		return m.columns(), nil
	}
	columns := []string{"id"}
	for _, field := range fields {
		if field == "id" {
			continue
		}
		if _, ok := m.kindOf(field); !ok {
			return nil, fmt.Errorf("unknown field %s on model %s", field, m.name)
		}
		columns = append(columns, field)
	}
	return columns, nil
}

// orderClause validates an ordering specification of the form
// "field" or "field desc" against the model's columns.
func (m *model) orderClause(orderBy string) (string, error) {
	if orderBy == "" {
		return "", nil
	}
	parts := strings.Fields(orderBy)
	if len(parts) == 0 {
		return "", nil
	}
	if len(parts) > 2 {
		return "", fmt.Errorf("invalid order specification %q", orderBy)
	}
	if _, ok := m.kindOf(parts[0]); !ok {
		return "", fmt.Errorf("unknown field %s on model %s", parts[0], m.name)
	}
	direction := ""
	if len(parts) == 2 {
		switch strings.ToLower(parts[1]) {
		case "asc":
			direction = " ASC"
		case "desc":
			direction = " DESC"
		default:
			return "", fmt.Errorf("invalid order specification %q", orderBy)
		}
	}
	return fmt.Sprintf(" ORDER BY \"%s\"%s", parts[0], direction), nil
}

// whereClause translates a domain filter into a WHERE clause. A domain is a
// sequence of [field, operator, value] triplets combined with AND.
func (s *Store) whereClause(m *model, domain []interface{}) (string, []interface{}, error) {
	if len(domain) == 0 {
		return "", nil, nil
	}
	var conditions []string
	var parameters []interface{}
	for _, item := range domain {
		triplet, ok := item.([]interface{})
		if !ok || len(triplet) != 3 {
			return "", nil, fmt.Errorf("invalid domain term %v", item)
		}
		field, ok := triplet[0].(string)
		if !ok {
			return "", nil, fmt.Errorf("invalid domain field %v", triplet[0])
		}
		operator, ok := triplet[1].(string)
		if !ok {
			return "", nil, fmt.Errorf("invalid domain operator %v", triplet[1])
		}
		kind, ok := m.kindOf(field)
		if !ok {
			return "", nil, fmt.Errorf("unknown field %s on model %s", field, m.name)
		}
		fc := fieldConfiguration{Name: field, Kind: kind}
		if configured, ok := m.byName[field]; ok {
			fc = configured
		}
		value := triplet[2]

		condition, err := buildCondition(fc, operator, value, &parameters)
		if err != nil {
			return "", nil, err
		}
		conditions = append(conditions, condition)
	}
	return " WHERE " + strings.Join(conditions, " AND "), parameters, nil
}

func buildCondition(fc fieldConfiguration, operator string, value interface{}, parameters *[]interface{}) (string, error) {
	column := fmt.Sprintf("\"%s\"", fc.Name)
	switch operator {
	case "=", "!=", "<>", ">", ">=", "<", "<=":
		if value == nil {
			switch operator {
			case "=":
				return column + " IS NULL", nil
			case "!=", "<>":
				return column + " IS NOT NULL", nil
			}
			return "", fmt.Errorf("operator %s does not accept null", operator)
		}
		parameter, err := toColumnValue(fc, value)
		if err != nil {
			return "", err
		}
		*parameters = append(*parameters, parameter)
		return fmt.Sprintf("%s %s $%d", column, operator, len(*parameters)), nil
	case "like", "ilike":
		pattern, ok := value.(string)
		if !ok {
			return "", fmt.Errorf("operator %s requires a string pattern", operator)
		}
		*parameters = append(*parameters, pattern)
		comparison := "LIKE"
		if operator == "ilike" {
			comparison = "ILIKE"
		}
		return fmt.Sprintf("%s %s $%d", column, comparison, len(*parameters)), nil
	case "in", "not in":
		list, ok := value.([]interface{})
		if !ok {
			return "", fmt.Errorf("operator %s requires a list", operator)
		}
		converted := make([]interface{}, len(list))
		for i, item := range list {
			parameter, err := toColumnValue(fc, item)
			if err != nil {
				return "", err
			}
			converted[i] = parameter
		}
		*parameters = append(*parameters, pq.Array(converted))
		clause := fmt.Sprintf("%s = ANY($%d)", column, len(*parameters))
		if operator == "not in" {
			clause = "NOT (" + clause + ")"
		}
		return clause, nil
	}
	return "", fmt.Errorf("unknown domain operator %s", operator)
}

// scanRecord scans one row into a field-value map with store-native value
// types. Relational references are resolved to (id, label) pairs.
func (s *Store) scanRecord(ctx context.Context, m *model, columns []string, scan func(...interface{}) error) (map[string]interface{}, error) {
	destinations := make([]interface{}, len(columns))
	for i, column := range columns {
		kind, _ := m.kindOf(column)
		destinations[i] = destinationFor(kind)
	}
	if err := scan(destinations...); err != nil {
		return nil, err
	}

	record := make(map[string]interface{}, len(columns))
	for i, column := range columns {
		kind, _ := m.kindOf(column)
		value, err := nativeValue(kind, destinations[i])
		if err != nil {
			return nil, fmt.Errorf("field %s of model %s: %w", column, m.name, err)
		}
		if kind == KindMany2one && value != nil {
			fc := m.byName[column]
			id := value.(int64)
			label, err := s.labelOf(ctx, fc.Relation, id)
			if err != nil {
				return nil, err
			}
			value = store.Reference{ID: id, Label: label}
		}
		record[column] = value
	}
	return record, nil
}

func destinationFor(kind string) interface{} {
	switch kind {
	case KindChar, KindText:
		return new(sql.NullString)
	case KindInteger, KindMany2one:
		return new(sql.NullInt64)
	case KindFloat:
		return new(sql.NullFloat64)
	case KindBoolean:
		return new(sql.NullBool)
	case KindDatetime, KindDate:
		return new(sql.NullTime)
	case KindBinary, KindJSON:
		return new([]byte)
	}
	panic("unknown field kind " + kind)
}

func nativeValue(kind string, destination interface{}) (interface{}, error) {
	switch kind {
	case KindChar, KindText:
		v := destination.(*sql.NullString)
		if !v.Valid {
			return nil, nil
		}
		return v.String, nil
	case KindInteger, KindMany2one:
		v := destination.(*sql.NullInt64)
		if !v.Valid {
			return nil, nil
		}
		return v.Int64, nil
	case KindFloat:
		v := destination.(*sql.NullFloat64)
		if !v.Valid {
			return nil, nil
		}
		return v.Float64, nil
	case KindBoolean:
		v := destination.(*sql.NullBool)
		if !v.Valid {
			return nil, nil
		}
		return v.Bool, nil
	case KindDatetime:
		v := destination.(*sql.NullTime)
		if !v.Valid {
			return nil, nil
		}
		return v.Time, nil
	case KindDate:
		v := destination.(*sql.NullTime)
		if !v.Valid {
			return nil, nil
		}
		t := v.Time
		return store.Date{Year: t.Year(), Month: int(t.Month()), Day: t.Day()}, nil
	case KindBinary:
		v := *destination.(*[]byte)
		if v == nil {
			return nil, nil
		}
		return v, nil
	case KindJSON:
		v := *destination.(*[]byte)
		if v == nil {
			return nil, nil
		}
		var decoded interface{}
		if err := json.Unmarshal(v, &decoded); err != nil {
			return nil, err
		}
		return decoded, nil
	}
	return nil, fmt.Errorf("unknown field kind %s", kind)
}

// labelOf returns the display label of a referenced record. Models without
// a display field get the "model,id" fallback label.
func (s *Store) labelOf(ctx context.Context, modelName string, id int64) (string, error) {
	m, err := s.lookup(modelName)
	if err != nil {
		return "", err
	}
	if m.display == "" {
		return fmt.Sprintf("%s,%d", m.name, id), nil
	}
	var label sql.NullString
	query := fmt.Sprintf("SELECT \"%s\" FROM %s.\"%s\" WHERE id = $1;", m.display, s.db.Schema, m.name)
	err = s.db.QueryRowContext(ctx, query, id).Scan(&label)
	if err == csql.ErrNoRows || !label.Valid {
		return fmt.Sprintf("%s,%d", m.name, id), nil
	}
	if err != nil {
		return "", err
	}
	return label.String, nil
}

// toColumnValue converts an untrusted JSON value into the column value of a
// field, validating its type against the field kind.
func toColumnValue(fc fieldConfiguration, value interface{}) (interface{}, error) {
	if value == nil {
		return nil, nil
	}
	switch fc.Kind {
	case KindChar, KindText:
		s, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("field %s requires a string, got %T", fc.Name, value)
		}
		return s, nil
	case KindInteger:
		return toInt64(fc.Name, value)
	case KindFloat:
		switch v := value.(type) {
		case float64:
			return v, nil
		case int:
			return float64(v), nil
		case int64:
			return float64(v), nil
		}
		return nil, fmt.Errorf("field %s requires a number, got %T", fc.Name, value)
	case KindBoolean:
		b, ok := value.(bool)
		if !ok {
			return nil, fmt.Errorf("field %s requires a boolean, got %T", fc.Name, value)
		}
		return b, nil
	case KindDatetime:
		if t, ok := value.(time.Time); ok {
			return t.UTC(), nil
		}
		s, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("field %s requires a datetime string, got %T", fc.Name, value)
		}
		if t, err := time.Parse(normalize.CanonicalDatetime, s); err == nil {
			return t, nil
		}
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return nil, fmt.Errorf("field %s: cannot parse datetime %q", fc.Name, s)
		}
		return t.UTC(), nil
	case KindDate:
		s, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("field %s requires a date string, got %T", fc.Name, value)
		}
		t, err := time.Parse("2006-01-02", s)
		if err != nil {
			return nil, fmt.Errorf("field %s: cannot parse date %q", fc.Name, s)
		}
		return t, nil
	case KindBinary:
		s, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("field %s requires a string, got %T", fc.Name, value)
		}
		// binary payloads arrive base64-encoded; a plain text value that
		// does not decode is stored as its raw bytes
		if raw, err := base64.StdEncoding.DecodeString(s); err == nil {
			return raw, nil
		}
		return []byte(s), nil
	case KindJSON:
		encoded, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", fc.Name, err)
		}
		return encoded, nil
	case KindMany2one:
		if pair, ok := value.([]interface{}); ok && len(pair) == 2 {
			value = pair[0]
		}
		return toInt64(fc.Name, value)
	}
	return nil, fmt.Errorf("unknown field kind %s", fc.Kind)
}

func toInt64(field string, value interface{}) (int64, error) {
	switch v := value.(type) {
	case float64:
		if v != math.Trunc(v) {
			return 0, fmt.Errorf("field %s requires an integer, got %v", field, v)
		}
		return int64(v), nil
	case int:
		return int64(v), nil
	case int64:
		return v, nil
	case json.Number:
		return v.Int64()
	}
	return 0, fmt.Errorf("field %s requires an integer, got %T", field, value)
}

// quoteColumns joins column names as a quoted, comma-separated list
func quoteColumns(columns []string) string {
	quoted := make([]string, len(columns))
	for i, column := range columns {
		quoted[i] = fmt.Sprintf("\"%s\"", column)
	}
	return strings.Join(quoted, ",")
}

// returns $1,...,$n
func parameterString(n int) string {
	result := ""
	for i := 0; i < n; i++ {
		if i > 0 {
			result += ","
		}
		result += "$" + fmt.Sprint(i+1)
	}
	return result
}
