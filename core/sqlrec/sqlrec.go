/*Package sqlrec is a postgres-backed record store.

The store is driven by a JSON configuration describing its models and their
fields; each model becomes one table with typed columns. It implements the
store.RecordStore contract consumed by the gateway: CRUD, domain-filtered
search, field introspection, and a fixed set of exposed methods per model.

Method invocation is allow-listed: only the methods the store itself exposes
(search_read, search_count, name_get, fields_get) can be executed, there is
no reflective dispatch.
*/
package sqlrec

import (
	"fmt"
	"strings"

	"github.com/goccy/go-json"

	"github.com/ormgate-tech/ormgate/core/csql"
	"github.com/ormgate-tech/ormgate/core/logger"
	"github.com/ormgate-tech/ormgate/core/store"
)

// the supported field kinds
const (
	KindChar     = "char"
	KindText     = "text"
	KindInteger  = "integer"
	KindFloat    = "float"
	KindBoolean  = "boolean"
	KindDatetime = "datetime"
	KindDate     = "date"
	KindBinary   = "binary"
	KindJSON     = "json"
	KindMany2one = "many2one"
)

type fieldConfiguration struct {
	Name     string `json:"name"`
	Kind     string `json:"kind"`
	Label    string `json:"label"`
	Required bool   `json:"required"`
	Relation string `json:"relation"`
}

type modelConfiguration struct {
	Model  string               `json:"model"`
	Label  string               `json:"label"`
	Fields []fieldConfiguration `json:"fields"`
}

type storeConfiguration struct {
	Models []modelConfiguration `json:"models"`
}

// Store is the postgres-backed record store
type Store struct {
	db     *csql.DB
	models map[string]*model
}

type model struct {
	name    string
	label   string
	fields  []fieldConfiguration
	byName  map[string]fieldConfiguration
	display string // the field used as record label for references
}

// Builder is a builder helper for the Store
type Builder struct {
	// Config is the JSON description of all models and their fields. This is mandatory.
	Config string
	// DB is a postgres database. This is mandatory.
	DB *csql.DB
}

// New realizes the actual store. It creates the sql relations (if they do
// not exist) and returns the store. It panics on invalid configuration,
// following the convention that misconfiguration is a startup failure.
func New(bb *Builder) *Store {
	var config storeConfiguration
	err := json.Unmarshal([]byte(bb.Config), &config)
	if err != nil {
		panic(fmt.Errorf("parse error in store configuration: %s", err))
	}
	if bb.DB == nil {
		panic("DB is missing")
	}

	s := &Store{
		db:     bb.DB,
		models: make(map[string]*model),
	}

	for _, mc := range config.Models {
		if mc.Model == "" {
			panic("model without a name in store configuration")
		}
		if _, ok := s.models[mc.Model]; ok {
			panic(fmt.Errorf("duplicate model %s in store configuration", mc.Model))
		}
		m := &model{
			name:   mc.Model,
			label:  mc.Label,
			fields: mc.Fields,
			byName: make(map[string]fieldConfiguration),
		}
		for _, fc := range mc.Fields {
			if !validKind(fc.Kind) {
				panic(fmt.Errorf("model %s: field %s has unknown kind %s", mc.Model, fc.Name, fc.Kind))
			}
			if fc.Kind == KindMany2one && fc.Relation == "" {
				panic(fmt.Errorf("model %s: many2one field %s lacks a relation", mc.Model, fc.Name))
			}
			if _, ok := m.byName[fc.Name]; ok {
				panic(fmt.Errorf("model %s: duplicate field %s", mc.Model, fc.Name))
			}
			m.byName[fc.Name] = fc
			if m.display == "" && (fc.Kind == KindChar || fc.Kind == KindText) {
				m.display = fc.Name
			}
		}
		s.models[mc.Model] = m
	}

	// relations must reference configured models
	for _, m := range s.models {
		for _, fc := range m.fields {
			if fc.Kind == KindMany2one {
				if _, ok := s.models[fc.Relation]; !ok {
					panic(fmt.Errorf("model %s: field %s references unknown model %s", m.name, fc.Name, fc.Relation))
				}
			}
		}
	}

	s.createTables(config.Models)
	return s
}

func validKind(kind string) bool {
	switch kind {
	case KindChar, KindText, KindInteger, KindFloat, KindBoolean,
		KindDatetime, KindDate, KindBinary, KindJSON, KindMany2one:
		return true
	}
	return false
}

func columnType(fc fieldConfiguration) string {
	switch fc.Kind {
	case KindChar:
		return "varchar"
	case KindText:
		return "text"
	case KindInteger, KindMany2one:
		return "bigint"
	case KindFloat:
		return "double precision"
	case KindBoolean:
		return "boolean"
	case KindDatetime:
		return "timestamp"
	case KindDate:
		return "date"
	case KindBinary:
		return "bytea"
	case KindJSON:
		return "json"
	}
	panic("unknown field kind " + fc.Kind)
}

// createTables creates one table per model. Models are created in dependency
// order so that reference columns can carry foreign keys; the loop panics on
// circular references.
func (s *Store) createTables(configs []modelConfiguration) {
	schema := s.db.Schema
	created := make(map[string]bool)

	remaining := configs
	for len(remaining) > 0 {
		var deferred []modelConfiguration
		progress := false
		for _, mc := range remaining {
			ready := true
			for _, fc := range mc.Fields {
				if fc.Kind == KindMany2one && fc.Relation != mc.Model && !created[fc.Relation] {
					ready = false
					break
				}
			}
			if !ready {
				deferred = append(deferred, mc)
				continue
			}
			s.createTable(schema, mc)
			created[mc.Model] = true
			progress = true
		}
		if !progress {
			panic(fmt.Errorf("circular model references in store configuration"))
		}
		remaining = deferred
	}
}

func (s *Store) createTable(schema string, mc modelConfiguration) {
	logger.Default().Debugln("create model:", mc.Model)

	createColumns := []string{
		"id bigserial PRIMARY KEY",
		"created_at timestamp NOT NULL DEFAULT now()",
		"updated_at timestamp NOT NULL DEFAULT now()",
	}
	for _, fc := range mc.Fields {
		createColumn := fmt.Sprintf("\"%s\" %s", fc.Name, columnType(fc))
		if fc.Required {
			createColumn += " NOT NULL"
		}
		if fc.Kind == KindMany2one {
			createColumn += fmt.Sprintf(" REFERENCES %s.\"%s\"(id) ON DELETE RESTRICT", schema, fc.Relation)
		}
		createColumns = append(createColumns, createColumn)
	}

	createQuery := fmt.Sprintf("CREATE table IF NOT EXISTS %s.\"%s\" (%s);",
		schema, mc.Model, strings.Join(createColumns, ", "))
	if _, err := s.db.Exec(createQuery); err != nil {
		panic(err)
	}
}

// lookup returns the model for a name, or store.ErrModelNotFound. The name
// is untrusted caller input; anything not configured simply does not exist.
func (s *Store) lookup(name string) (*model, error) {
	m, ok := s.models[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", store.ErrModelNotFound, name)
	}
	return m, nil
}

// columns returns the column list of a model in declaration order,
// id and bookkeeping columns first.
func (m *model) columns() []string {
	cols := []string{"id", "created_at", "updated_at"}
	for _, fc := range m.fields {
		cols = append(cols, fc.Name)
	}
	return cols
}

// kindOf returns the kind of a column, including the bookkeeping columns.
func (m *model) kindOf(column string) (string, bool) {
	switch column {
	case "id":
		return KindInteger, true
	case "created_at", "updated_at":
		return KindDatetime, true
	}
	fc, ok := m.byName[column]
	if !ok {
		return "", false
	}
	return fc.Kind, true
}
