/*Package store defines the contract between the generic record gateway and
the record-oriented data store it orchestrates.

The gateway treats model names as untrusted caller input and makes no
assumption about their schema; everything it knows about a model it learns
at runtime through the Fields introspection call. Field values travel as
untyped JSON structures (nil, bool, float64, string, []interface{},
map[string]interface{}) plus the store-native value types declared here
(time.Time, Date, []byte, Reference).
*/
package store

import (
	"context"
	"errors"
	"fmt"
)

// typed store failures the gateway maps to HTTP statuses
var (
	// ErrModelNotFound is returned when the requested model name is not known to the store.
	ErrModelNotFound = errors.New("model not found")
	// ErrRecordNotFound is returned when an id does not resolve to an existing record.
	ErrRecordNotFound = errors.New("record not found")
	// ErrMethodNotFound is returned when a method name is not on the model's
	// exposed method surface.
	ErrMethodNotFound = errors.New("method not found")
)

// Reference is the store-native representation of a relational link,
// an (id, label) pair. To-many links are slices of references.
type Reference struct {
	ID    int64
	Label string
}

// Date is a calendar day without a time component. It is kept distinct
// from time.Time so the serialization boundary can tell date columns
// and timestamp columns apart.
type Date struct {
	Year  int
	Month int
	Day   int
}

func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, d.Month, d.Day)
}

// Field is the introspected metadata of a single model field.
type Field struct {
	Name     string `json:"name"`
	Kind     string `json:"kind"`
	Label    string `json:"label,omitempty"`
	Required bool   `json:"required,omitempty"`
	Relation string `json:"relation,omitempty"`
	ReadOnly bool   `json:"readonly,omitempty"`
}

// SearchQuery carries the parameters of a search operation. Domain is an
// opaque filter expression passed through to the store's query evaluator.
// A zero Limit means the store's default. An empty Fields list selects all
// fields.
type SearchQuery struct {
	Domain  []interface{}
	Limit   int
	OrderBy string
	Fields  []string
}

// RecordStore is the persistence collaborator of the gateway. All calls are
// synchronous and return before the handler proceeds; implementations are
// responsible for their own concurrency control.
type RecordStore interface {
	// Get returns the full field-value map of one record.
	Get(ctx context.Context, model string, id int64) (map[string]interface{}, error)

	// Search returns the field-value maps of all records matching the query.
	Search(ctx context.Context, model string, q SearchQuery) ([]map[string]interface{}, error)

	// Fields returns the introspected field metadata of a model.
	Fields(ctx context.Context, model string) (map[string]Field, error)

	// Create persists one or several new records and returns their ids.
	Create(ctx context.Context, model string, data map[string]interface{}) ([]int64, error)

	// Update applies a field-value map to an existing record.
	Update(ctx context.Context, model string, id int64, data map[string]interface{}) error

	// Delete removes an existing record.
	Delete(ctx context.Context, model string, id int64) error

	// Methods returns the names of the methods a model exposes for Execute.
	Methods(ctx context.Context, model string) ([]string, error)

	// Execute invokes an exposed method with positional and keyword arguments
	// and returns its raw result.
	Execute(ctx context.Context, model, method string, args []interface{}, kwargs map[string]interface{}) (interface{}, error)
}
