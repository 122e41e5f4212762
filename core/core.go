package core

import (
	"fmt"

	"github.com/goccy/go-json"
)

// Operation represents a gateway operation on a record model, one of
// Get, Search, Schema, Create, Update, Delete, Execute
type Operation string

// all supported gateway operations
const (
	OperationGet     Operation = "get"
	OperationSearch  Operation = "search"
	OperationSchema  Operation = "schema"
	OperationCreate  Operation = "create"
	OperationUpdate  Operation = "update"
	OperationDelete  Operation = "delete"
	OperationExecute Operation = "execute"
)

// UnmarshalJSON is a custom JSON unmarshaller
func (o *Operation) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*o = Operation(s)
	switch *o {
	case OperationGet, OperationSearch, OperationSchema, OperationCreate,
		OperationUpdate, OperationDelete, OperationExecute:
		return nil
	default:
		return fmt.Errorf("%s is not valid Operation", s)
	}
}
