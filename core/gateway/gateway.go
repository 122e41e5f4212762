/*Package gateway is the generic record gateway: it executes read, search,
create, update, delete and method-invocation operations against an arbitrary,
runtime-discovered model of the external record store, and shapes the results
into the uniform response envelope.

The gateway assumes nothing about the models it serves; the model name is an
untrusted string taken from the request path and passed to the store, which
reports unknown models through its typed errors. Every protected route
requires an authenticated principal in the request context before any store
operation is attempted.
*/
package gateway

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/ormgate-tech/ormgate/core/access"
	"github.com/ormgate-tech/ormgate/core/envelope"
	"github.com/ormgate-tech/ormgate/core/logger"
	"github.com/ormgate-tech/ormgate/core/normalize"
	"github.com/ormgate-tech/ormgate/core/store"
)

// defaultSearchLimit bounds a search without an explicit limit
const defaultSearchLimit = 10

// Gateway executes record operations against the external store.
type Gateway struct {
	store store.RecordStore
}

// New creates a gateway for the given record store.
func New(recordStore store.RecordStore) *Gateway {
	if recordStore == nil {
		panic("record store is missing")
	}
	return &Gateway{store: recordStore}
}

// AddRoutes adds all record routes to the router.
func (g *Gateway) AddRoutes(router *mux.Router) {
	nillog := logger.Default()
	nillog.Debugln("record gateway")
	nillog.Debugln("  handle route: /api/{model}/{id} GET")
	nillog.Debugln("  handle route: /api/{model}/search POST")
	nillog.Debugln("  handle route: /api/{model}/schema GET")
	nillog.Debugln("  handle route: /api/{model}/create POST")
	nillog.Debugln("  handle route: /api/{model}/{id}/update PUT")
	nillog.Debugln("  handle route: /api/{model}/{id}/delete DELETE")
	nillog.Debugln("  handle route: /api/{model}/execute_kw POST")

	router.HandleFunc("/api/{model}/search", g.searchRecords).Methods(http.MethodOptions, http.MethodPost)
	router.HandleFunc("/api/{model}/schema", g.getSchema).Methods(http.MethodOptions, http.MethodGet)
	router.HandleFunc("/api/{model}/create", g.createRecord).Methods(http.MethodOptions, http.MethodPost)
	router.HandleFunc("/api/{model}/execute_kw", g.executeKw).Methods(http.MethodOptions, http.MethodPost)
	router.HandleFunc("/api/{model}/{id:[0-9]+}", g.getRecord).Methods(http.MethodOptions, http.MethodGet)
	router.HandleFunc("/api/{model}/{id:[0-9]+}/update", g.updateRecord).Methods(http.MethodOptions, http.MethodPut)
	router.HandleFunc("/api/{model}/{id:[0-9]+}/delete", g.deleteRecord).Methods(http.MethodOptions, http.MethodDelete)
}

// authorized returns the principal from the request context, or writes the
// 401 envelope and returns nil. Handlers must not touch the store when this
// returns nil.
func authorized(w http.ResponseWriter, r *http.Request) *access.Principal {
	principal := access.PrincipalFromContext(r.Context())
	if principal == nil {
		envelope.Write(w, envelope.Error("Unauthorized", http.StatusUnauthorized))
	}
	return principal
}

// writeStoreError maps a record store failure to the uniform error envelope.
func writeStoreError(w http.ResponseWriter, rlog *logrus.Entry, model string, id int64, err error) {
	switch {
	case errors.Is(err, store.ErrModelNotFound):
		envelope.Write(w, envelope.Error(fmt.Sprintf("Model '%s' not found", model), http.StatusNotFound))
	case errors.Is(err, store.ErrRecordNotFound):
		envelope.Write(w, envelope.Error(fmt.Sprintf("Record with ID %d not found in '%s'", id, model), http.StatusNotFound))
	default:
		rlog.WithError(err).Errorln("store operation failed on model", model)
		envelope.Write(w, envelope.Error("Internal server error: "+err.Error(), http.StatusInternalServerError))
	}
}

func pathID(r *http.Request) int64 {
	id, _ := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	return id
}

func (g *Gateway) getRecord(w http.ResponseWriter, r *http.Request) {
	rlog := logger.FromContext(r.Context())
	rlog.Infoln("called route for", r.URL, r.Method)
	if authorized(w, r) == nil {
		return
	}
	model := mux.Vars(r)["model"]
	id := pathID(r)

	record, err := g.store.Get(r.Context(), model, id)
	if err != nil {
		writeStoreError(w, rlog, model, id, err)
		return
	}
	envelope.Write(w, envelope.Success(normalize.Map(r.Context(), record),
		"Record fetched successfully", http.StatusOK))
}

type searchRequest struct {
	Domain  []interface{} `json:"domain"`
	Limit   *int          `json:"limit"`
	OrderBy string        `json:"order_by"`
	Fields  []string      `json:"fields"`
}

func (g *Gateway) searchRecords(w http.ResponseWriter, r *http.Request) {
	rlog := logger.FromContext(r.Context())
	rlog.Infoln("called route for", r.URL, r.Method)
	if authorized(w, r) == nil {
		return
	}
	model := mux.Vars(r)["model"]

	var request searchRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		envelope.Write(w, envelope.Error("Invalid JSON: "+err.Error(), http.StatusBadRequest))
		return
	}
	limit := defaultSearchLimit
	if request.Limit != nil {
		limit = *request.Limit
	}

	records, err := g.store.Search(r.Context(), model, store.SearchQuery{
		Domain:  request.Domain,
		Limit:   limit,
		OrderBy: request.OrderBy,
		Fields:  request.Fields,
	})
	if err != nil {
		writeStoreError(w, rlog, model, 0, err)
		return
	}
	envelope.Write(w, envelope.Success(normalize.Maps(r.Context(), records),
		"Records fetched successfully", http.StatusOK))
}

func (g *Gateway) getSchema(w http.ResponseWriter, r *http.Request) {
	rlog := logger.FromContext(r.Context())
	rlog.Infoln("called route for", r.URL, r.Method)
	if authorized(w, r) == nil {
		return
	}
	model := mux.Vars(r)["model"]

	fields, err := g.store.Fields(r.Context(), model)
	if err != nil {
		writeStoreError(w, rlog, model, 0, err)
		return
	}
	envelope.Write(w, envelope.Success(fields,
		fmt.Sprintf("Schema for model '%s' fetched successfully", model), http.StatusOK))
}

type createRequest struct {
	Data map[string]interface{} `json:"data"`
}

func (g *Gateway) createRecord(w http.ResponseWriter, r *http.Request) {
	rlog := logger.FromContext(r.Context())
	rlog.Infoln("called route for", r.URL, r.Method)
	if authorized(w, r) == nil {
		return
	}
	model := mux.Vars(r)["model"]

	var request createRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		envelope.Write(w, envelope.Error("Invalid JSON: "+err.Error(), http.StatusBadRequest))
		return
	}
	if len(request.Data) == 0 {
		envelope.Write(w, envelope.Error("Missing 'data' in request body", http.StatusBadRequest))
		return
	}

	// the response shape follows the request form, so a bulk payload
	// with a single record still answers with an id list
	_, bulk := request.Data["records"].([]interface{})
	bulk = bulk && len(request.Data) == 1

	ids, err := g.store.Create(r.Context(), model, request.Data)
	if err != nil {
		if errors.Is(err, store.ErrModelNotFound) {
			writeStoreError(w, rlog, model, 0, err)
			return
		}
		envelope.Write(w, envelope.Error("Error creating record(s): "+err.Error(), http.StatusInternalServerError))
		return
	}
	if bulk {
		envelope.Write(w, envelope.Success(map[string]interface{}{"ids": ids},
			fmt.Sprintf("%d records created", len(ids)), http.StatusCreated))
		return
	}
	envelope.Write(w, envelope.Success(map[string]interface{}{"id": ids[0]},
		"Record created successfully", http.StatusCreated))
}

type updateRequest struct {
	Data map[string]interface{} `json:"data"`
}

func (g *Gateway) updateRecord(w http.ResponseWriter, r *http.Request) {
	rlog := logger.FromContext(r.Context())
	rlog.Infoln("called route for", r.URL, r.Method)
	if authorized(w, r) == nil {
		return
	}
	model := mux.Vars(r)["model"]
	id := pathID(r)

	// existence is checked before the payload, matching the original behavior
	if _, err := g.store.Get(r.Context(), model, id); err != nil {
		writeStoreError(w, rlog, model, id, err)
		return
	}

	var request updateRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		envelope.Write(w, envelope.Error("Invalid JSON: "+err.Error(), http.StatusBadRequest))
		return
	}
	if len(request.Data) == 0 {
		envelope.Write(w, envelope.Error("Missing 'data' in request body", http.StatusBadRequest))
		return
	}

	if err := g.store.Update(r.Context(), model, id, request.Data); err != nil {
		writeStoreError(w, rlog, model, id, err)
		return
	}
	updatedFields := make([]string, 0, len(request.Data))
	for field := range request.Data {
		updatedFields = append(updatedFields, field)
	}
	envelope.Write(w, envelope.Success(map[string]interface{}{"id": id, "updated_fields": updatedFields},
		fmt.Sprintf("Record %d updated successfully", id), http.StatusOK))
}

func (g *Gateway) deleteRecord(w http.ResponseWriter, r *http.Request) {
	rlog := logger.FromContext(r.Context())
	rlog.Infoln("called route for", r.URL, r.Method)
	if authorized(w, r) == nil {
		return
	}
	model := mux.Vars(r)["model"]
	id := pathID(r)

	if _, err := g.store.Get(r.Context(), model, id); err != nil {
		writeStoreError(w, rlog, model, id, err)
		return
	}
	if err := g.store.Delete(r.Context(), model, id); err != nil {
		writeStoreError(w, rlog, model, id, err)
		return
	}
	envelope.Write(w, envelope.Success(nil, fmt.Sprintf("Record %d deleted", id), http.StatusOK))
}

type executeRequest struct {
	Method string                 `json:"method"`
	Args   []interface{}          `json:"args"`
	Kwargs map[string]interface{} `json:"kwargs"`
}

func (g *Gateway) executeKw(w http.ResponseWriter, r *http.Request) {
	rlog := logger.FromContext(r.Context())
	rlog.Infoln("called route for", r.URL, r.Method)
	if authorized(w, r) == nil {
		return
	}
	model := mux.Vars(r)["model"]

	var request executeRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		envelope.Write(w, envelope.Error("Invalid JSON: "+err.Error(), http.StatusBadRequest))
		return
	}
	if request.Method == "" {
		envelope.Write(w, envelope.Error("Missing 'method' in request body", http.StatusBadRequest))
		return
	}

	// the store's exposed method list is the security boundary; anything
	// not on it is reported as not found, never attempted
	methods, err := g.store.Methods(r.Context(), model)
	if err != nil {
		writeStoreError(w, rlog, model, 0, err)
		return
	}
	exposed := false
	for _, method := range methods {
		if method == request.Method {
			exposed = true
			break
		}
	}
	if !exposed {
		envelope.Write(w, envelope.Error(
			fmt.Sprintf("Method '%s' does not exist on model '%s'", request.Method, model),
			http.StatusNotFound))
		return
	}

	result, err := g.store.Execute(r.Context(), model, request.Method, request.Args, request.Kwargs)
	if err != nil {
		if errors.Is(err, store.ErrMethodNotFound) {
			envelope.Write(w, envelope.Error(
				fmt.Sprintf("Method '%s' does not exist on model '%s'", request.Method, model),
				http.StatusNotFound))
			return
		}
		rlog.WithError(err).Errorln("method execution failed on model", model)
		envelope.Write(w, envelope.Error(
			fmt.Sprintf("Failed to execute '%s' on '%s': %s", request.Method, model, err.Error()),
			http.StatusInternalServerError))
		return
	}
	envelope.Write(w, envelope.Success(map[string]interface{}{"result": normalize.Value(r.Context(), "result", result)},
		fmt.Sprintf("Method '%s' executed successfully", request.Method), http.StatusOK))
}
