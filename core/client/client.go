/*
Package client provides easy and fast access to the record gateway.

The client can talk directly to a mux router, without marshalling HTTP
through a network socket. This makes it the tool of choice for unit tests
and for request handlers which need to call other handlers to fulfill
their task. It can also talk to a remote gateway through its URL.
*/
package client

import (
	"bytes"
	"fmt"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"

	"github.com/ormgate-tech/ormgate/core"
)

// Client provides easy access to the gateway API.
type Client struct {
	router     *mux.Router
	httpClient *http.Client
	url        string
	token      string

	defaultHeaders map[string]string
}

// NewWithRouter creates a client to make pseudo-REST requests to the
// gateway, directly through the mux router.
//
// WithToken() adds an access token to the request headers.
func NewWithRouter(router *mux.Router) Client {
	return Client{
		router:         router,
		defaultHeaders: map[string]string{},
	}
}

// NewWithURL creates a client to make REST requests to a remote gateway.
//
// WithToken() adds an access token to the request headers.
func NewWithURL(url string) Client {
	return Client{
		url:            url,
		httpClient:     &http.Client{Timeout: 20 * time.Second},
		defaultHeaders: map[string]string{},
	}
}

// WithToken returns a new client carrying the access token
func (c Client) WithToken(token string) Client {
	c.token = token
	return c
}

// WithHeader returns a new client with a default header added
func (c Client) WithHeader(key string, value string) Client {
	headers := map[string]string{key: value}
	for k, v := range c.defaultHeaders {
		headers[k] = v
	}
	c.defaultHeaders = headers
	return c
}

// the response envelope, with the payload kept raw for the caller
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
	Error   *struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error"`
}

// RawRequest performs a request against the gateway and decodes the
// response envelope. A failure envelope is returned as an error carrying
// the gateway's message; the HTTP status is returned either way.
func (c Client) RawRequest(method, path string, body interface{}, result interface{}) (int, error) {
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}

	r, err := http.NewRequest(method, c.url+path, reader)
	if err != nil {
		return 0, err
	}
	r.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		r.Header.Set("Authorization", "Bearer "+c.token)
	}
	for key, value := range c.defaultHeaders {
		r.Header.Set(key, value)
	}

	var status int
	var payload []byte
	if c.router != nil {
		rec := httptest.NewRecorder()
		c.router.ServeHTTP(rec, r)
		status = rec.Code
		payload = rec.Body.Bytes()
	} else {
		response, err := c.httpClient.Do(r)
		if err != nil {
			return 0, err
		}
		defer response.Body.Close()
		status = response.StatusCode
		buffer := bytes.Buffer{}
		if _, err := buffer.ReadFrom(response.Body); err != nil {
			return status, err
		}
		payload = buffer.Bytes()
	}

	var response envelope
	if err := json.Unmarshal(payload, &response); err != nil {
		return status, fmt.Errorf("cannot decode response for %s %s: %s", method, path, err)
	}
	if !response.Success {
		message := "request failed"
		if response.Error != nil {
			message = response.Error.Message
		}
		return status, fmt.Errorf("%s %s: %s", method, path, message)
	}
	if result != nil && len(response.Data) > 0 {
		if err := json.Unmarshal(response.Data, result); err != nil {
			return status, err
		}
	}
	return status, nil
}

// LoginResult is the payload of a successful login
type LoginResult struct {
	Token     string `json:"token"`
	ExpiresAt string `json:"expires_at"`
	SessionID string `json:"session_id"`
	User      struct {
		Email string `json:"email"`
	} `json:"user"`
}

// Login authenticates against the gateway and returns a new client
// carrying the issued access token.
func (c Client) Login(db, email, password string) (Client, LoginResult, error) {
	var result LoginResult
	_, err := c.RawRequest(http.MethodPost, "/api/login", map[string]string{
		"db":       db,
		"email":    email,
		"password": password,
	}, &result)
	if err != nil {
		return c, result, err
	}
	return c.WithToken(result.Token), result, nil
}

// Model returns a client for the operations of one record model
func (c Client) Model(name string) Model {
	return Model{client: &c, name: name}
}

// Model represents one record model of the gateway.
type Model struct {
	client *Client
	name   string
}

// request maps a record operation to its route
func (m Model) request(operation core.Operation, id int64) (method string, path string) {
	prefix := "/api/" + m.name
	switch operation {
	case core.OperationGet:
		return http.MethodGet, fmt.Sprintf("%s/%d", prefix, id)
	case core.OperationSearch:
		return http.MethodPost, prefix + "/search"
	case core.OperationSchema:
		return http.MethodGet, prefix + "/schema"
	case core.OperationCreate:
		return http.MethodPost, prefix + "/create"
	case core.OperationUpdate:
		return http.MethodPut, fmt.Sprintf("%s/%d/update", prefix, id)
	case core.OperationDelete:
		return http.MethodDelete, fmt.Sprintf("%s/%d/delete", prefix, id)
	case core.OperationExecute:
		return http.MethodPost, prefix + "/execute_kw"
	}
	panic("unknown operation " + operation)
}

// Get reads one record into result
func (m Model) Get(id int64, result interface{}) (int, error) {
	method, path := m.request(core.OperationGet, id)
	return m.client.RawRequest(method, path, nil, result)
}

// SearchRequest describes a record search
type SearchRequest struct {
	Domain  []interface{} `json:"domain,omitempty"`
	Limit   *int          `json:"limit,omitempty"`
	OrderBy string        `json:"order_by,omitempty"`
	Fields  []string      `json:"fields,omitempty"`
}

// Search reads all matching records into result
func (m Model) Search(request SearchRequest, result interface{}) (int, error) {
	method, path := m.request(core.OperationSearch, 0)
	return m.client.RawRequest(method, path, request, result)
}

// Schema reads the model's field metadata into result
func (m Model) Schema(result interface{}) (int, error) {
	method, path := m.request(core.OperationSchema, 0)
	return m.client.RawRequest(method, path, nil, result)
}

// Create creates one record and returns its id
func (m Model) Create(data map[string]interface{}) (int64, error) {
	method, path := m.request(core.OperationCreate, 0)
	var result struct {
		ID int64 `json:"id"`
	}
	if _, err := m.client.RawRequest(method, path, map[string]interface{}{"data": data}, &result); err != nil {
		return 0, err
	}
	return result.ID, nil
}

// CreateMany creates several records and returns their ids
func (m Model) CreateMany(records []map[string]interface{}) ([]int64, error) {
	method, path := m.request(core.OperationCreate, 0)
	var result struct {
		IDs []int64 `json:"ids"`
	}
	data := map[string]interface{}{"data": map[string]interface{}{"records": records}}
	if _, err := m.client.RawRequest(method, path, data, &result); err != nil {
		return nil, err
	}
	return result.IDs, nil
}

// Update applies a field-value map to an existing record
func (m Model) Update(id int64, data map[string]interface{}) (int, error) {
	method, path := m.request(core.OperationUpdate, id)
	return m.client.RawRequest(method, path, map[string]interface{}{"data": data}, nil)
}

// Delete removes an existing record
func (m Model) Delete(id int64) (int, error) {
	method, path := m.request(core.OperationDelete, id)
	return m.client.RawRequest(method, path, nil, nil)
}

// Execute invokes one of the model's exposed methods and reads its
// result into result
func (m Model) Execute(name string, args []interface{}, kwargs map[string]interface{}, result interface{}) (int, error) {
	method, path := m.request(core.OperationExecute, 0)
	body := map[string]interface{}{"method": name}
	if args != nil {
		body["args"] = args
	}
	if kwargs != nil {
		body["kwargs"] = kwargs
	}
	var wrapped struct {
		Result json.RawMessage `json:"result"`
	}
	status, err := m.client.RawRequest(method, path, body, &wrapped)
	if err != nil {
		return status, err
	}
	if result != nil && len(wrapped.Result) > 0 {
		if err := json.Unmarshal(wrapped.Result, result); err != nil {
			return status, err
		}
	}
	return status, nil
}
