package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// jsonrpcRequest is a JSON-RPC 2.0 request structure for testing.
type jsonrpcRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

// jsonrpcResponse is a JSON-RPC 2.0 response structure for testing.
type jsonrpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *jsonrpcError   `json:"error,omitempty"`
}

type jsonrpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// toolCallParams represents the params for tools/call method.
type toolCallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// callToolResult is the expected result structure from a tool call.
type callToolResult struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text,omitempty"`
	} `json:"content"`
	IsError bool `json:"isError,omitempty"`
}

func TestMCPServerCreation(t *testing.T) {
	env := testHandler(t)

	if env.h.NewMCPServer() == nil {
		t.Fatal("NewMCPServer returned nil")
	}
	if env.h.NewMCPHandler() == nil {
		t.Fatal("NewMCPHandler returned nil")
	}
}

func TestMCPInitialize(t *testing.T) {
	env := testHandler(t)

	initMCPSession(t, env.mux)
}

func TestMCPToolsList(t *testing.T) {
	env := testHandler(t)
	sessionID := initMCPSession(t, env.mux)

	resp := mcpCall(t, env.mux, sessionID, jsonrpcRequest{
		JSONRPC: "2.0",
		ID:      2,
		Method:  "tools/list",
	})

	var toolsResult struct {
		Tools []struct {
			Name        string `json:"name"`
			Description string `json:"description"`
		} `json:"tools"`
	}
	if err := json.Unmarshal(resp.Result, &toolsResult); err != nil {
		t.Fatalf("Failed to parse tools result: %v", err)
	}

	expectedTools := map[string]bool{
		"get_cart":          false,
		"add_to_cart":       false,
		"set_cart_quantity": false,
		"get_quote":         false,
		"get_order_status":  false,
	}
	for _, tool := range toolsResult.Tools {
		if _, ok := expectedTools[tool.Name]; ok {
			expectedTools[tool.Name] = true
		}
	}
	for name, found := range expectedTools {
		if !found {
			t.Errorf("Expected tool %q not found in tools list", name)
		}
	}
}

func TestMCPCartTools(t *testing.T) {
	env := testHandler(t)
	sessionID := initMCPSession(t, env.mux)

	result := callTool(t, env.mux, sessionID, "add_to_cart", map[string]interface{}{
		"cart_id":    testCart,
		"product_id": 7,
		"quantity":   2,
	})
	if result.IsError {
		t.Fatalf("add_to_cart failed: %+v", result.Content)
	}
	var c cartResponse
	decodeToolText(t, result, &c)
	if c.Total != 25980 || len(c.Items) != 1 {
		t.Fatalf("cart = %+v", c)
	}

	result = callTool(t, env.mux, sessionID, "set_cart_quantity", map[string]interface{}{
		"cart_id":  testCart,
		"key":      c.Items[0].Key,
		"quantity": 3,
	})
	decodeToolText(t, result, &c)
	if c.Count != 3 {
		t.Errorf("count = %d, want 3", c.Count)
	}

	result = callTool(t, env.mux, sessionID, "get_quote", map[string]interface{}{
		"cart_id":            testCart,
		"shipping_option_id": "home-delivery",
	})
	var q struct {
		Subtotal     int64 `json:"subtotal"`
		ShippingCost int64 `json:"shipping_cost"`
		Total        int64 `json:"total"`
	}
	decodeToolText(t, result, &q)
	if q.Subtotal != 38970 || q.ShippingCost != 5990 || q.Total != 44960 {
		t.Errorf("quote = %+v", q)
	}

	result = callTool(t, env.mux, sessionID, "get_cart", map[string]interface{}{"cart_id": testCart})
	decodeToolText(t, result, &c)
	if c.ID != testCart || c.Count != 3 {
		t.Errorf("get_cart = %+v", c)
	}
}

func TestMCPToolErrors(t *testing.T) {
	tests := []struct {
		name string
		tool string
		args map[string]interface{}
	}{
		{"cart id not a uuid", "get_cart", map[string]interface{}{"cart_id": "mine"}},
		{"out of stock", "add_to_cart", map[string]interface{}{"cart_id": testCart, "product_id": 8, "quantity": 1}},
		{"unknown shipping", "get_quote", map[string]interface{}{"cart_id": testCart, "shipping_option_id": "drone"}},
		{"order key mismatch", "get_order_status", map[string]interface{}{"order_id": 501, "order_key": "guess"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := testHandler(t)
			sessionID := initMCPSession(t, env.mux)

			result := callTool(t, env.mux, sessionID, tt.tool, tt.args)
			if !result.IsError {
				t.Errorf("%s succeeded, want tool error", tt.tool)
			}
		})
	}
}

func TestMCPGetOrderStatus(t *testing.T) {
	env := testHandler(t)
	sessionID := initMCPSession(t, env.mux)

	result := callTool(t, env.mux, sessionID, "get_order_status", map[string]interface{}{
		"order_id":  501,
		"order_key": "wc_order_501",
	})
	var out OrderStatusOutput
	decodeToolText(t, result, &out)
	if out.OrderID != 501 || !out.Paid || out.Status != "processing" {
		t.Errorf("status = %+v", out)
	}
}

// setMCPHeaders sets required headers for MCP Streamable HTTP requests.
func setMCPHeaders(req *http.Request, sessionID string) {
	req.Header.Set("Content-Type", "application/json")
	// MCP Streamable HTTP requires Accept header with both json and event-stream
	req.Header.Set("Accept", "application/json, text/event-stream")
	if sessionID != "" {
		req.Header.Set("Mcp-Session-Id", sessionID)
	}
}

// parseSSEResponse extracts JSON data from SSE formatted response.
// SSE format: "event: message\ndata: {json}\n\n"
func parseSSEResponse(body string) ([]byte, error) {
	lines := strings.Split(body, "\n")
	for _, line := range lines {
		if strings.HasPrefix(line, "data: ") {
			return []byte(strings.TrimPrefix(line, "data: ")), nil
		}
	}
	// If no SSE format found, assume plain JSON
	return []byte(body), nil
}

// initMCPSession initializes an MCP session and returns the session ID.
func initMCPSession(t *testing.T, mux *http.ServeMux) string {
	t.Helper()

	initReq := jsonrpcRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "initialize",
		Params: map[string]interface{}{
			"protocolVersion": "2025-06-18",
			"clientInfo":      map[string]string{"name": "test", "version": "1.0"},
			"capabilities":    map[string]interface{}{},
		},
	}

	body, _ := json.Marshal(initReq)
	httpReq := httptest.NewRequest("POST", "/mcp", bytes.NewReader(body))
	setMCPHeaders(httpReq, "")
	w := httptest.NewRecorder()

	mux.ServeHTTP(w, httpReq)

	if w.Code != http.StatusOK {
		t.Fatalf("Failed to initialize MCP session: %s", w.Body.String())
	}

	return w.Header().Get("Mcp-Session-Id")
}

// mcpCall posts one JSON-RPC request and decodes the response.
func mcpCall(t *testing.T, mux *http.ServeMux, sessionID string, req jsonrpcRequest) jsonrpcResponse {
	t.Helper()

	body, _ := json.Marshal(req)
	httpReq := httptest.NewRequest("POST", "/mcp", bytes.NewReader(body))
	setMCPHeaders(httpReq, sessionID)
	w := httptest.NewRecorder()

	mux.ServeHTTP(w, httpReq)

	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d, want %d\nBody: %s", w.Code, http.StatusOK, w.Body.String())
	}

	jsonData, err := parseSSEResponse(w.Body.String())
	if err != nil {
		t.Fatalf("Failed to parse SSE response: %v", err)
	}

	var resp jsonrpcResponse
	if err := json.Unmarshal(jsonData, &resp); err != nil {
		t.Fatalf("Failed to decode response: %v\nBody: %s", err, string(jsonData))
	}
	if resp.Error != nil {
		t.Fatalf("Unexpected error: %+v", resp.Error)
	}
	return resp
}

// callTool invokes a tool and returns its result. Tool errors come back in
// the result, not as JSON-RPC errors.
func callTool(t *testing.T, mux *http.ServeMux, sessionID, name string, args map[string]interface{}) callToolResult {
	t.Helper()

	raw, _ := json.Marshal(args)
	resp := mcpCall(t, mux, sessionID, jsonrpcRequest{
		JSONRPC: "2.0",
		ID:      2,
		Method:  "tools/call",
		Params:  toolCallParams{Name: name, Arguments: raw},
	})

	var result callToolResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		t.Fatalf("Failed to parse result: %v", err)
	}
	return result
}

func decodeToolText(t *testing.T, result callToolResult, v interface{}) {
	t.Helper()
	if result.IsError || len(result.Content) == 0 || result.Content[0].Type != "text" {
		t.Fatalf("unexpected tool result: %+v", result)
	}
	if err := json.Unmarshal([]byte(result.Content[0].Text), v); err != nil {
		t.Fatalf("Failed to parse tool output: %v", err)
	}
}
