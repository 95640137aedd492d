package jsonrpc

import (
	"encoding/json"
	"testing"
)

func TestParseMessagesSingle(t *testing.T) {
	msgs, batch, err := ParseMessages([]byte(`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}`))
	if err != nil {
		t.Fatalf("ParseMessages: %v", err)
	}
	if batch {
		t.Error("single message must not report batch")
	}
	if len(msgs) != 1 {
		t.Fatalf("want 1 message, got %d", len(msgs))
	}
	if got := msgs[0].Type(); got != TypeRequest {
		t.Errorf("type: want %q, got %q", TypeRequest, got)
	}
	if msgs[0].Method != "initialize" {
		t.Errorf("method: want initialize, got %q", msgs[0].Method)
	}
}

func TestParseMessagesBatch(t *testing.T) {
	body := `[
		{"jsonrpc":"2.0","id":1,"method":"a"},
		{"jsonrpc":"2.0","method":"b"},
		{"jsonrpc":"2.0","id":2,"result":{}}
	]`
	msgs, batch, err := ParseMessages([]byte(body))
	if err != nil {
		t.Fatalf("ParseMessages: %v", err)
	}
	if !batch {
		t.Error("array body must report batch")
	}
	want := []MessageType{TypeRequest, TypeNotification, TypeResponse}
	if len(msgs) != len(want) {
		t.Fatalf("want %d messages, got %d", len(want), len(msgs))
	}
	for i, w := range want {
		if got := msgs[i].Type(); got != w {
			t.Errorf("message %d type: want %q, got %q", i, w, got)
		}
	}
}

func TestParseMessagesRejects(t *testing.T) {
	cases := map[string]string{
		"empty body":       ``,
		"empty batch":      `[]`,
		"not json":         `{oops`,
		"wrong version":    `{"jsonrpc":"1.0","id":1,"method":"a"}`,
		"missing version":  `{"id":1,"method":"a"}`,
		"result and error": `{"jsonrpc":"2.0","id":1,"result":{},"error":{"code":1,"message":"x"}}`,
		"neither":          `{"jsonrpc":"2.0","id":1}`,
		"request with result": `{"jsonrpc":"2.0","id":1,"method":"a","result":{}}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			if _, _, err := ParseMessages([]byte(body)); err == nil {
				t.Errorf("want parse failure for %s", body)
			}
		})
	}
}

func TestRequestIDKeyDisjoint(t *testing.T) {
	var numeric, str AnyMessage
	if err := json.Unmarshal([]byte(`{"jsonrpc":"2.0","id":1,"method":"a"}`), &numeric); err != nil {
		t.Fatal(err)
	}
	if err := json.Unmarshal([]byte(`{"jsonrpc":"2.0","id":"1","method":"a"}`), &str); err != nil {
		t.Fatal(err)
	}
	if numeric.ID.String() != str.ID.String() {
		t.Errorf("display form should match: %q vs %q", numeric.ID.String(), str.ID.String())
	}
	if numeric.ID.Key() == str.ID.Key() {
		t.Errorf("correlation keys must be disjoint, both %q", numeric.ID.Key())
	}
}

func TestRequestIDRoundTrip(t *testing.T) {
	for _, raw := range []string{`1`, `"abc"`, `2.5`} {
		var id RequestID
		if err := json.Unmarshal([]byte(raw), &id); err != nil {
			t.Fatalf("unmarshal %s: %v", raw, err)
		}
		out, err := json.Marshal(&id)
		if err != nil {
			t.Fatalf("marshal %s: %v", raw, err)
		}
		if string(out) != raw {
			t.Errorf("round trip: want %s, got %s", raw, out)
		}
	}
}

func TestNilRequestID(t *testing.T) {
	var id *RequestID
	if !id.IsNil() {
		t.Error("nil pointer must be nil id")
	}
	if id.Key() != "" || id.String() != "" {
		t.Error("nil id must have empty key and display form")
	}
}

func TestResponseConstructors(t *testing.T) {
	res, err := NewResultResponse(NewRequestID(7), map[string]any{"ok": true})
	if err != nil {
		t.Fatalf("NewResultResponse: %v", err)
	}
	b, err := json.Marshal(res.AsAny())
	if err != nil {
		t.Fatal(err)
	}
	var echo AnyMessage
	if err := json.Unmarshal(b, &echo); err != nil {
		t.Fatalf("response did not survive the wire: %v", err)
	}
	if echo.Type() != TypeResponse {
		t.Errorf("type: want response, got %q", echo.Type())
	}
	if echo.ID.String() != "7" {
		t.Errorf("id: want 7, got %q", echo.ID.String())
	}

	errRes := NewErrorResponse(NewRequestID("x"), ErrorCodeMethodNotFound, "nope", nil)
	if errRes.Error == nil || errRes.Error.Code != ErrorCodeMethodNotFound {
		t.Error("error response must carry the code")
	}
}
