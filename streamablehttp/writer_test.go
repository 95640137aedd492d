package streamablehttp

import (
	"context"
	"net/http/httptest"
	"testing"
)

func TestWriteEventFrameFormat(t *testing.T) {
	rec := httptest.NewRecorder()
	sw, ok := newSSEWriter(rec, context.Background())
	if !ok {
		t.Fatal("recorder must support flushing")
	}

	if err := sw.writeEvent("", []byte(`{"jsonrpc":"2.0","id":1,"result":{}}`)); err != nil {
		t.Fatalf("writeEvent: %v", err)
	}
	want := "event: message\ndata: {\"jsonrpc\":\"2.0\",\"id\":1,\"result\":{}}\n\n"
	if got := rec.Body.String(); got != want {
		t.Errorf("frame without id:\nwant %q\ngot  %q", want, got)
	}

	rec.Body.Reset()
	if err := sw.writeEvent("ev-7", []byte(`{}`)); err != nil {
		t.Fatalf("writeEvent: %v", err)
	}
	want = "event: message\nid: ev-7\ndata: {}\n\n"
	if got := rec.Body.String(); got != want {
		t.Errorf("frame with id:\nwant %q\ngot  %q", want, got)
	}
}

func TestWriteEventAfterCancel(t *testing.T) {
	rec := httptest.NewRecorder()
	ctx, cancel := context.WithCancel(context.Background())
	sw, ok := newSSEWriter(rec, ctx)
	if !ok {
		t.Fatal("recorder must support flushing")
	}
	cancel()

	if err := sw.writeEvent("", []byte(`{}`)); err == nil {
		t.Fatal("write after cancellation must fail")
	}
	if rec.Body.Len() != 0 {
		t.Errorf("no bytes may reach a canceled consumer, got %q", rec.Body.String())
	}
}
