package otel

import (
	"context"
	"testing"
)

func TestInitWithoutExportersIsNoop(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{ServiceName: "marketd"})
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if _, err := Init(context.Background(), Config{}); err == nil {
		t.Fatalf("expected missing service name to fail")
	}
}

func TestParseHeaders(t *testing.T) {
	headers := ParseHeaders(" api-key = abc ,bogus, =x,tenant=lux")
	if len(headers) != 2 || headers["api-key"] != "abc" || headers["tenant"] != "lux" {
		t.Fatalf("unexpected headers %v", headers)
	}
}
