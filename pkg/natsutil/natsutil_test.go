package natsutil

import (
	"context"
	"strings"
	"testing"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel/baggage"
	"go.opentelemetry.io/otel/propagation"
)

func TestHeaderCarrier(t *testing.T) {
	msg := &nats.Msg{}
	carrier := (*natsHeaderCarrier)(msg)

	carrier.Set("traceparent", "00-abc-def-01")
	if got := carrier.Get("traceparent"); got != "00-abc-def-01" {
		t.Fatalf("expected traceparent, got %q", got)
	}

	keys := carrier.Keys()
	if len(keys) != 1 {
		t.Fatalf("unexpected keys: %v", keys)
	}
}

func TestHeaderCarrierNilHeader(t *testing.T) {
	msg := &nats.Msg{}
	carrier := (*natsHeaderCarrier)(msg)

	if got := carrier.Get("missing"); got != "" {
		t.Fatalf("expected empty, got %q", got)
	}
	if keys := carrier.Keys(); keys != nil {
		t.Fatalf("expected nil keys, got %v", keys)
	}
}

// The carrier must round-trip through a real propagator, not just raw
// header access.
func TestHeaderCarrierPropagation(t *testing.T) {
	bag, err := baggage.Parse("session=abc123")
	if err != nil {
		t.Fatal(err)
	}
	ctx := baggage.ContextWithBaggage(context.Background(), bag)

	msg := &nats.Msg{}
	prop := propagation.Baggage{}
	prop.Inject(ctx, (*natsHeaderCarrier)(msg))

	out := prop.Extract(context.Background(), (*natsHeaderCarrier)(msg))
	if got := baggage.FromContext(out).Member("session").Value(); got != "abc123" {
		t.Fatalf("baggage did not survive the carrier, got %q", got)
	}
}

func TestPublishMarshalError(t *testing.T) {
	type bad struct {
		Ch chan int `json:"ch"`
	}
	// Marshal fails before the connection is touched, so nil is fine here.
	err := Publish(context.Background(), nil, "subj", bad{Ch: make(chan int)})
	if err == nil {
		t.Fatal("expected marshal error")
	}
	if !strings.Contains(err.Error(), "unsupported type") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRequestMarshalError(t *testing.T) {
	type bad struct {
		Fn func() `json:"fn"`
	}
	_, err := Request[bad, string](context.Background(), nil, "subj", bad{Fn: func() {}})
	if err == nil {
		t.Fatal("expected marshal error")
	}
}
