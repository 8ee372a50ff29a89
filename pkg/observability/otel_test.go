package observability

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestInitOTelDisabled(t *testing.T) {
	logger, hook := test.NewNullLogger()

	providers, err := InitOTel(context.Background(), OTelConfig{Enabled: false}, logger)
	if err != nil {
		t.Fatalf("InitOTel() error = %v", err)
	}
	if providers != nil {
		t.Error("Expected nil providers when disabled")
	}
	if hook.LastEntry() == nil || hook.LastEntry().Message != "OpenTelemetry is disabled" {
		t.Error("Expected disabled message to be logged")
	}
}

func TestInitOTelRequiresEndpoint(t *testing.T) {
	logger, _ := test.NewNullLogger()

	if _, err := InitOTel(context.Background(), OTelConfig{Enabled: true}, logger); err == nil {
		t.Error("Expected error without endpoint")
	}
}

func TestShutdownOTel(t *testing.T) {
	logger, _ := test.NewNullLogger()

	if err := ShutdownOTel(context.Background(), nil, logger); err != nil {
		t.Errorf("ShutdownOTel(nil) error = %v", err)
	}

	providers := &OTelProviders{TracerProvider: sdktrace.NewTracerProvider()}
	if err := ShutdownOTel(context.Background(), providers, logger); err != nil {
		t.Errorf("ShutdownOTel() error = %v", err)
	}
}

func TestSampler(t *testing.T) {
	if got := sampler(0).Description(); got != sdktrace.AlwaysSample().Description() {
		t.Errorf("sampler(0) = %s", got)
	}
	if got := sampler(1).Description(); got != sdktrace.AlwaysSample().Description() {
		t.Errorf("sampler(1) = %s", got)
	}
	if got := sampler(0.25).Description(); got == sdktrace.AlwaysSample().Description() {
		t.Error("sampler(0.25) should not always sample")
	}
}
