package output

import (
	"testing"
	"time"

	otelLog "go.opentelemetry.io/otel/log"
	semconv "go.opentelemetry.io/otel/semconv/v1.27.0"

	"vigil/config"
	"vigil/correlate"
)

func policyAlert() correlate.Alert {
	return correlate.Alert{
		ID:          "o-1",
		Type:        correlate.TypeCombined,
		Severity:    correlate.SeverityCritical,
		Message:     "Encryption burst: high entropy write to /home/u/doc.txt during modification burst on dir:/home/u",
		Path:        "/home/u/doc.txt",
		Scope:       "dir:/home/u",
		ProcessName: "encryptor",
		Timestamp:   time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC),
		ActionTaken: "isolate-process",
		Evidence: map[string]string{
			"confidence":  "0.90",
			"burst_scope": "dir:/home/u",
			"burst_score": "45.0",
			"pid":         "4242",
		},
	}
}

func TestOtelLoggerDisabledWithoutEndpoint(t *testing.T) {
	clearOtelEnv(t)
	o, err := newOtelLogger(&config.Config{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if o != nil {
		t.Fatal("logger should be disabled without an endpoint")
	}
	// Nil receivers must be safe: the writer calls these unconditionally.
	o.Emit(policyAlert())
	o.Shutdown()
	if o.Endpoint() != "" {
		t.Error("nil logger should report empty endpoint")
	}
}

func TestOtelEndpointRequiresScheme(t *testing.T) {
	clearOtelEnv(t)
	_, err := newOtelLogger(&config.Config{OtelEndpoint: "collector:4318"})
	if err == nil {
		t.Fatal("expected scheme error")
	}
}

func TestResolveOtelEndpointFromEnv(t *testing.T) {
	clearOtelEnv(t)
	t.Setenv("OTEL_EXPORTER_OTLP_LOGS_ENDPOINT", "http://collector:4318")
	if got := resolveOtelEndpoint(&config.Config{}); got != "http://collector:4318" {
		t.Errorf("expected logs endpoint from env, got %q", got)
	}

	t.Setenv("OTEL_EXPORTER_OTLP_LOGS_ENDPOINT", "")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "http://fallback:4318")
	if got := resolveOtelEndpoint(&config.Config{}); got != "http://fallback:4318" {
		t.Errorf("expected fallback endpoint from env, got %q", got)
	}

	if got := resolveOtelEndpoint(&config.Config{OtelEndpoint: "http://explicit:4318"}); got != "http://explicit:4318" {
		t.Errorf("explicit endpoint should win, got %q", got)
	}
}

func TestSanitizeAlertGatesPathMaterial(t *testing.T) {
	a := policyAlert()

	open := sanitizeAlert(a, otelPolicy{includePaths: true})
	if open["message"] == nil || open["path"] == nil || open["scope"] == nil {
		t.Errorf("permissive policy should keep path material: %v", open)
	}

	closed := sanitizeAlert(a, otelPolicy{includePaths: false})
	for _, key := range []string{"message", "path", "scope"} {
		if _, ok := closed[key]; ok {
			t.Errorf("restrictive policy leaked %s", key)
		}
	}
	if closed["id"] != "o-1" || closed["severity"] != "critical" {
		t.Errorf("classification fields must survive sanitization: %v", closed)
	}

	ev, ok := closed["evidence"].(map[string]string)
	if !ok {
		t.Fatalf("expected sanitized evidence map, got %T", closed["evidence"])
	}
	if ev["confidence"] != "0.90" || ev["burst_score"] != "45.0" {
		t.Errorf("numeric evidence should survive: %v", ev)
	}
	if _, ok := ev["burst_scope"]; ok {
		t.Errorf("scope evidence leaked under restrictive policy: %v", ev)
	}
}

func TestAlertAttributesHonorPolicy(t *testing.T) {
	a := policyAlert()

	keys := func(kvs []otelLog.KeyValue) map[string]bool {
		out := make(map[string]bool, len(kvs))
		for _, kv := range kvs {
			out[kv.Key] = true
		}
		return out
	}

	open := keys(alertAttributes(a, otelPolicy{includePaths: true}))
	if !open[string(semconv.FilePathKey)] || !open[string(semconv.FileNameKey)] {
		t.Errorf("permissive policy should emit file attributes: %v", open)
	}
	if !open[string(semconv.ProcessPIDKey)] {
		t.Errorf("pid evidence should emit process pid attribute: %v", open)
	}

	closed := keys(alertAttributes(a, otelPolicy{includePaths: false}))
	if closed[string(semconv.FilePathKey)] || closed["vigil.alert.scope"] {
		t.Errorf("restrictive policy leaked path attributes: %v", closed)
	}
	if !closed[string(semconv.ProcessExecutableNameKey)] {
		t.Errorf("process name should survive restrictive policy: %v", closed)
	}

	// Process scopes are not path material.
	vss := a
	vss.Path = ""
	vss.Scope = "proc:vssadmin.exe"
	procClosed := keys(alertAttributes(vss, otelPolicy{includePaths: false}))
	if !procClosed["vigil.alert.scope"] {
		t.Errorf("process scope should survive restrictive policy: %v", procClosed)
	}
}

func TestOtelSeverityMapping(t *testing.T) {
	cases := []struct {
		in   correlate.Severity
		want otelLog.Severity
	}{
		{correlate.SeverityLow, otelLog.SeverityInfo},
		{correlate.SeverityMedium, otelLog.SeverityWarn},
		{correlate.SeverityHigh, otelLog.SeverityError},
		{correlate.SeverityCritical, otelLog.SeverityFatal},
	}
	for _, tc := range cases {
		if got := otelSeverity(tc.in); got != tc.want {
			t.Errorf("otelSeverity(%s) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestToLogValueKinds(t *testing.T) {
	if toLogValue(nil).Kind() != otelLog.KindEmpty {
		t.Error("nil should map to empty value")
	}
	if toLogValue("x").Kind() != otelLog.KindString {
		t.Error("string should map to string value")
	}
	if toLogValue(map[string]string{"k": "v"}).Kind() != otelLog.KindMap {
		t.Error("string map should map to map value")
	}
	if toLogValue([]string{"a"}).Kind() != otelLog.KindSlice {
		t.Error("string slice should map to slice value")
	}
	if toLogValue(struct{}{}).Kind() != otelLog.KindEmpty {
		t.Error("unsupported types should map to empty value")
	}
}
