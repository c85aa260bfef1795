package output

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	otelLog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.27.0"

	"vigil/config"
	"vigil/correlate"
	"vigil/logger"
)

type otelLogger struct {
	provider *sdklog.LoggerProvider
	logger   otelLog.Logger
	timeout  time.Duration
	endpoint string
	policy   otelPolicy
}

type otelPolicy struct {
	includePaths bool
}

func newOtelLogger(cfg *config.Config) (*otelLogger, error) {
	if cfg == nil {
		return nil, nil
	}
	endpoint := resolveOtelEndpoint(cfg)
	if endpoint == "" {
		return nil, nil
	}
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		return nil, fmt.Errorf("otel endpoint must include scheme (http or https)")
	}

	opts := []otlploghttp.Option{otlploghttp.WithEndpointURL(endpoint)}
	if len(cfg.OtelHeaders) > 0 {
		opts = append(opts, otlploghttp.WithHeaders(cfg.OtelHeaders))
	}
	if cfg.OtelTimeout > 0 {
		opts = append(opts, otlploghttp.WithTimeout(cfg.OtelTimeout))
	}

	exp, err := otlploghttp.New(context.Background(), opts...)
	if err != nil {
		return nil, err
	}

	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceNameKey.String(cfg.OtelServiceName),
	)
	provider := sdklog.NewLoggerProvider(
		sdklog.WithProcessor(sdklog.NewBatchProcessor(exp)),
		sdklog.WithResource(res),
	)

	return &otelLogger{
		provider: provider,
		logger:   provider.Logger("vigil"),
		timeout:  cfg.OtelTimeout,
		endpoint: endpoint,
		policy:   otelPolicy{includePaths: cfg.OtelExportPaths},
	}, nil
}

func resolveOtelEndpoint(cfg *config.Config) string {
	if endpoint := strings.TrimSpace(cfg.OtelEndpoint); endpoint != "" {
		return endpoint
	}
	if endpoint := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_LOGS_ENDPOINT")); endpoint != "" {
		return endpoint
	}
	return strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
}

func (o *otelLogger) Endpoint() string {
	if o == nil {
		return ""
	}
	return o.endpoint
}

func (o *otelLogger) Emit(a correlate.Alert) {
	if o == nil || o.logger == nil {
		return
	}
	var record otelLog.Record
	record.SetTimestamp(a.Timestamp)
	record.SetObservedTimestamp(time.Now())
	record.SetEventName("vigil.alert")
	record.SetSeverity(otelSeverity(a.Severity))
	record.SetSeverityText(string(a.Severity))
	record.AddAttributes(
		otelLog.String("schema_version", SchemaVersion),
		otelLog.String("vigil.alert.id", a.ID),
		otelLog.String("vigil.alert.type", string(a.Type)),
		otelLog.String("vigil.alert.severity", string(a.Severity)),
	)
	if attrs := alertAttributes(a, o.policy); len(attrs) > 0 {
		record.AddAttributes(attrs...)
	}
	record.SetBody(toLogValue(sanitizeAlert(a, o.policy)))

	o.logger.Emit(context.Background(), record)
}

func (o *otelLogger) Shutdown() {
	if o == nil || o.provider == nil {
		return
	}
	timeout := o.timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := o.provider.Shutdown(ctx); err != nil {
		logger.Debugf("OTEL shutdown failed: %v", err)
	}
}

func otelSeverity(s correlate.Severity) otelLog.Severity {
	switch s {
	case correlate.SeverityCritical:
		return otelLog.SeverityFatal
	case correlate.SeverityHigh:
		return otelLog.SeverityError
	case correlate.SeverityMedium:
		return otelLog.SeverityWarn
	default:
		return otelLog.SeverityInfo
	}
}

func alertAttributes(a correlate.Alert, policy otelPolicy) []otelLog.KeyValue {
	var kvs []otelLog.KeyValue
	kvs = appendStringAttr(kvs, "vigil.alert.action", a.ActionTaken)

	if policy.includePaths {
		if a.Path != "" {
			kvs = append(kvs, otelLog.String(string(semconv.FilePathKey), a.Path))
			kvs = append(kvs, otelLog.String(string(semconv.FileDirectoryKey), filepath.Dir(a.Path)))
			kvs = append(kvs, otelLog.String(string(semconv.FileNameKey), filepath.Base(a.Path)))
			if ext := strings.TrimPrefix(filepath.Ext(a.Path), "."); ext != "" {
				kvs = append(kvs, otelLog.String(string(semconv.FileExtensionKey), ext))
			}
		}
		kvs = appendStringAttr(kvs, "vigil.alert.scope", a.Scope)
	} else if strings.HasPrefix(a.Scope, "proc:") {
		// Process scopes carry no filesystem paths.
		kvs = appendStringAttr(kvs, "vigil.alert.scope", a.Scope)
	}

	if a.ProcessName != "" {
		kvs = append(kvs, otelLog.String(string(semconv.ProcessExecutableNameKey), a.ProcessName))
	}
	if pid, err := strconv.ParseInt(a.Evidence["pid"], 10, 64); err == nil {
		kvs = append(kvs, otelLog.Int64(string(semconv.ProcessPIDKey), pid))
	}
	return kvs
}

// sanitizeAlert builds the record body, honoring the path export policy.
// Message text embeds file paths, so it is gated with them.
func sanitizeAlert(a correlate.Alert, policy otelPolicy) map[string]interface{} {
	body := map[string]interface{}{
		"id":       a.ID,
		"type":     string(a.Type),
		"severity": string(a.Severity),
	}
	if a.ActionTaken != "" {
		body["action_taken"] = a.ActionTaken
	}
	if a.ProcessName != "" {
		body["process_name"] = a.ProcessName
	}
	if policy.includePaths {
		body["message"] = a.Message
		if a.Path != "" {
			body["path"] = a.Path
		}
		if a.Scope != "" {
			body["scope"] = a.Scope
		}
	}
	if ev := sanitizeEvidence(a.Evidence, policy.includePaths); len(ev) > 0 {
		body["evidence"] = ev
	}
	return body
}

// exportSafeEvidence lists evidence keys that never carry path or
// command material and may be exported regardless of policy.
var exportSafeEvidence = map[string]bool{
	"confidence":       true,
	"mean_entropy":     true,
	"entropy_variance": true,
	"chi_square":       true,
	"burst_score":      true,
	"bucket_events":    true,
	"baseline_mean":    true,
	"entropy_delta":    true,
	"tlsh_distance":    true,
	"pid":              true,
}

func sanitizeEvidence(ev map[string]string, includePaths bool) map[string]string {
	if len(ev) == 0 {
		return nil
	}
	out := make(map[string]string, len(ev))
	for k, v := range ev {
		if includePaths || exportSafeEvidence[k] {
			out[k] = v
		}
	}
	return out
}

func toLogValue(value interface{}) otelLog.Value {
	switch v := value.(type) {
	case nil:
		return otelLog.Value{}
	case string:
		return otelLog.StringValue(v)
	case []byte:
		return otelLog.BytesValue(v)
	case bool:
		return otelLog.BoolValue(v)
	case int:
		return otelLog.IntValue(v)
	case int64:
		return otelLog.Int64Value(v)
	case float64:
		return otelLog.Float64Value(v)
	case map[string]interface{}:
		return otelLog.MapValue(toLogKeyValues(v)...)
	case map[string]string:
		kvs := make([]otelLog.KeyValue, 0, len(v))
		for k, val := range v {
			kvs = append(kvs, otelLog.String(k, val))
		}
		return otelLog.MapValue(kvs...)
	case []string:
		values := make([]otelLog.Value, 0, len(v))
		for _, item := range v {
			values = append(values, otelLog.StringValue(item))
		}
		return otelLog.SliceValue(values...)
	case []interface{}:
		values := make([]otelLog.Value, 0, len(v))
		for _, item := range v {
			values = append(values, toLogValue(item))
		}
		return otelLog.SliceValue(values...)
	default:
		return otelLog.Value{}
	}
}

func toLogKeyValues(values map[string]interface{}) []otelLog.KeyValue {
	kvs := make([]otelLog.KeyValue, 0, len(values))
	for key, value := range values {
		kvs = append(kvs, otelLog.KeyValue{Key: key, Value: toLogValue(value)})
	}
	return kvs
}

func appendStringAttr(kvs []otelLog.KeyValue, key, value string) []otelLog.KeyValue {
	if value == "" {
		return kvs
	}
	return append(kvs, otelLog.String(key, value))
}
