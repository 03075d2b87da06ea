package prometheus

import (
	"strconv"
	"time"
)

// AppMetrics holds every metric the service records.
type AppMetrics struct {
	// Transport
	HTTPRequestsTotal   CounterVec
	HTTPRequestDuration HistogramVec
	HTTPActiveRequests  GaugeVec
	GRPCRequestsTotal   CounterVec
	AuthAttemptsTotal   CounterVec

	// Decision core
	EvaluationsTotal        CounterVec
	EvaluationDuration      HistogramVec
	EvaluationCompleteness  HistogramVec
	EvaluationFindingsTotal CounterVec
	DocumentValidations     CounterVec
	DocumentConfidence      HistogramVec
	OpinionSignalsTotal     CounterVec

	// Infrastructure
	CacheRequestsTotal     CounterVec
	LockContentionTotal    CounterVec
	StoreOperationDuration HistogramVec
	MessagesTotal          CounterVec
	ErrorsTotal            CounterVec
}

// Buckets
var (
	DefaultHTTPDurationBuckets       = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}
	DefaultEvaluationDurationBuckets = []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25}
	PercentBuckets                   = []float64{0, 10, 25, 50, 75, 90, 99, 100}
)

// NewAppMetrics registers every metric on collector.
func NewAppMetrics(c MetricsCollector) *AppMetrics {
	return &AppMetrics{
		HTTPRequestsTotal:   c.RegisterCounter("http_requests_total", "HTTP requests", "method", "route", "status_code"),
		HTTPRequestDuration: c.RegisterHistogram("http_request_duration_seconds", "HTTP request duration", DefaultHTTPDurationBuckets, "method", "route"),
		HTTPActiveRequests:  c.RegisterGauge("http_active_requests", "In-flight HTTP requests", "method"),
		GRPCRequestsTotal:   c.RegisterCounter("grpc_requests_total", "gRPC requests", "method", "code"),
		AuthAttemptsTotal:   c.RegisterCounter("auth_attempts_total", "Token verifications", "result"),

		EvaluationsTotal:        c.RegisterCounter("evaluations_total", "Case evaluations by outcome", "track", "eligibility", "justification_source"),
		EvaluationDuration:      c.RegisterHistogram("evaluation_duration_seconds", "Engine evaluation time", DefaultEvaluationDurationBuckets, "track"),
		EvaluationCompleteness:  c.RegisterHistogram("evaluation_completeness_percent", "Document completeness per evaluation", PercentBuckets, "track"),
		EvaluationFindingsTotal: c.RegisterCounter("evaluation_findings_total", "Findings raised by the engine", "code", "severity"),
		DocumentValidations:     c.RegisterCounter("document_validations_total", "Document validations", "document_type", "valid"),
		DocumentConfidence:      c.RegisterHistogram("document_confidence_percent", "Document validation confidence", PercentBuckets, "document_type"),
		OpinionSignalsTotal:     c.RegisterCounter("opinion_signals_total", "Opinion analyses by threshold flag and decision", "threshold", "decision"),

		CacheRequestsTotal:     c.RegisterCounter("cache_requests_total", "Verdict cache lookups", "result"),
		LockContentionTotal:    c.RegisterCounter("lock_contention_total", "Case lock acquisitions that failed"),
		StoreOperationDuration: c.RegisterHistogram("store_operation_duration_seconds", "Backend operation duration", DefaultHTTPDurationBuckets, "backend", "operation"),
		MessagesTotal:          c.RegisterCounter("messages_total", "Kafka messages", "topic", "result"),
		ErrorsTotal:            c.RegisterCounter("errors_total", "Errors by component and code", "component", "code"),
	}
}

// Helpers. All of them accept a nil *AppMetrics.

// RecordHTTPRequest records one served request.
func RecordHTTPRequest(m *AppMetrics, method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// RecordGRPCRequest records one unary call by full method and status code.
func RecordGRPCRequest(m *AppMetrics, method, code string) {
	if m == nil {
		return
	}
	m.GRPCRequestsTotal.WithLabelValues(method, code).Inc()
}

// RecordAuthAttempt records a token verification result.
func RecordAuthAttempt(m *AppMetrics, success bool) {
	if m == nil {
		return
	}
	result := "success"
	if !success {
		result = "failure"
	}
	m.AuthAttemptsTotal.WithLabelValues(result).Inc()
}

// EvaluationSample is what RecordEvaluation needs from a verdict.
type EvaluationSample struct {
	Track               string
	Eligibility         string
	JustificationSource string
	Completeness        float64
	Duration            time.Duration
	Findings            []FindingSample
	Documents           []DocumentSample
	OpinionThreshold    string
	OpinionDecision     string
}

// FindingSample labels one finding.
type FindingSample struct{ Code, Severity string }

// DocumentSample labels one document verdict.
type DocumentSample struct {
	Type       string
	Valid      bool
	Confidence int
}

// RecordEvaluation records one engine run.
func RecordEvaluation(m *AppMetrics, s EvaluationSample) {
	if m == nil {
		return
	}
	m.EvaluationsTotal.WithLabelValues(s.Track, s.Eligibility, s.JustificationSource).Inc()
	m.EvaluationDuration.WithLabelValues(s.Track).Observe(s.Duration.Seconds())
	m.EvaluationCompleteness.WithLabelValues(s.Track).Observe(s.Completeness)
	for _, f := range s.Findings {
		m.EvaluationFindingsTotal.WithLabelValues(f.Code, f.Severity).Inc()
	}
	for _, d := range s.Documents {
		RecordDocumentValidation(m, d.Type, d.Valid, d.Confidence)
	}
	if s.OpinionThreshold != "" {
		m.OpinionSignalsTotal.WithLabelValues(s.OpinionThreshold, s.OpinionDecision).Inc()
	}
}

// RecordDocumentValidation records one validator result.
func RecordDocumentValidation(m *AppMetrics, docType string, valid bool, confidence int) {
	if m == nil {
		return
	}
	m.DocumentValidations.WithLabelValues(docType, strconv.FormatBool(valid)).Inc()
	m.DocumentConfidence.WithLabelValues(docType).Observe(float64(confidence))
}

// RecordCacheAccess records a verdict cache lookup.
func RecordCacheAccess(m *AppMetrics, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheRequestsTotal.WithLabelValues(result).Inc()
}

// RecordLockContention records a lost race for a case lock.
func RecordLockContention(m *AppMetrics) {
	if m == nil {
		return
	}
	m.LockContentionTotal.WithLabelValues().Inc()
}

// RecordStoreOperation records a backend call duration.
func RecordStoreOperation(m *AppMetrics, backend, operation string, d time.Duration) {
	if m == nil {
		return
	}
	m.StoreOperationDuration.WithLabelValues(backend, operation).Observe(d.Seconds())
}

// RecordMessage records a consumed or produced message outcome.
func RecordMessage(m *AppMetrics, topic, result string) {
	if m == nil {
		return
	}
	m.MessagesTotal.WithLabelValues(topic, result).Inc()
}

// RecordError records an error by component and code.
func RecordError(m *AppMetrics, component, code string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(component, code).Inc()
}
