package grpc

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/turtacn/NaturaCheck/internal/application/evaluation"
	"github.com/turtacn/NaturaCheck/internal/config"
	"github.com/turtacn/NaturaCheck/internal/domain/catalog"
	"github.com/turtacn/NaturaCheck/internal/domain/eligibility"
	"github.com/turtacn/NaturaCheck/internal/infrastructure/auth/keycloak"
	"github.com/turtacn/NaturaCheck/internal/infrastructure/monitoring/logging"
	metrics "github.com/turtacn/NaturaCheck/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/NaturaCheck/internal/testutil"
)

type staticVerifier map[string]*keycloak.Claims

func (v staticVerifier) Verify(_ context.Context, raw string) (*keycloak.Claims, error) {
	if c, ok := v[raw]; ok {
		return c, nil
	}
	return nil, keycloak.ErrTokenInvalid
}

var tokens = staticVerifier{
	"analyst": {Subject: "u-analyst", Roles: []string{string(keycloak.RoleAnalyst)}},
	"auditor": {Subject: "u-auditor", Roles: []string{string(keycloak.RoleAuditor)}},
}

type harness struct {
	server *Server
	client *EligibilityClient
	conn   *grpc.ClientConn
	log    *testutil.MockLogger
}

func start(t *testing.T, opts ...Option) *harness {
	t.Helper()
	log := testutil.NewMockLogger()
	svc := evaluation.NewService(catalog.MustDefault(), eligibility.DefaultPolicy(), evaluation.Dependencies{}, nil,
		evaluation.WithClock(func() time.Time { return time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC) }))

	s, err := NewServer(config.GRPCConfig{}, append([]Option{WithLogger(log)}, opts...)...)
	require.NoError(t, err)
	s.RegisterService(&EligibilityServiceDesc, NewEligibilityService(svc, log))

	lis := bufconn.Listen(1 << 20)
	go func() { _ = s.Serve(lis) }()

	conn, err := grpc.Dial("bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		conn.Close()
		_ = s.Stop(context.Background())
	})
	return &harness{server: s, client: NewEligibilityClient(conn), conn: conn, log: log}
}

func mustStruct(t *testing.T, v map[string]interface{}) *structpb.Struct {
	t.Helper()
	s, err := structpb.NewStruct(v)
	require.NoError(t, err)
	return s
}

func evaluateRequest(id string) map[string]interface{} {
	docs := map[string]interface{}{}
	for k, v := range testutil.Documents(testutil.DocLegalRepresentative, testutil.DocCRNM, testutil.DocResidenceProof, testutil.DocTravel) {
		docs[k] = v
	}
	return map[string]interface{}{
		"case": map[string]interface{}{
			"id":    id,
			"track": "provisional",
			"personal": map[string]interface{}{
				"birth_date":   "12/03/2012",
				"process_date": "10/01/2025",
			},
			"opinion_text": "O requerente ingressou no território nacional antes de completar 10 anos de idade. Proposta: DEFERIMENTO.",
			"documents":    docs,
		},
	}
}

func withToken(token string) context.Context {
	return metadata.AppendToOutgoingContext(context.Background(), "authorization", "Bearer "+token)
}

func TestEligibility_Evaluate(t *testing.T) {
	h := start(t)

	out, err := h.client.Evaluate(context.Background(), mustStruct(t, evaluateRequest("case-1")))
	require.NoError(t, err)

	verdict := out.GetFields()["verdict"].GetStructValue()
	require.NotNil(t, verdict)
	assert.Equal(t, "case-1", verdict.GetFields()["case_id"].GetStringValue())
	assert.Equal(t, string(eligibility.Approve), verdict.GetFields()["eligibility"].GetStringValue())
	assert.EqualValues(t, 1, out.GetFields()["revision"].GetNumberValue())
	assert.True(t, h.log.HasMessage("info", "grpc request"))
}

func TestEligibility_GetVerdict(t *testing.T) {
	h := start(t)
	ctx := context.Background()

	_, err := h.client.Evaluate(ctx, mustStruct(t, evaluateRequest("case-7")))
	require.NoError(t, err)

	out, err := h.client.GetVerdict(ctx, mustStruct(t, map[string]interface{}{"case_id": "case-7"}))
	require.NoError(t, err)
	assert.Equal(t, "case-7", out.GetFields()["verdict"].GetStructValue().GetFields()["case_id"].GetStringValue())

	var trailer metadata.MD
	_, err = h.client.GetVerdict(ctx, mustStruct(t, map[string]interface{}{"case_id": "missing"}), grpc.Trailer(&trailer))
	assert.Equal(t, codes.NotFound, status.Code(err))
	assert.Equal(t, []string{"ELIG_002"}, trailer.Get(ErrorCodeTrailer))
}

func TestEligibility_ErrorMapping(t *testing.T) {
	h := start(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		call    func(opt grpc.CallOption) error
		code    codes.Code
		errCode string
	}{
		{
			name: "empty request",
			call: func(opt grpc.CallOption) error {
				_, err := h.client.Evaluate(ctx, &structpb.Struct{}, opt)
				return err
			},
			code: codes.InvalidArgument, errCode: "COMMON_002",
		},
		{
			name: "unknown track",
			call: func(opt grpc.CallOption) error {
				req := evaluateRequest("case-2")
				req["case"].(map[string]interface{})["track"] = "nope"
				_, err := h.client.Evaluate(ctx, mustStruct(t, req), opt)
				return err
			},
			code: codes.InvalidArgument, errCode: "CAT_003",
		},
		{
			name: "unknown document type",
			call: func(opt grpc.CallOption) error {
				_, err := h.client.ValidateDocument(ctx, mustStruct(t, map[string]interface{}{"document_type": "passaporte lunar", "text": "x"}), opt)
				return err
			},
			code: codes.NotFound, errCode: "CAT_001",
		},
		{
			name: "bad reference date",
			call: func(opt grpc.CallOption) error {
				_, err := h.client.ValidateDocument(ctx, mustStruct(t, map[string]interface{}{
					"document_type": "CPF", "text": "x", "reference_date": "someday",
				}), opt)
				return err
			},
			code: codes.InvalidArgument, errCode: "DATE_001",
		},
		{
			name: "missing case id",
			call: func(opt grpc.CallOption) error {
				_, err := h.client.GetVerdict(ctx, mustStruct(t, map[string]interface{}{"other": "x"}), opt)
				return err
			},
			code: codes.InvalidArgument, errCode: "COMMON_002",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var trailer metadata.MD
			err := tt.call(grpc.Trailer(&trailer))
			require.Error(t, err)
			assert.Equal(t, tt.code, status.Code(err))
			assert.Equal(t, []string{tt.errCode}, trailer.Get(ErrorCodeTrailer))
		})
	}
}

func TestEligibility_ValidateAndAnalyze(t *testing.T) {
	h := start(t)
	ctx := context.Background()

	out, err := h.client.ValidateDocument(ctx, mustStruct(t, map[string]interface{}{
		"document_type": "CPF",
		"text":          testutil.DocumentTexts[testutil.DocCPF],
	}))
	require.NoError(t, err)
	assert.Contains(t, out.GetFields(), "valid")
	assert.Contains(t, out.GetFields(), "confidence")

	out, err = h.client.AnalyzeOpinion(ctx, mustStruct(t, map[string]interface{}{
		"text": "Proposta: INDEFERIMENTO do pedido.",
	}))
	require.NoError(t, err)
	assert.Equal(t, "reject", out.GetFields()["proposed_decision"].GetStringValue())
}

func TestAuth_RequiresTokenAndPermission(t *testing.T) {
	h := start(t, WithAuth(tokens, keycloak.NewEnforcer(nil, logging.NewNopLogger())))
	req := mustStruct(t, evaluateRequest("case-3"))

	_, err := h.client.Evaluate(context.Background(), req)
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	_, err = h.client.Evaluate(withToken("forged"), req)
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	_, err = h.client.Evaluate(withToken("auditor"), req)
	assert.Equal(t, codes.PermissionDenied, status.Code(err))

	out, err := h.client.Evaluate(withToken("analyst"), req)
	require.NoError(t, err)
	assert.NotNil(t, out.GetFields()["verdict"])

	// Health is never guarded.
	resp, err := healthpb.NewHealthClient(h.conn).Check(context.Background(), &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.Status)
	assert.True(t, h.log.HasMessage("warn", "authentication failed"))
}

func TestHealth_ServiceStatus(t *testing.T) {
	h := start(t)
	hc := healthpb.NewHealthClient(h.conn)

	resp, err := hc.Check(context.Background(), &healthpb.HealthCheckRequest{Service: EligibilityServiceName})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.Status)

	_, err = hc.Check(context.Background(), &healthpb.HealthCheckRequest{Service: "unknown.Service"})
	assert.Equal(t, codes.NotFound, status.Code(err))
}

func TestMetrics_RecordsCallsByCode(t *testing.T) {
	collector, err := metrics.NewMetricsCollector(metrics.CollectorConfig{Namespace: "grpctest"}, logging.NewNopLogger())
	require.NoError(t, err)
	h := start(t, WithMetrics(metrics.NewAppMetrics(collector)))

	_, err = h.client.Evaluate(context.Background(), mustStruct(t, evaluateRequest("case-4")))
	require.NoError(t, err)
	_, _ = h.client.GetVerdict(context.Background(), mustStruct(t, map[string]interface{}{"case_id": "nope"}))

	rec := httptest.NewRecorder()
	collector.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	text := string(body)
	assert.Contains(t, text, `grpctest_grpc_requests_total{code="OK",method="/naturacheck.v1.Eligibility/Evaluate"} 1`)
	assert.Contains(t, text, `code="NotFound",method="/naturacheck.v1.Eligibility/GetVerdict"`)
}

func TestServer_StopAndRestartRules(t *testing.T) {
	s, err := NewServer(config.GRPCConfig{}, WithGracefulTimeout(time.Second))
	require.NoError(t, err)
	assert.Equal(t, "", s.Addr())
	assert.NoError(t, s.Stop(context.Background()), "stop before serve is a no-op")

	lis := bufconn.Listen(1 << 16)
	done := make(chan error, 1)
	go func() { done <- s.Serve(lis) }()

	require.Eventually(t, func() bool { return s.Addr() != "" }, time.Second, 10*time.Millisecond)
	assert.Error(t, s.Serve(bufconn.Listen(1<<16)), "second serve must fail")

	require.NoError(t, s.Stop(context.Background()))
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestNewServer_TLSFilesMissing(t *testing.T) {
	_, err := NewServer(config.GRPCConfig{TLSCertFile: "/nonexistent/cert.pem", TLSKeyFile: "/nonexistent/key.pem"})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "tls"))
}

func TestRecoveryUnaryInterceptor(t *testing.T) {
	log := testutil.NewMockLogger()
	ic := recoveryUnaryInterceptor(log)
	info := &grpc.UnaryServerInfo{FullMethod: MethodEvaluate}

	_, err := ic(context.Background(), nil, info, func(context.Context, interface{}) (interface{}, error) {
		panic("boom")
	})
	assert.Equal(t, codes.Internal, status.Code(err))
	assert.True(t, log.HasMessage("error", "grpc panic recovered"))
	v, ok := log.FieldValue("grpc panic recovered", "panic")
	require.True(t, ok)
	assert.Equal(t, "boom", v)
}

func TestGRPCCodeForHTTP(t *testing.T) {
	tests := map[int]codes.Code{
		http.StatusBadRequest:          codes.InvalidArgument,
		http.StatusUnprocessableEntity: codes.InvalidArgument,
		http.StatusUnauthorized:        codes.Unauthenticated,
		http.StatusForbidden:           codes.PermissionDenied,
		http.StatusNotFound:            codes.NotFound,
		http.StatusConflict:            codes.Aborted,
		http.StatusTooManyRequests:     codes.ResourceExhausted,
		http.StatusNotImplemented:      codes.Unimplemented,
		http.StatusServiceUnavailable:  codes.Unavailable,
		http.StatusGatewayTimeout:      codes.DeadlineExceeded,
		http.StatusInternalServerError: codes.Internal,
	}
	for in, want := range tests {
		assert.Equal(t, want, grpcCodeForHTTP(in), "http %d", in)
	}
}

func TestBearerFromMetadata(t *testing.T) {
	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs("authorization", "bearer abc"))
	tok, err := bearerFromMetadata(ctx)
	require.NoError(t, err)
	assert.Equal(t, "abc", tok)

	_, err = bearerFromMetadata(metadata.NewIncomingContext(context.Background(), metadata.Pairs("authorization", "Basic x")))
	assert.ErrorIs(t, err, keycloak.ErrMissingAuthToken)

	_, err = bearerFromMetadata(context.Background())
	assert.Error(t, err)
}
