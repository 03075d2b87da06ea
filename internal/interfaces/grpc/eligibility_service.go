package grpc

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/turtacn/NaturaCheck/internal/application/evaluation"
	"github.com/turtacn/NaturaCheck/internal/domain/dates"
	"github.com/turtacn/NaturaCheck/internal/infrastructure/auth/keycloak"
	"github.com/turtacn/NaturaCheck/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/NaturaCheck/internal/intelligence/termmatch"
	"github.com/turtacn/NaturaCheck/pkg/errors"
)

// EligibilityServiceName is the fully qualified service name.
const EligibilityServiceName = "naturacheck.v1.Eligibility"

// Full method names.
const (
	MethodEvaluate         = "/" + EligibilityServiceName + "/Evaluate"
	MethodValidateDocument = "/" + EligibilityServiceName + "/ValidateDocument"
	MethodAnalyzeOpinion   = "/" + EligibilityServiceName + "/AnalyzeOpinion"
	MethodGetVerdict       = "/" + EligibilityServiceName + "/GetVerdict"
)

var methodPermissions = map[string]keycloak.Permission{
	MethodEvaluate:         keycloak.PermCaseEvaluate,
	MethodValidateDocument: keycloak.PermDocumentCheck,
	MethodAnalyzeOpinion:   keycloak.PermDocumentCheck,
	MethodGetVerdict:       keycloak.PermVerdictRead,
}

// EligibilityServer is the server API of naturacheck.v1.Eligibility.
// Messages are google.protobuf.Struct documents shaped like the REST bodies.
type EligibilityServer interface {
	Evaluate(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ValidateDocument(context.Context, *structpb.Struct) (*structpb.Struct, error)
	AnalyzeOpinion(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetVerdict(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

func unaryMethod(name string, call func(EligibilityServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodDesc {
	full := "/" + EligibilityServiceName + "/" + name
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(EligibilityServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: full}
			return interceptor(ctx, in, info, func(ctx context.Context, req interface{}) (interface{}, error) {
				return call(srv.(EligibilityServer), ctx, req.(*structpb.Struct))
			})
		},
	}
}

// EligibilityServiceDesc describes naturacheck.v1.Eligibility for
// grpc.Server.RegisterService.
var EligibilityServiceDesc = grpc.ServiceDesc{
	ServiceName: EligibilityServiceName,
	HandlerType: (*EligibilityServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryMethod("Evaluate", EligibilityServer.Evaluate),
		unaryMethod("ValidateDocument", EligibilityServer.ValidateDocument),
		unaryMethod("AnalyzeOpinion", EligibilityServer.AnalyzeOpinion),
		unaryMethod("GetVerdict", EligibilityServer.GetVerdict),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "naturacheck/v1/eligibility.proto",
}

// EligibilityService adapts evaluation.Service to EligibilityServer.
type EligibilityService struct {
	svc    evaluation.Service
	logger logging.Logger
}

// NewEligibilityService creates an EligibilityService.
func NewEligibilityService(svc evaluation.Service, logger logging.Logger) *EligibilityService {
	return &EligibilityService{svc: svc, logger: logging.OrNop(logger).Named("grpc.eligibility")}
}

// Evaluate runs one case. The request is an evaluation request document.
func (s *EligibilityService) Evaluate(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req evaluation.EvaluateRequest
	if err := fromStruct(in, &req); err != nil {
		return nil, err
	}
	if uid, ok := keycloak.UserIDFromContext(ctx); ok {
		req.RequestedBy = uid
	}
	res, err := s.svc.Evaluate(ctx, req)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("case evaluated",
		logging.CaseID(req.Case.ID),
		logging.Eligibility(string(res.Verdict.Eligibility)),
		logging.Bool("cached", res.Cached),
	)
	return toStruct(res)
}

type validateDocumentRequest struct {
	DocumentType  string `json:"document_type"`
	Text          string `json:"text"`
	ReferenceDate string `json:"reference_date,omitempty"`
}

// ValidateDocument checks one extracted text against its document type.
func (s *EligibilityService) ValidateDocument(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req validateDocumentRequest
	if err := fromStruct(in, &req); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.DocumentType) == "" {
		return nil, errors.InvalidParam("document_type is required")
	}
	var ref time.Time
	if req.ReferenceDate != "" {
		t, err := dates.Parse(req.ReferenceDate)
		if err != nil {
			return nil, err
		}
		ref = t
	}
	res := s.svc.ValidateDocument(req.DocumentType, req.Text, ref)
	if res.Reason == termmatch.ReasonUnknownDocumentType {
		return nil, errors.New(errors.ErrCodeUnknownDocumentType, "unknown document type").WithDetail(req.DocumentType)
	}
	return toStruct(res)
}

type analyzeOpinionRequest struct {
	Text  string `json:"text"`
	Track string `json:"track,omitempty"`
}

// AnalyzeOpinion extracts the proposal of an analyst opinion.
func (s *EligibilityService) AnalyzeOpinion(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req analyzeOpinionRequest
	if err := fromStruct(in, &req); err != nil {
		return nil, err
	}
	res, err := s.svc.AnalyzeOpinion(req.Text, req.Track)
	if err != nil {
		return nil, err
	}
	return toStruct(res)
}

// GetVerdict returns the latest stored verdict of {"case_id": ...}.
func (s *EligibilityService) GetVerdict(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	caseID := strings.TrimSpace(in.GetFields()["case_id"].GetStringValue())
	if caseID == "" {
		return nil, errors.InvalidParam("case_id is required")
	}
	rec, err := s.svc.GetVerdict(ctx, caseID)
	if err != nil {
		return nil, err
	}
	return toStruct(rec)
}

// fromStruct decodes a Struct into dst through its JSON form.
func fromStruct(in *structpb.Struct, dst interface{}) error {
	if in == nil || len(in.GetFields()) == 0 {
		return errors.InvalidParam("request is empty")
	}
	raw, err := protojson.Marshal(in)
	if err != nil {
		return errors.InvalidParam("invalid request").WithCause(err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return errors.InvalidParam("invalid request").WithDetail(err.Error())
	}
	return nil
}

func toStruct(v interface{}) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSerialization, "encode response")
	}
	out := new(structpb.Struct)
	if err := protojson.Unmarshal(raw, out); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSerialization, "encode response")
	}
	return out, nil
}

// EligibilityClient calls naturacheck.v1.Eligibility.
type EligibilityClient struct {
	cc grpc.ClientConnInterface
}

// NewEligibilityClient creates an EligibilityClient on cc.
func NewEligibilityClient(cc grpc.ClientConnInterface) *EligibilityClient {
	return &EligibilityClient{cc: cc}
}

func (c *EligibilityClient) invoke(ctx context.Context, method string, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// Evaluate calls Evaluate.
func (c *EligibilityClient) Evaluate(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodEvaluate, in, opts...)
}

// ValidateDocument calls ValidateDocument.
func (c *EligibilityClient) ValidateDocument(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodValidateDocument, in, opts...)
}

// AnalyzeOpinion calls AnalyzeOpinion.
func (c *EligibilityClient) AnalyzeOpinion(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodAnalyzeOpinion, in, opts...)
}

// GetVerdict calls GetVerdict.
func (c *EligibilityClient) GetVerdict(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodGetVerdict, in, opts...)
}
