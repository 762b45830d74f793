package grpc

import (
	"context"
	"errors"
	"math"
	"strconv"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/JoeShih716/go-agency-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-agency-ledger/internal/app/core/usecase"
)

// GrpcServer 將 gRPC 請求轉換為 LedgerEngine / ReportingService 呼叫
type GrpcServer struct {
	engine    *usecase.LedgerEngine
	reporting *usecase.ReportingService
	logger    *zap.Logger
}

func NewGrpcServer(engine *usecase.LedgerEngine, reporting *usecase.ReportingService, logger *zap.Logger) *GrpcServer {
	return &GrpcServer{
		engine:    engine,
		reporting: reporting,
		logger:    logger,
	}
}

func (s *GrpcServer) GetBalance(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	agency, account, err := accountFields(req, "agency", "account")
	if err != nil {
		return nil, s.toStatus(err)
	}
	balance, err := s.engine.GetBalance(ctx, agency, account)
	if err != nil {
		return nil, s.toStatus(err)
	}
	return reply(map[string]any{"balance": balance.String()})
}

func (s *GrpcServer) Deposit(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	agency, account, err := accountFields(req, "agency", "account")
	if err != nil {
		return nil, s.toStatus(err)
	}
	amount, err := amountField(req)
	if err != nil {
		return nil, s.toStatus(err)
	}
	balance, err := s.engine.Deposit(ctx, agency, account, amount)
	if err != nil {
		return nil, s.toStatus(err)
	}
	return reply(map[string]any{"balance": balance.String()})
}

func (s *GrpcServer) Withdraw(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	agency, account, err := accountFields(req, "agency", "account")
	if err != nil {
		return nil, s.toStatus(err)
	}
	amount, err := amountField(req)
	if err != nil {
		return nil, s.toStatus(err)
	}
	balance, err := s.engine.Withdraw(ctx, agency, account, amount)
	if err != nil {
		return nil, s.toStatus(err)
	}
	return reply(map[string]any{"balance": balance.String()})
}

func (s *GrpcServer) Transfer(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	srcAgency, srcAccount, err := accountFields(req, "src_agency", "src_account")
	if err != nil {
		return nil, s.toStatus(err)
	}
	dstAgency, dstAccount, err := accountFields(req, "dst_agency", "dst_account")
	if err != nil {
		return nil, s.toStatus(err)
	}
	amount, err := amountField(req)
	if err != nil {
		return nil, s.toStatus(err)
	}
	balance, err := s.engine.Transfer(ctx, srcAgency, srcAccount, dstAgency, dstAccount, amount)
	if err != nil {
		return nil, s.toStatus(err)
	}
	return reply(map[string]any{"source_balance": balance.String()})
}

func (s *GrpcServer) CloseAccount(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	agency, account, err := accountFields(req, "agency", "account")
	if err != nil {
		return nil, s.toStatus(err)
	}
	closure, err := s.engine.CloseAccount(ctx, agency, account)
	if err != nil {
		return nil, s.toStatus(err)
	}
	return reply(map[string]any{
		"owner":              closure.Account.OwnerName,
		"balance":            closure.Account.Balance.String(),
		"remaining_accounts": strconv.FormatInt(closure.Remaining, 10),
	})
}

func (s *GrpcServer) AverageBalance(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	agency, err := idField(req, "agency")
	if err != nil {
		return nil, s.toStatus(err)
	}
	avg, err := s.reporting.AverageBalance(ctx, agency)
	if err != nil {
		return nil, s.toStatus(err)
	}
	return reply(map[string]any{"average": avg.String()})
}

// toStatus 將錯誤轉換為 gRPC status
func (s *GrpcServer) toStatus(err error) error {
	code := codeOf(err)
	if code == codes.Internal || code == codes.DataLoss {
		s.logger.Error("grpc request failed", zap.Stringer("code", code), zap.Error(err))
	}
	if code == codes.Internal {
		return status.Error(code, "internal error")
	}
	return status.Error(code, err.Error())
}

func codeOf(err error) codes.Code {
	switch {
	case errors.Is(err, domain.ErrInvalidAmount),
		errors.Is(err, domain.ErrInvalidAccountKey),
		errors.Is(err, domain.ErrInvalidTarget):
		return codes.InvalidArgument
	case errors.Is(err, domain.ErrAccountNotFound),
		errors.Is(err, domain.ErrSourceNotFound),
		errors.Is(err, domain.ErrDestinationNotFound),
		errors.Is(err, domain.ErrEmptyAgency):
		return codes.NotFound
	case errors.Is(err, domain.ErrInsufficientFunds),
		errors.Is(err, domain.ErrBalanceOverflow):
		return codes.FailedPrecondition
	case errors.Is(err, domain.ErrTransferInconsistent):
		return codes.DataLoss
	default:
		return codes.Internal
	}
}

func reply(fields map[string]any) (*structpb.Struct, error) {
	out, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

func accountFields(req *structpb.Struct, agencyField, accountField string) (int64, int64, error) {
	agency, err := idField(req, agencyField)
	if err != nil {
		return 0, 0, err
	}
	account, err := idField(req, accountField)
	if err != nil {
		return 0, 0, err
	}
	return agency, account, nil
}

// idField 讀取正整數欄位，接受字串或整數值的 number
func idField(req *structpb.Struct, name string) (int64, error) {
	v, ok := req.GetFields()[name]
	if !ok {
		return 0, domain.ErrInvalidAccountKey
	}
	var id int64
	switch kind := v.GetKind().(type) {
	case *structpb.Value_StringValue:
		n, err := strconv.ParseInt(kind.StringValue, 10, 64)
		if err != nil {
			return 0, domain.ErrInvalidAccountKey
		}
		id = n
	case *structpb.Value_NumberValue:
		f := kind.NumberValue
		if f != math.Trunc(f) || math.Abs(f) > 1<<53 {
			return 0, domain.ErrInvalidAccountKey
		}
		id = int64(f)
	default:
		return 0, domain.ErrInvalidAccountKey
	}
	if id <= 0 {
		return 0, domain.ErrInvalidAccountKey
	}
	return id, nil
}

func amountField(req *structpb.Struct) (domain.Amount, error) {
	v, ok := req.GetFields()["amount"]
	if !ok {
		return 0, domain.ErrInvalidAmount
	}
	s, ok := v.GetKind().(*structpb.Value_StringValue)
	if !ok {
		return 0, domain.ErrInvalidAmount
	}
	return domain.ParseAmount(s.StringValue)
}

var _ LedgerServiceServer = (*GrpcServer)(nil)
