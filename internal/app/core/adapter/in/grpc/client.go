package grpc

import (
	"context"
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/JoeShih716/go-agency-ledger/internal/app/core/domain"
)

// Client LedgerService 的型別化客戶端
type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func (c *Client) invoke(ctx context.Context, method string, fields map[string]any) (*structpb.Struct, error) {
	in, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/"+method, in, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetBalance(ctx context.Context, agency, account int64) (domain.Amount, error) {
	out, err := c.invoke(ctx, "GetBalance", keyFields("", agency, account))
	if err != nil {
		return 0, err
	}
	return balanceOf(out, "balance")
}

func (c *Client) Deposit(ctx context.Context, agency, account int64, amount domain.Amount) (domain.Amount, error) {
	fields := keyFields("", agency, account)
	fields["amount"] = amount.String()
	out, err := c.invoke(ctx, "Deposit", fields)
	if err != nil {
		return 0, err
	}
	return balanceOf(out, "balance")
}

func (c *Client) Withdraw(ctx context.Context, agency, account int64, amount domain.Amount) (domain.Amount, error) {
	fields := keyFields("", agency, account)
	fields["amount"] = amount.String()
	out, err := c.invoke(ctx, "Withdraw", fields)
	if err != nil {
		return 0, err
	}
	return balanceOf(out, "balance")
}

// Transfer 回傳轉出帳戶扣款後餘額
func (c *Client) Transfer(ctx context.Context, srcAgency, srcAccount, dstAgency, dstAccount int64, amount domain.Amount) (domain.Amount, error) {
	fields := keyFields("src_", srcAgency, srcAccount)
	for k, v := range keyFields("dst_", dstAgency, dstAccount) {
		fields[k] = v
	}
	fields["amount"] = amount.String()
	out, err := c.invoke(ctx, "Transfer", fields)
	if err != nil {
		return 0, err
	}
	return balanceOf(out, "source_balance")
}

func (c *Client) CloseAccount(ctx context.Context, agency, account int64) (domain.Closure, error) {
	out, err := c.invoke(ctx, "CloseAccount", keyFields("", agency, account))
	if err != nil {
		return domain.Closure{}, err
	}
	balance, err := balanceOf(out, "balance")
	if err != nil {
		return domain.Closure{}, err
	}
	remaining, err := strconv.ParseInt(out.GetFields()["remaining_accounts"].GetStringValue(), 10, 64)
	if err != nil {
		return domain.Closure{}, fmt.Errorf("bad remaining_accounts: %w", err)
	}
	return domain.Closure{
		Account: domain.Account{
			Agency:    agency,
			Number:    account,
			OwnerName: out.GetFields()["owner"].GetStringValue(),
			Balance:   balance,
		},
		Remaining: remaining,
	}, nil
}

func (c *Client) AverageBalance(ctx context.Context, agency int64) (decimal.Decimal, error) {
	out, err := c.invoke(ctx, "AverageBalance", map[string]any{"agency": strconv.FormatInt(agency, 10)})
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromString(out.GetFields()["average"].GetStringValue())
}

// keyFields 帳號以字串傳遞，避免 Struct number (float64) 的精度問題
func keyFields(prefix string, agency, account int64) map[string]any {
	return map[string]any{
		prefix + "agency":  strconv.FormatInt(agency, 10),
		prefix + "account": strconv.FormatInt(account, 10),
	}
}

func balanceOf(out *structpb.Struct, field string) (domain.Amount, error) {
	raw := out.GetFields()[field].GetStringValue()
	b, err := domain.ParseBalance(raw)
	if err != nil {
		return 0, fmt.Errorf("bad %s %q: %w", field, raw, err)
	}
	return b, nil
}
