package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/JoeShih716/go-agency-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-agency-ledger/internal/app/core/usecase"
)

// 帳戶以 hash 儲存 (owner, balance)，分行以 set 記錄帳號
// 所有寫入都由 Lua script 在 Redis 端原子執行
var (
	insertScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
	return 0
end
redis.call('HSET', KEYS[1], 'owner', ARGV[1], 'balance', ARGV[2])
redis.call('SADD', KEYS[2], ARGV[3])
return 1
`)

	// ARGV[2] / ARGV[3] 為下限 / 上限，空字串代表不限制
	// 餘額超過 2^53 時 Lua number 會失去精度，因此以十進位字串比較
	incrementScript = redis.NewScript(`
local function cmp(a, b)
	local na, nb = a:sub(1, 1) == '-', b:sub(1, 1) == '-'
	if na ~= nb then
		return na and -1 or 1
	end
	if na then
		a, b = b:sub(2), a:sub(2)
	end
	if #a ~= #b then
		return #a < #b and -1 or 1
	end
	if a == b then
		return 0
	end
	return a < b and -1 or 1
end

local balance = redis.call('HGET', KEYS[1], 'balance')
if not balance then
	return {0}
end
if ARGV[2] ~= '' and cmp(balance, ARGV[2]) < 0 then
	return {0}
end
if ARGV[3] ~= '' and cmp(balance, ARGV[3]) > 0 then
	return {0}
end
local owner = redis.call('HGET', KEYS[1], 'owner')
local updated = redis.call('HINCRBY', KEYS[1], 'balance', ARGV[1])
return {1, owner, updated}
`)

	deleteScript = redis.NewScript(`
local fields = redis.call('HMGET', KEYS[1], 'owner', 'balance')
if not fields[1] then
	return {0}
end
redis.call('DEL', KEYS[1])
redis.call('SREM', KEYS[2], ARGV[1])
return {1, fields[1], fields[2]}
`)

	// 回傳分行內每個帳戶的餘額字串，加總在 Go 端以 decimal 完成
	balancesScript = redis.NewScript(`
local numbers = redis.call('SMEMBERS', KEYS[1])
local out = {}
for _, n in ipairs(numbers) do
	local b = redis.call('HGET', ARGV[1] .. n, 'balance')
	if b then
		out[#out + 1] = b
	end
end
return out
`)
)

// RedisStore 以 Redis 實作 AccountStore
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "ledger"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) accountKey(key domain.AccountKey) string {
	return fmt.Sprintf("%s:account:%d:%d", s.prefix, key.Agency, key.Number)
}

func (s *RedisStore) agencyKey(agency int64) string {
	return fmt.Sprintf("%s:agency:%d", s.prefix, agency)
}

// Insert 開戶
func (s *RedisStore) Insert(ctx context.Context, account domain.Account) error {
	if err := account.Validate(); err != nil {
		return err
	}
	key := account.Key()
	created, err := insertScript.Run(ctx, s.client,
		[]string{s.accountKey(key), s.agencyKey(key.Agency)},
		account.OwnerName, int64(account.Balance), key.Number,
	).Int()
	if err != nil {
		return fmt.Errorf("redis insert %s: %w", key, err)
	}
	if created == 0 {
		return domain.ErrAccountAlreadyExists
	}
	return nil
}

// Find 查詢帳戶
func (s *RedisStore) Find(ctx context.Context, key domain.AccountKey) (domain.Account, bool, error) {
	fields, err := s.client.HMGet(ctx, s.accountKey(key), "owner", "balance").Result()
	if err != nil {
		return domain.Account{}, false, fmt.Errorf("redis find %s: %w", key, err)
	}
	owner, ok := fields[0].(string)
	if !ok {
		return domain.Account{}, false, nil
	}
	balance, _ := fields[1].(string)
	return buildAccount(key, owner, balance)
}

// ConditionalIncrement 條件式增減餘額
func (s *RedisStore) ConditionalIncrement(ctx context.Context, key domain.AccountKey, predicate domain.Predicate, delta domain.Amount) (domain.Account, bool, error) {
	floor, ceiling := "", ""
	if min, ok := predicate.Floor(); ok {
		floor = strconv.FormatInt(int64(min), 10)
	}
	if max, ok := predicate.Ceiling(); ok {
		ceiling = strconv.FormatInt(int64(max), 10)
	}
	reply, err := incrementScript.Run(ctx, s.client,
		[]string{s.accountKey(key)},
		int64(delta), floor, ceiling,
	).Slice()
	if err != nil {
		return domain.Account{}, false, fmt.Errorf("redis increment %s: %w", key, err)
	}
	return parseReply(key, reply)
}

// Delete 銷戶
func (s *RedisStore) Delete(ctx context.Context, key domain.AccountKey) (domain.Account, bool, error) {
	reply, err := deleteScript.Run(ctx, s.client,
		[]string{s.accountKey(key), s.agencyKey(key.Agency)},
		key.Number,
	).Slice()
	if err != nil {
		return domain.Account{}, false, fmt.Errorf("redis delete %s: %w", key, err)
	}
	return parseReply(key, reply)
}

// Count 分行帳戶數
func (s *RedisStore) Count(ctx context.Context, agency int64) (int64, error) {
	n, err := s.client.SCard(ctx, s.agencyKey(agency)).Result()
	if err != nil {
		return 0, fmt.Errorf("redis count agency %d: %w", agency, err)
	}
	return n, nil
}

// AverageBalance 分行平均餘額 (最小單位)
func (s *RedisStore) AverageBalance(ctx context.Context, agency int64) (decimal.Decimal, bool, error) {
	balances, err := balancesScript.Run(ctx, s.client,
		[]string{s.agencyKey(agency)},
		fmt.Sprintf("%s:account:%d:", s.prefix, agency),
	).StringSlice()
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("redis balances agency %d: %w", agency, err)
	}
	if len(balances) == 0 {
		return decimal.Zero, false, nil
	}
	sum := decimal.Zero
	for _, b := range balances {
		d, err := decimal.NewFromString(b)
		if err != nil {
			return decimal.Zero, false, fmt.Errorf("parse balance %q: %w", b, err)
		}
		sum = sum.Add(d)
	}
	return sum.Div(decimal.NewFromInt(int64(len(balances)))), true, nil
}

// parseReply 解析 script 回傳的 {1, owner, balance} 或 {0}
func parseReply(key domain.AccountKey, reply []interface{}) (domain.Account, bool, error) {
	if len(reply) == 0 {
		return domain.Account{}, false, errors.New("redis: empty script reply")
	}
	if flag, _ := reply[0].(int64); flag == 0 {
		return domain.Account{}, false, nil
	}
	if len(reply) != 3 {
		return domain.Account{}, false, fmt.Errorf("redis: unexpected script reply %v", reply)
	}
	owner, _ := reply[1].(string)
	switch balance := reply[2].(type) {
	case int64:
		return buildAccount(key, owner, strconv.FormatInt(balance, 10))
	case string:
		return buildAccount(key, owner, balance)
	default:
		return domain.Account{}, false, fmt.Errorf("redis: unexpected balance %v for %s", reply[2], key)
	}
}

func buildAccount(key domain.AccountKey, owner, balance string) (domain.Account, bool, error) {
	b, err := strconv.ParseInt(balance, 10, 64)
	if err != nil {
		return domain.Account{}, false, fmt.Errorf("redis: bad balance %q for %s: %w", balance, key, err)
	}
	return domain.Account{
		Agency:    key.Agency,
		Number:    key.Number,
		OwnerName: owner,
		Balance:   domain.Amount(b),
	}, true, nil
}

var _ usecase.AccountStore = (*RedisStore)(nil)
