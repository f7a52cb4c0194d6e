package service

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"custody-core/internal/model"
	"custody-core/pkg/cache"
	"custody-core/pkg/config"
	"custody-core/pkg/vault"
)

const testVaultKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

const testTokenContract = "0x00000000000000000000000000000000000a11ce"

// setTestConfig 填充资产与链配置 (服务层直接读 config.Global)
func setTestConfig(t *testing.T) {
	t.Helper()
	config.Global = config.Config{
		Chain: config.ChainConfig{
			NativeSymbol: "ETH",
		},
		Assets: map[string]config.AssetConfig{
			"JOJU": {Contract: testTokenContract, Decimals: 18},
		},
	}
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	// 每个测试独立的共享内存库 (库名取测试名)
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("打开 sqlite 失败: %v", err)
	}
	if err := db.AutoMigrate(model.AllModels()...); err != nil {
		t.Fatalf("迁移失败: %v", err)
	}
	return db
}

// ---------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------

type sentTx struct {
	From     string // 记录私钥 hex 前缀即可，fake 不做地址推导
	To       string
	Contract string
	Amount   *big.Int
}

// fakeChain 内存链: 余额表 + 已广播交易记录
type fakeChain struct {
	mu      sync.Mutex
	native  map[string]*big.Int
	tokens  map[string]*big.Int // address|contract
	sends   []sentTx
	sendErr error
	seq     int
}

func newFakeChain() *fakeChain {
	return &fakeChain{
		native: make(map[string]*big.Int),
		tokens: make(map[string]*big.Int),
	}
}

func (c *fakeChain) setNative(address string, wei *big.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.native[strings.ToLower(address)] = wei
}

func (c *fakeChain) setToken(address, contract string, amount *big.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokens[strings.ToLower(address)+"|"+strings.ToLower(contract)] = amount
}

func (c *fakeChain) GetNativeBalance(_ context.Context, address string) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if bal, ok := c.native[strings.ToLower(address)]; ok {
		return new(big.Int).Set(bal), nil
	}
	return big.NewInt(0), nil
}

func (c *fakeChain) GetTokenBalance(_ context.Context, address, contract string) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if bal, ok := c.tokens[strings.ToLower(address)+"|"+strings.ToLower(contract)]; ok {
		return new(big.Int).Set(bal), nil
	}
	return big.NewInt(0), nil
}

func (c *fakeChain) SendNative(_ context.Context, privKeyHex, to string, amount *big.Int) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return "", c.sendErr
	}
	c.seq++
	c.sends = append(c.sends, sentTx{From: privKeyHex, To: to, Amount: new(big.Int).Set(amount)})
	return fmt.Sprintf("0xfake%04d", c.seq), nil
}

func (c *fakeChain) SendToken(_ context.Context, privKeyHex, to, contract string, amount *big.Int) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return "", c.sendErr
	}
	c.seq++
	c.sends = append(c.sends, sentTx{From: privKeyHex, To: to, Contract: contract, Amount: new(big.Int).Set(amount)})
	return fmt.Sprintf("0xfake%04d", c.seq), nil
}

func (c *fakeChain) IsValidAddress(address string) bool {
	return strings.HasPrefix(address, "0x") && len(address) == 42
}

func (c *fakeChain) sentCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sends)
}

func (c *fakeChain) lastSend() sentTx {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sends[len(c.sends)-1]
}

// enqueuedJob 记录一次入队
type enqueuedJob struct {
	Type    string
	Payload []byte
	Opts    JobOptions
}

// fakeQueue 记录入队请求并模拟 TaskID 去重
type fakeQueue struct {
	mu   sync.Mutex
	jobs []enqueuedJob
	keys map[string]bool
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{keys: make(map[string]bool)}
}

func (q *fakeQueue) Enqueue(_ context.Context, jobType string, payload []byte, opts JobOptions) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if opts.DedupeKey != "" {
		if q.keys[opts.DedupeKey] {
			return ErrDuplicateJob
		}
		q.keys[opts.DedupeKey] = true
	}
	q.jobs = append(q.jobs, enqueuedJob{Type: jobType, Payload: payload, Opts: opts})
	return nil
}

func (q *fakeQueue) count() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

func (q *fakeQueue) last() enqueuedJob {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.jobs[len(q.jobs)-1]
}

// fakeNotifier 收集通知
type fakeNotifier struct {
	mu     sync.Mutex
	events []string // "userID:type"
}

func (n *fakeNotifier) Notify(_ context.Context, userID uint64, typ, _, _ string, _ map[string]string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, fmt.Sprintf("%d:%s", userID, typ))
	return nil
}

func (n *fakeNotifier) countOf(suffix string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	count := 0
	for _, e := range n.events {
		if strings.HasSuffix(e, suffix) {
			count++
		}
	}
	return count
}

// fakeAuditor 收集审计动作
type fakeAuditor struct {
	mu      sync.Mutex
	actions []string
}

func (a *fakeAuditor) Log(_ context.Context, _ uint64, action, _, _ string, _ map[string]string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.actions = append(a.actions, action)
	return nil
}

// fakeLock 单进程内存锁
type fakeLock struct {
	mu   sync.Mutex
	held map[string]bool
}

func newFakeLock() *fakeLock {
	return &fakeLock{held: make(map[string]bool)}
}

func (l *fakeLock) Acquire(_ context.Context, key string, _ time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] {
		return false, nil
	}
	l.held[key] = true
	return true, nil
}

func (l *fakeLock) Release(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, key)
	return nil
}

// ---------------------------------------------------------------------
// 测试环境组装
// ---------------------------------------------------------------------

type testEnv struct {
	db       *gorm.DB
	vault    *vault.Vault
	chain    *fakeChain
	queue    *fakeQueue
	notifier *fakeNotifier
	auditor  *fakeAuditor
	lock     *fakeLock

	wallets  *WalletService
	balances *BalanceService
	withdraw *WithdrawService
	sweeper  *SweeperService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	setTestConfig(t)

	db := newTestDB(t)
	v, err := vault.New(testVaultKey)
	if err != nil {
		t.Fatalf("初始化 Vault 失败: %v", err)
	}

	chain := newFakeChain()
	queue := newFakeQueue()
	notifier := &fakeNotifier{}
	auditor := &fakeAuditor{}
	distLock := newFakeLock()

	wallets := NewWalletService(db, v, auditor)
	balances := NewBalanceService(db, chain, wallets, cache.NewMemoryCache(time.Minute, time.Minute))
	withdraw := NewWithdrawService(db, wallets, balances, chain, v, queue, notifier, auditor, 24*time.Hour)
	sweeper := NewSweeperService(db, wallets, chain, v, queue, distLock, SweeperOptions{
		ReserveWei:      big.NewInt(500000000000000),      // 0.0005 ETH
		GasThresholdWei: big.NewInt(3000000000000000),     // 0.003 ETH
		Delay:           30 * time.Second,
		FundingWait:     15 * time.Second,
		MaxAttempts:     5,
	})

	return &testEnv{
		db:       db,
		vault:    v,
		chain:    chain,
		queue:    queue,
		notifier: notifier,
		auditor:  auditor,
		lock:     distLock,
		wallets:  wallets,
		balances: balances,
		withdraw: withdraw,
		sweeper:  sweeper,
	}
}

// provision 开通一个用户钱包并返回
func (e *testEnv) provision(t *testing.T, userID uint64) *model.UserWallet {
	t.Helper()
	w, err := e.wallets.ProvisionUserWallet(context.Background(), userID)
	if err != nil {
		t.Fatalf("开通用户 %d 钱包失败: %v", userID, err)
	}
	return w
}

func (e *testEnv) treasury(t *testing.T) *model.TreasuryWallet {
	t.Helper()
	tr, err := e.wallets.GetActiveTreasury(context.Background())
	if err != nil {
		t.Fatalf("获取热钱包失败: %v", err)
	}
	return tr
}
