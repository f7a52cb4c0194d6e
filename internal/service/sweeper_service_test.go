package service

import (
	"context"
	"encoding/json"
	"math/big"
	"testing"

	"github.com/shopspring/decimal"

	"custody-core/internal/model"
)

func sweepJob(w *model.UserWallet, ref string) SweepJobPayload {
	return SweepJobPayload{
		UserID:        w.UserID,
		WalletAddress: w.Address,
		Asset:         "ETH",
		DepositRef:    ref,
		Amount:        "1",
	}
}

func tokenSweepJob(w *model.UserWallet, ref, amount string) SweepJobPayload {
	return SweepJobPayload{
		UserID:        w.UserID,
		WalletAddress: w.Address,
		Asset:         "JOJU",
		Contract:      testTokenContract,
		DepositRef:    ref,
		Amount:        amount,
	}
}

func TestQueueSweep_Dedupe(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	w := env.provision(t, 1)

	if err := env.sweeper.QueueSweep(ctx, sweepJob(w, "0xdead:0")); err != nil {
		t.Fatalf("入队失败: %v", err)
	}
	// 同一充值引用重复入队是 no-op
	if err := env.sweeper.QueueSweep(ctx, sweepJob(w, "0xdead:0")); err != nil {
		t.Fatalf("重复入队应为 no-op, 得到: %v", err)
	}
	if env.queue.count() != 1 {
		t.Errorf("期望 1 个任务, 得到 %d", env.queue.count())
	}

	job := env.queue.last()
	if job.Opts.DedupeKey != "sweep:0xdead:0" {
		t.Errorf("去重键错误: %s", job.Opts.DedupeKey)
	}
	if job.Opts.Delay != env.sweeper.delay {
		t.Errorf("延迟错误: %v", job.Opts.Delay)
	}

	// 不同充值各排各的
	if err := env.sweeper.QueueSweep(ctx, sweepJob(w, "0xbeef:1")); err != nil {
		t.Fatal(err)
	}
	if env.queue.count() != 2 {
		t.Errorf("期望 2 个任务, 得到 %d", env.queue.count())
	}
}

func TestProcessSweep_Native(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	w := env.provision(t, 2)
	treasury := env.treasury(t)

	// 1 ETH 到账，归集后留 0.0005 储备
	oneEth := big.NewInt(1000000000000000000)
	env.chain.setNative(w.Address, oneEth)

	if err := env.sweeper.ProcessSweep(ctx, sweepJob(w, "0xaaa:0")); err != nil {
		t.Fatalf("归集失败: %v", err)
	}

	if env.chain.sentCount() != 1 {
		t.Fatalf("期望 1 笔广播, 得到 %d", env.chain.sentCount())
	}
	sent := env.chain.lastSend()
	want := new(big.Int).Sub(oneEth, big.NewInt(500000000000000))
	if sent.Amount.Cmp(want) != 0 {
		t.Errorf("归集金额应为余额减储备: 期望 %s, 得到 %s", want, sent.Amount)
	}
	if sent.To != treasury.Address {
		t.Errorf("归集目标应为热钱包: %s", sent.To)
	}

	// 流水落库
	var settlement model.SettlementTransaction
	if err := env.db.Where("type = ?", model.SettlementTypeSweep).First(&settlement).Error; err != nil {
		t.Fatalf("归集流水未落库: %v", err)
	}
	if !settlement.Amount.Equal(decimal.RequireFromString("0.9995")) {
		t.Errorf("流水金额错误: %s", settlement.Amount)
	}
}

func TestProcessSweep_BelowReserve(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	w := env.provision(t, 3)

	// 余额不超过储备线: 完成但不动钱
	env.chain.setNative(w.Address, big.NewInt(400000000000000))
	if err := env.sweeper.ProcessSweep(ctx, sweepJob(w, "0xbbb:0")); err != nil {
		t.Fatal(err)
	}
	if env.chain.sentCount() != 0 {
		t.Error("低于储备线不应触链")
	}
}

func TestProcessSweep_TokenGasFunding(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	w := env.provision(t, 4)

	// 用户地址有代币但原生币不足付 Gas
	env.fundToken(t, w.Address, "500")
	env.chain.setNative(w.Address, big.NewInt(1000000000000000)) // 0.001 < 0.003

	job := tokenSweepJob(w, "0xccc:0", "500")
	if err := env.sweeper.ProcessSweep(ctx, job); err != nil {
		t.Fatalf("注资阶段失败: %v", err)
	}

	// 注资金额精确等于缺口 0.002
	if env.chain.sentCount() != 1 {
		t.Fatalf("期望 1 笔注资, 得到 %d", env.chain.sentCount())
	}
	fund := env.chain.lastSend()
	wantShortfall := big.NewInt(2000000000000000)
	if fund.Amount.Cmp(wantShortfall) != 0 {
		t.Errorf("注资应恰为缺口: 期望 %s, 得到 %s", wantShortfall, fund.Amount)
	}
	if fund.To != w.Address {
		t.Errorf("注资目标应为用户地址: %s", fund.To)
	}
	if fund.Contract != "" {
		t.Error("注资是原生转账")
	}

	// 代币阶段被重新入队，带 Funded 标记和独立去重键
	reQueued := env.queue.last()
	if reQueued.Type != TypeSweepProcess {
		t.Fatalf("期望归集任务, 得到 %s", reQueued.Type)
	}
	var p SweepJobPayload
	if err := json.Unmarshal(reQueued.Payload, &p); err != nil {
		t.Fatal(err)
	}
	if !p.Funded {
		t.Error("第二阶段任务应带 Funded 标记")
	}
	if reQueued.Opts.DedupeKey != "sweep:0xccc:0:funded" {
		t.Errorf("第二阶段去重键错误: %s", reQueued.Opts.DedupeKey)
	}
	if reQueued.Opts.Delay != env.sweeper.fundingWait {
		t.Errorf("第二阶段延迟错误: %v", reQueued.Opts.Delay)
	}
}

func TestProcessSweep_TokenFunded(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	w := env.provision(t, 5)
	treasury := env.treasury(t)

	env.fundToken(t, w.Address, "500")

	job := tokenSweepJob(w, "0xddd:0", "500")
	job.Funded = true
	if err := env.sweeper.ProcessSweep(ctx, job); err != nil {
		t.Fatalf("代币归集失败: %v", err)
	}

	if env.chain.sentCount() != 1 {
		t.Fatalf("期望 1 笔代币转账, 得到 %d", env.chain.sentCount())
	}
	sent := env.chain.lastSend()
	if sent.Contract != testTokenContract {
		t.Errorf("应为代币转账: %s", sent.Contract)
	}
	if sent.To != treasury.Address {
		t.Errorf("归集目标应为热钱包: %s", sent.To)
	}
	// 代币全额归集，不留储备
	want := decimal.RequireFromString("500").Shift(18).BigInt()
	if sent.Amount.Cmp(want) != 0 {
		t.Errorf("代币应全额归集: %s", sent.Amount)
	}

	var settlement model.SettlementTransaction
	if err := env.db.Where("type = ?", model.SettlementTypeSweep).First(&settlement).Error; err != nil {
		t.Fatal(err)
	}
	// 审计口径是触发充值的金额
	if !settlement.Amount.Equal(decimal.RequireFromString("500")) {
		t.Errorf("流水金额错误: %s", settlement.Amount)
	}
}

func TestProcessSweep_GasAlreadySufficient(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	w := env.provision(t, 6)

	// 原生币已够 Gas: 第一阶段直接转代币，不注资不重排
	env.fundToken(t, w.Address, "100")
	env.chain.setNative(w.Address, big.NewInt(5000000000000000)) // 0.005 >= 0.003

	if err := env.sweeper.ProcessSweep(ctx, tokenSweepJob(w, "0xeee:0", "100")); err != nil {
		t.Fatal(err)
	}
	if env.chain.sentCount() != 1 {
		t.Fatalf("期望 1 笔转账, 得到 %d", env.chain.sentCount())
	}
	if env.chain.lastSend().Contract != testTokenContract {
		t.Error("应直接进行代币转账")
	}
	if env.queue.count() != 0 {
		t.Error("不应重排第二阶段")
	}
}

func TestProcessSweep_MissingWalletDropped(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.provision(t, 7) // 创建热钱包

	job := SweepJobPayload{
		UserID:        999,
		WalletAddress: "0x9999999999999999999999999999999999999999",
		Asset:         "ETH",
		DepositRef:    "0xfff:0",
		Amount:        "1",
	}
	// 未知钱包: 丢弃而非重试
	if err := env.sweeper.ProcessSweep(ctx, job); err != nil {
		t.Errorf("未知钱包应丢弃任务, 得到: %v", err)
	}
	if env.chain.sentCount() != 0 {
		t.Error("不应触链")
	}
}

func TestProcessSweep_SelfSweepGuard(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	w := env.provision(t, 8)
	treasury := env.treasury(t)

	// 把热钱包地址也登记为一个用户钱包的场景不存在，
	// 但任务载荷可能携带热钱包地址: 必须直接跳过
	env.db.Model(&model.UserWallet{}).Where("id = ?", w.ID).Update("address", treasury.Address)

	job := sweepJob(w, "0xabc:0")
	job.WalletAddress = treasury.Address
	env.chain.setNative(treasury.Address, big.NewInt(1000000000000000000))

	if err := env.sweeper.ProcessSweep(ctx, job); err != nil {
		t.Fatal(err)
	}
	if env.chain.sentCount() != 0 {
		t.Error("自归集应跳过")
	}
}

func TestRecordSweep_DuplicateTxHashSwallowed(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	w := env.provision(t, 9)
	env.chain.setNative(w.Address, big.NewInt(1000000000000000000))

	if err := env.sweeper.ProcessSweep(ctx, sweepJob(w, "0x111:0")); err != nil {
		t.Fatal(err)
	}

	// 重放同一任务: fakeChain 会生成新哈希，所以直接重放 recordSweep
	var settlement model.SettlementTransaction
	if err := env.db.Where("type = ?", model.SettlementTypeSweep).First(&settlement).Error; err != nil {
		t.Fatal(err)
	}
	err := env.sweeper.recordSweep(ctx, settlement.TxHash, w, settlement.ToAddress, settlement.Amount, settlement.Asset)
	if err != nil {
		t.Errorf("重复流水应按良性冲突吞掉, 得到: %v", err)
	}

	var count int64
	env.db.Model(&model.SettlementTransaction{}).Where("type = ?", model.SettlementTypeSweep).Count(&count)
	if count != 1 {
		t.Errorf("期望 1 条流水, 得到 %d", count)
	}
}

func TestProcessSweep_LockContention(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	w := env.provision(t, 10)
	env.chain.setNative(w.Address, big.NewInt(1000000000000000000))

	// 其他节点持有锁: 本节点静默跳过
	if ok, _ := env.lock.Acquire(ctx, "sweeper:deposit:0x222:0", 0); !ok {
		t.Fatal("预置锁失败")
	}
	if err := env.sweeper.ProcessSweep(ctx, sweepJob(w, "0x222:0")); err != nil {
		t.Fatal(err)
	}
	if env.chain.sentCount() != 0 {
		t.Error("锁被占用时不应处理")
	}
}
