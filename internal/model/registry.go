package model

// AllModels 返回所有需要 AutoMigrate 的模型 (仅开发环境使用，
// 生产环境请使用 cmd/migrate 管理 Schema)
func AllModels() []interface{} {
	return []interface{}{
		&TreasuryWallet{},
		&UserWallet{},
		&WithdrawalRequest{},
		&SettlementTransaction{},
	}
}
