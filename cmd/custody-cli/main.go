package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"custody-core/internal/model"
	"custody-core/pkg/bip39"
	"custody-core/pkg/config"
	"custody-core/pkg/database"
	"custody-core/pkg/vault"
)

// 运维 CLI: 密钥材料生成与金库巡检。
// 所有子命令都不打印明文私钥。

func main() {
	root := &cobra.Command{
		Use:   "custody-cli",
		Short: "Operational tooling for the custody core",
	}

	root.AddCommand(newMnemonicCmd())
	root.AddCommand(newKeygenCmd())
	root.AddCommand(newDeriveCmd())
	root.AddCommand(newTreasuryCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newMnemonicCmd() *cobra.Command {
	var bits int
	cmd := &cobra.Command{
		Use:   "mnemonic",
		Short: "Generate a BIP-39 mnemonic",
		RunE: func(cmd *cobra.Command, args []string) error {
			mnemonic, err := bip39.NewMnemonicService().GenerateMnemonic(bits)
			if err != nil {
				return err
			}
			fmt.Println(mnemonic)
			return nil
		},
	}
	cmd.Flags().IntVar(&bits, "bits", 256, "entropy size in bits (128-256)")
	return cmd
}

func newKeygenCmd() *cobra.Command {
	var size int
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a hex-encoded vault encryption key",
		RunE: func(cmd *cobra.Command, args []string) error {
			switch size {
			case 16, 24, 32:
			default:
				return fmt.Errorf("key size must be 16, 24 or 32 bytes, got %d", size)
			}
			key := make([]byte, size)
			if _, err := rand.Read(key); err != nil {
				return err
			}
			fmt.Println(hex.EncodeToString(key))
			return nil
		},
	}
	cmd.Flags().IntVar(&size, "size", 32, "key size in bytes (16/24/32)")
	return cmd
}

func newDeriveCmd() *cobra.Command {
	var (
		mnemonic string
		index    uint32
	)
	cmd := &cobra.Command{
		Use:   "derive",
		Short: "Derive the deposit address at a given index (address only)",
		RunE: func(cmd *cobra.Command, args []string) error {
			service := bip39.NewMnemonicService()
			if !service.ValidateMnemonic(mnemonic) {
				return fmt.Errorf("invalid mnemonic")
			}

			// 派生只需要一个合法密钥长度，固定 32 字节即可
			v, err := vault.New("0000000000000000000000000000000000000000000000000000000000000000")
			if err != nil {
				return err
			}
			kp, err := v.DeriveChild(service.MnemonicToSeed(mnemonic, ""), index)
			if err != nil {
				return err
			}
			fmt.Println(kp.Address)
			return nil
		},
	}
	cmd.Flags().StringVar(&mnemonic, "mnemonic", "", "BIP-39 mnemonic (required)")
	cmd.Flags().Uint32Var(&index, "index", 0, "derivation index")
	cmd.MarkFlagRequired("mnemonic")
	return cmd
}

func newTreasuryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "treasury",
		Short: "Inspect the active treasury wallet",
		RunE: func(cmd *cobra.Command, args []string) error {
			config.Init()

			dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable",
				config.Global.DB.Host,
				config.Global.DB.User,
				config.Global.DB.Password,
				config.Global.DB.Name,
				config.Global.DB.Port,
			)
			db, err := database.ConnectPostgres(dsn)
			if err != nil {
				return err
			}

			var treasury model.TreasuryWallet
			if err := db.Where("active = ?", true).First(&treasury).Error; err != nil {
				return fmt.Errorf("no active treasury wallet: %w", err)
			}

			var walletCount int64
			db.Model(&model.UserWallet{}).Count(&walletCount)

			fmt.Printf("address:               %s\n", treasury.Address)
			fmt.Printf("next derivation index: %d\n", treasury.NextDerivationIndex)
			fmt.Printf("user wallets:          %d\n", walletCount)
			fmt.Printf("created at:            %s\n", treasury.CreatedAt.Format("2006-01-02 15:04:05"))
			return nil
		},
	}
}
