package main

import (
	"context"
	"fmt"
	"os"

	"coordinatorcore/configs"
	"coordinatorcore/internal/db"
	"coordinatorcore/internal/persister"
	"coordinatorcore/internal/settlement"
	"coordinatorcore/internal/testmode"
	"coordinatorcore/internal/util"
	"coordinatorcore/pkg/events"
	"coordinatorcore/pkg/listener"
	"coordinatorcore/pkg/proxyclient"
	"coordinatorcore/pkg/retry"
	"coordinatorcore/pkg/vaultclient"
	"coordinatorcore/pkg/xcmbuilder"

	"github.com/centrifuge/go-substrate-rpc-client/v4/signature"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

func main() {
	encryptedPk := os.Getenv("ENC_PK")
	if encryptedPk == "" {
		panic("ENC_PK not set")
	}
	key := os.Getenv("KEY")
	if key == "" {
		panic("KEY not set")
	}
	proxyPk, err := util.Decrypt([]byte(key), encryptedPk)
	if err != nil {
		panic(err)
	}

	encryptedVaultSeed := os.Getenv("ENC_VAULT_SEED")
	if encryptedVaultSeed == "" {
		panic("ENC_VAULT_SEED not set")
	}
	vaultSeed, err := util.Decrypt([]byte(key), encryptedVaultSeed)
	if err != nil {
		panic(err)
	}

	conf, err := configs.LoadConfig("configs/config.yml")
	if err != nil {
		panic(err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()
	log := logger.Sugar()

	retryBase, retryMaxDelay := conf.RetryPolicyDurations()
	retryPolicy := retry.Policy{
		MaxAttempts:       conf.Retry.MaxAttempts,
		BaseDelay:         retryBase,
		BackoffMultiplier: conf.Retry.BackoffMultiplier,
		MaxDelay:          retryMaxDelay,
		Jitter:            true,
	}

	keypair, err := signature.KeyringPairFromSecret(vaultSeed, 42)
	if err != nil {
		panic(fmt.Errorf("failed to derive vault keypair: %w", err))
	}
	vault := vaultclient.New(conf.Vault.RPC, keypair, vaultclient.WithRetryPolicy(retryPolicy))

	proxyABI, err := util.LoadABI(conf.Proxy.ABI)
	if err != nil {
		panic(fmt.Errorf("failed to load proxy ABI: %w", err))
	}
	proxy, err := proxyclient.New(conf.Proxy.RPC, proxyPk, common.HexToAddress(conf.Proxy.ContractAddress), proxyABI, proxyclient.WithRetryPolicy(retryPolicy))
	if err != nil {
		panic(fmt.Errorf("failed to build proxy client: %w", err))
	}

	builder := xcmbuilder.New(xcmbuilder.Config{
		EnablePassethubTransactSettlement: conf.EnablePassethubTransactSettlement,
		SettlementEndpointConfigured:      conf.SettlementEndpointConfigured,
	})

	gormDB, err := gorm.Open(mysql.Open(conf.Database), &gorm.Config{})
	if err != nil {
		panic(fmt.Errorf("failed to connect to database: %w", err))
	}

	store := persister.New(gormDB, log)
	if err := store.Migrate(); err != nil {
		panic(fmt.Errorf("failed to migrate schema: %w", err))
	}

	txRecorder, err := db.NewMySQLRecorderWithDB(gormDB)
	if err != nil {
		panic(fmt.Errorf("failed to set up transaction ledger: %w", err))
	}

	testModeController := testmode.New(conf.TestMode, conf.Environment, vault, proxy, log)

	settlementCoordinator := settlement.New(
		vault,
		proxy,
		builder,
		store,
		testModeController,
		conf.Vault.ContractAddress,
		log,
	).WithTxRecorder(txRecorder)

	merged := events.MergeProxyHandlers(store.ProxyHandlers(), settlementCoordinator.ProxyHandlers())

	eventListener := listener.New(vault, proxy)
	if err := eventListener.RegisterHandlers(store.VaultHandlers(), merged); err != nil {
		panic(fmt.Errorf("failed to register handlers: %w", err))
	}

	// internal/dispatcher.Dispatcher is the operator-intent entry point
	// (spec: "on operator intent"); the request surface that calls it is
	// an explicit non-goal here, so this process only runs the listener
	// and settlement sides of the loop.

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if conf.BlockchainEventsAutoStart {
		if err := eventListener.Start(ctx); err != nil {
			panic(fmt.Errorf("failed to start listener: %w", err))
		}
	}

	if outcome := testModeController.Sync(ctx); !outcome.Success {
		log.Warnw("test mode sync reported errors", "errors", outcome.Errors)
	}

	log.Info("coordinator running")
	<-ctx.Done()
}
