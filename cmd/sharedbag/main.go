package main

import (
	"context"
	"log/slog"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/totegamma/sharedbag/client"
	"github.com/totegamma/sharedbag/internal/config"
	"github.com/totegamma/sharedbag/internal/infra/chain"
	"github.com/totegamma/sharedbag/internal/infra/database"
	"github.com/totegamma/sharedbag/internal/infra/gateway"
	"github.com/totegamma/sharedbag/internal/infra/repository"
	"github.com/totegamma/sharedbag/internal/present/rest"
	restmw "github.com/totegamma/sharedbag/internal/present/rest/middleware"
	"github.com/totegamma/sharedbag/internal/service"
	"github.com/totegamma/sharedbag/internal/usecase"
)

const (
	serviceName = "sharedbag"
	ensCacheTTL = 300 // seconds
)

func main() {
	configPath := os.Getenv("SHAREDBAG_CONFIG")
	if configPath == "" {
		configPath = "/etc/sharedbag/config.yaml"
	}

	conf, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("error", err.Error()), slog.String("module", "main"))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if conf.Server.EnableTrace {
		cleanup, err := setupTraceProvider(ctx, conf.Server.TraceEndpoint)
		if err != nil {
			panic(err)
		}
		defer cleanup()
	}

	db, err := database.NewPostgres(conf.Server.PostgresDsn)
	if err != nil {
		panic("failed to connect database")
	}
	if err := database.MigratePostgres(db); err != nil {
		panic("failed to migrate database")
	}

	rdb, err := database.NewRedis(ctx, conf.Server.RedisAddr, conf.Server.RedisPassword, conf.Server.RedisDB)
	if err != nil {
		panic(err)
	}
	defer rdb.Close()
	mc := database.NewMemcached(conf.Server.MemcachedAddr)

	eth, err := ethclient.DialContext(ctx, conf.Chain.RPCURL)
	if err != nil {
		panic("failed to connect chain rpc")
	}
	provider, err := chain.NewEthProvider(ctx, eth, conf.Chain.SignerPrivateKey)
	if err != nil {
		panic(err)
	}
	receipts := chain.NewReceiptWatcher(eth, conf.Chain.ReceiptPollInterval.Std(), conf.Chain.ReceiptTimeout.Std())

	ens := gateway.NewENSGateway(
		chain.NewENS(provider, common.HexToAddress(conf.Chain.ENSRegistry)),
		mc,
		ensCacheTTL,
	)

	deployer := chain.NewSafeDeployer(provider, receipts, chain.SafeConfig{
		ProxyFactory:    common.HexToAddress(conf.Chain.Safe.ProxyFactory),
		Singleton:       common.HexToAddress(conf.Chain.Safe.Singleton),
		FallbackHandler: common.HexToAddress(conf.Chain.Safe.FallbackHandler),
	})

	var factory usecase.TokenFactory
	if addr, ok := chain.LookupFactory(provider.ChainID(), conf.Chain.TokenFactories); ok {
		deployValue, ok := new(big.Int).SetString(conf.Chain.DeployValueWei, 10)
		if !ok {
			deployValue = new(big.Int)
		}
		factory = chain.NewTokenFactory(provider, chain.TokenFactoryConfig{
			Address:     addr,
			InitialTick: conf.Chain.InitialTick,
			PoolFee:     conf.Chain.PoolFee,
			DeployValue: deployValue,
		})
	} else {
		slog.Warn(
			"no token factory for this chain; token creation disabled",
			slog.String("chainID", provider.ChainID().String()),
			slog.String("module", "main"),
		)
	}

	walletClient := client.New(conf.EmbeddedWallet.APIURL, conf.EmbeddedWallet.APIKey, conf.EmbeddedWallet.Timeout.Std())
	walletUC := usecase.NewWalletUsecase(walletClient, conf.EmbeddedWallet.EnvironmentID)

	signals := service.NewSignalService(rdb)

	setups := usecase.NewSetupUsecase(usecase.SetupDeps{
		Initiator:    provider.Address(),
		Deployer:     deployer,
		Factory:      factory,
		Receipts:     receipts,
		Funder:       chain.NewFunder(provider),
		Wallets:      walletUC,
		Repo:         repository.NewSetupRepository(db),
		Notifier:     signals,
		WatchTimeout: conf.Chain.ReceiptTimeout.Std(),
	}, ens, conf.Resolver.Debounce.Std())
	defer setups.Close()

	handler := rest.NewHandler(walletUC, setups, signals, conf.Chain.ExplorerURL, restmw.RateLimitConfig{
		RequestsPerMinute: conf.Server.RateLimit.RequestsPerMinute,
		Burst:             conf.Server.RateLimit.Burst,
		ExpiresIn:         conf.Server.RateLimit.ExpiresIn.Std(),
	})

	e := echo.New()
	e.HideBanner = true
	if conf.Server.EnableTrace {
		e.Use(otelecho.Middleware(serviceName))
	}
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	handler.RegisterRoutes(e)

	go func() {
		if err := e.Start(conf.Server.ListenAddr); err != nil && err != http.ErrServerClosed {
			slog.Error("server stopped", slog.String("error", err.Error()), slog.String("module", "main"))
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown failed", slog.String("error", err.Error()), slog.String("module", "main"))
	}
}

func setupTraceProvider(ctx context.Context, endpoint string) (func(), error) {
	exporter, err := otlptracehttp.New(
		ctx,
		otlptracehttp.WithEndpoint(endpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	res := resource.NewSchemaless(attribute.String("service.name", serviceName))

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(0.1))),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	cleanup := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := provider.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown tracer provider", slog.String("error", err.Error()), slog.String("module", "main"))
		}
	}
	return cleanup, nil
}
