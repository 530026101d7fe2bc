package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"esim-gateway/internal/audit"
	auditrepo "esim-gateway/internal/audit/repository"
	callbackrepo "esim-gateway/internal/callback/repository"
	callbackservice "esim-gateway/internal/callback/service"
	catalogrepo "esim-gateway/internal/catalog/repository"
	"esim-gateway/internal/config"
	"esim-gateway/internal/db"
	identityservice "esim-gateway/internal/identity/service"
	"esim-gateway/internal/payment"
	"esim-gateway/internal/provisioning"
	profilerepo "esim-gateway/internal/provisioning/repository"
	provisioningservice "esim-gateway/internal/provisioning/service"
	"esim-gateway/internal/security"
	"esim-gateway/internal/server"
	"esim-gateway/internal/server/middleware"
	"esim-gateway/internal/sessioncache"
	"esim-gateway/internal/telemetry"
	telemetryotel "esim-gateway/internal/telemetry/otel"
	"esim-gateway/internal/telemetry/producer"
	txrepo "esim-gateway/internal/transaction/repository"
	ledgerservice "esim-gateway/internal/transaction/service"
	userrepo "esim-gateway/internal/user/repository"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is not set; create a .env from .env.example or set DATABASE_URL")
	}

	ctx := context.Background()

	conn, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer conn.Close()

	var cache sessioncache.Cache
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		defer rdb.Close()
		cache = sessioncache.NewRedisCache(rdb)
	} else {
		log.Println("REDIS_ADDR not set; sessions are kept in process memory")
		cache = sessioncache.NewMemoryCache()
	}

	tokens, err := newTokenProvider(cfg)
	if err != nil {
		log.Fatalf("jwt keys: %v", err)
	}

	providers, err := telemetryotel.NewProviders(ctx, cfg.OTLPEndpoint, cfg.OTELServiceName, cfg.OTLPInsecure)
	if err != nil {
		log.Fatalf("otel: %v", err)
	}
	providers.SetGlobal()

	emitters := telemetry.Fanout{telemetryotel.NewEventEmitter(providers.LoggerProvider)}
	kafkaProducer := producer.NewKafkaProducer(cfg.TelemetryKafkaBrokersList(), cfg.TelemetryKafkaTopic)
	if kafkaProducer != nil {
		emitters = append(emitters, kafkaProducer)
		log.Printf("telemetry: publishing events to kafka topic %s", cfg.TelemetryKafkaTopic)
	}

	auditLogger := audit.NewLogger(auditrepo.NewPostgresRepository(conn), middleware.ClientIP)

	users := userrepo.NewPostgresRepository(conn)
	authSvc := identityservice.NewAuthService(users, cache, security.NewHasher(cfg.BcryptCost), tokens, auditLogger, cfg.PhoneDefaultRegion)

	var fallback payment.Gateway
	if cfg.PaymentAllowSimulated {
		fallback = payment.NewSimulatedGateway()
	}
	gateway := payment.NewRouter(payment.NewWingPayClient(payment.WingPayConfig{
		BaseURL:    cfg.WingPayBaseURL,
		APIKey:     cfg.WingPayAPIKey,
		MerchantID: cfg.WingPayMerchantID,
		Timeout:    cfg.PaymentTimeout(),
	}), fallback)

	txs := txrepo.NewPostgresRepository(conn)
	ledger := ledgerservice.NewLedger(catalogrepo.NewPostgresRepository(conn), txs, gateway, auditLogger, ledgerservice.Config{
		CallbackURL: strings.TrimSuffix(cfg.BaseURL, "/") + "/api/esim/payment/callback",
	})

	profiles := profilerepo.NewPostgresRepository(conn)
	engine := provisioningservice.NewEngine(txs, profiles, provisioning.NewGenerator(cfg.ICCIDPrefix, cfg.IMSIPrefix), auditLogger, provisioningservice.Config{
		SMDPAddress:   cfg.SMDPAddress,
		QRCodeBaseURL: cfg.QRCodeBaseURL,
	})

	reconciler := callbackservice.NewReconciler(ledger, engine, profiles, callbackrepo.NewPostgresRepository(conn), callbackservice.Config{
		Emitter: emitters,
	})

	app := server.NewApp(server.Deps{
		Auth:           authSvc,
		Ledger:         ledger,
		Engine:         engine,
		Reconciler:     reconciler,
		Tokens:         tokens,
		HealthDB:       conn,
		HealthCache:    cache,
		TracerProvider: providers.TracerProvider,
		Emitter:        emitters,
	})

	go func() {
		log.Printf("HTTP server listening on %s", cfg.HTTPAddr)
		if err := app.Listen(cfg.HTTPAddr); err != nil {
			log.Fatalf("serve: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Println("shutting down HTTP server...")
	if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
		log.Printf("shutdown: %v", err)
	}
	time.Sleep(telemetry.ShutdownDrainDuration)

	if err := kafkaProducer.Close(); err != nil {
		log.Printf("kafka producer close: %v", err)
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := providers.Shutdown(shutdownCtx); err != nil {
		log.Printf("otel shutdown: %v", err)
	}
	log.Println("HTTP server stopped")
}

// newTokenProvider loads the JWT key pair from config. Outside production a
// missing pair is replaced by an ephemeral one, so tokens do not survive a restart.
func newTokenProvider(cfg *config.Config) (*security.TokenProvider, error) {
	priv, pub, err := security.LoadKeyPair(cfg.JWTPrivateKey, cfg.JWTPublicKey)
	if err != nil {
		if cfg.Env == "production" || cfg.JWTPrivateKey != "" || cfg.JWTPublicKey != "" {
			return nil, err
		}
		log.Println("JWT_PRIVATE_KEY/JWT_PUBLIC_KEY not set; using an ephemeral key pair")
		if priv, pub, err = security.GenerateEphemeralKeyPair(); err != nil {
			return nil, err
		}
	}
	log.Printf("jwt: signing with %s", security.KeyAlg(pub))
	return security.NewTokenProvider(priv, pub, cfg.JWTIssuer, cfg.JWTAudience, cfg.AccessTTL(), cfg.RefreshTTL()), nil
}
