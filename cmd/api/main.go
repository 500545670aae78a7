package main

import (
	"context"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"

	"gatehouse.org/internal/audit"
	"gatehouse.org/internal/httpapi"
	"gatehouse.org/internal/identity"
	"gatehouse.org/internal/obs"
	"gatehouse.org/internal/rbac"
	"gatehouse.org/internal/session"
	pgstore "gatehouse.org/internal/store/pg"
	redisstore "gatehouse.org/internal/store/redis"
)

// Overridden at build time via -ldflags "-X main.version=... -X main.commit=...".
var (
	version = "0.3.1"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	dsn := os.Getenv("GATEHOUSE_PG_DSN")
	if dsn == "" {
		log.Fatal("GATEHOUSE_PG_DSN is required")
	}
	store, err := pgstore.Open(dsn)
	if err != nil {
		log.Fatalf("open postgres: %v", err)
	}
	defer store.Close()

	kv, err := redisstore.Open(ctx,
		envOr("GATEHOUSE_REDIS_ADDR", "localhost:6379"),
		os.Getenv("GATEHOUSE_REDIS_PASSWORD"),
		envInt("GATEHOUSE_REDIS_DB", 0),
	)
	if err != nil {
		log.Fatalf("open redis: %v", err)
	}
	defer kv.Close()

	privPEM, err := os.ReadFile(mustEnv("GATEHOUSE_JWT_PRIVATE_KEY_FILE"))
	if err != nil {
		log.Fatalf("read private key: %v", err)
	}
	pubPEM, err := os.ReadFile(mustEnv("GATEHOUSE_JWT_PUBLIC_KEY_FILE"))
	if err != nil {
		log.Fatalf("read public key: %v", err)
	}
	signer, err := session.NewSigner(string(privPEM), string(pubPEM),
		session.WithIssuer(envOr("GATEHOUSE_TOKEN_ISSUER", "gatehouse")),
		session.WithAccessTTL(envDur("GATEHOUSE_ACCESS_TTL", 15*time.Minute)),
	)
	if err != nil {
		log.Fatalf("build signer: %v", err)
	}

	sessions, err := session.NewService(store, kv, signer,
		session.WithRefreshTTL(envDur("GATEHOUSE_REFRESH_TTL", 14*24*time.Hour)),
	)
	if err != nil {
		log.Fatalf("build session service: %v", err)
	}
	directory, err := identity.NewService(store,
		identity.WithTOTPIssuer(envOr("GATEHOUSE_TOTP_ISSUER", "gatehouse")),
	)
	if err != nil {
		log.Fatalf("build directory service: %v", err)
	}
	rbacSvc, err := rbac.NewService(store)
	if err != nil {
		log.Fatalf("build rbac service: %v", err)
	}
	if err := rbacSvc.EnsureBuiltins(ctx); err != nil {
		log.Fatalf("seed permissions: %v", err)
	}
	recorder, err := audit.NewRecorder(store)
	if err != nil {
		log.Fatalf("build audit recorder: %v", err)
	}

	api := httpapi.New(httpapi.Config{
		Sessions:  sessions,
		Directory: directory,
		RBAC:      rbacSvc,
		Recorder:  recorder,
		Ready:     []httpapi.ReadyChecker{store, kv},
		Version:   version,
	})

	srv := &http.Server{
		Addr:              envOr("GATEHOUSE_HTTP_ADDR", ":8080"),
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting gatehouse-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	// Side gRPC listener serving only the standard health protocol, for
	// orchestrators that probe over gRPC instead of HTTP. Setting
	// GATEHOUSE_GRPC_ADDR to an empty value disables it.
	grpcAddr, grpcSet := os.LookupEnv("GATEHOUSE_GRPC_ADDR")
	if !grpcSet {
		grpcAddr = ":8081"
	}
	var grpcSrv *grpc.Server
	if grpcAddr != "" {
		lis, err := net.Listen("tcp", grpcAddr)
		if err != nil {
			log.Fatalf("grpc listen: %v", err)
		}
		grpcSrv = grpc.NewServer()
		healthSrv := health.NewServer()
		healthSrv.SetServingStatus("gatehouse-api", grpc_health_v1.HealthCheckResponse_SERVING)
		grpc_health_v1.RegisterHealthServer(grpcSrv, healthSrv)
		go func() {
			if err := grpcSrv.Serve(lis); err != nil {
				log.Fatalf("grpc serve: %v", err)
			}
		}()
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	_ = srv.Shutdown(shutdownCtx)
	if grpcSrv != nil {
		grpcSrv.GracefulStop()
	}
	log.Println("Stopped")
}

func mustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		log.Fatalf("%s is required", key)
	}
	return v
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Fatalf("%s: %v", key, err)
	}
	return n
}

func envDur(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Fatalf("%s: %v", key, err)
	}
	return d
}
