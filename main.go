package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"

	"github.com/go-redis/redis/v8"

	"github.com/buildrite/sitedash/config"
	"github.com/buildrite/sitedash/handlers"
	"github.com/buildrite/sitedash/pkg/cache"
	"github.com/buildrite/sitedash/pkg/payflow"
	"github.com/buildrite/sitedash/routes"
)

var (
	Version   = "dev"
	BuildTime = ""
)

func main() {

	versionFlag := flag.Bool("version", false, "Print version info and exit")
	flag.Parse()

	if *versionFlag {
		fmt.Printf("Version:   %s\n", Version)
		fmt.Printf("BuildTime: %s\n", BuildTime)
		os.Exit(0)
	}

	cfg := config.Load()

	db, err := config.Connect(cfg)
	if err != nil {
		log.Fatalf("could not connect to database: %v", err)
	}

	deps := routes.Deps{
		DB: db,
		QueueConfig: payflow.DecisionQueueConfig{
			UrgentAgeDays:        cfg.UrgentAgeDays,
			HighValueChangeOrder: cfg.HighValueChangeOrder,
		},
	}

	if cfg.RedisAddr != "" {
		deps.Cache = cache.New(redis.NewClient(&redis.Options{Addr: cfg.RedisAddr}), cfg.CacheTTL)
	}
	if cfg.SmsGatewayURL != "" {
		deps.Sms = handlers.NewSmsClient(cfg.SmsGatewayURL, cfg.SmsAPIKey)
	}
	if cfg.EsignGatewayURL != "" {
		deps.Esign = handlers.NewEsignClient(cfg.EsignGatewayURL, cfg.EsignAPIKey)
	}

	handler := routes.RegisterRoutes(deps)
	handlerWithCORS := enableCORS(handler)
	log.Println("Server starting at port", cfg.Port)
	log.Fatal(http.ListenAndServe(":"+cfg.Port, handlerWithCORS))
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Required CORS headers
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, x-api-key, X-Requested-With")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")

		// Handle preflight (OPTIONS)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
