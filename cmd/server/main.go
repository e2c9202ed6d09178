package main // Entry point package

import (
	"log"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/event-waitlist/internal/config"
	"github.com/iliyamo/event-waitlist/internal/database"
	"github.com/iliyamo/event-waitlist/internal/handler"
	"github.com/iliyamo/event-waitlist/internal/queue"
	"github.com/iliyamo/event-waitlist/internal/repository"
	"github.com/iliyamo/event-waitlist/internal/router"
	"github.com/iliyamo/event-waitlist/internal/service"
	"github.com/iliyamo/event-waitlist/internal/waitlist"
)

func main() {
	_ = godotenv.Load() // .env is optional; real deployments set the environment directly
	cfg := config.Load()

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()

	rdb := config.NewRedisClient()
	if rdb == nil {
		log.Printf("redis unavailable: carts and rate limiting disabled")
	}

	store := repository.NewWaitlistStore(db)
	engine := waitlist.New(store, cfg.OfferWindow)

	// cartsIface stays nil (not a typed-nil pointer) when Redis is
	// down, so the service's nil check actually skips the bridge.
	var carts *repository.CartStore
	var cartsIface service.Carts
	if rdb != nil {
		carts = repository.NewCartStore(rdb, cfg.CartTTL)
		cartsIface = carts
	}

	publisher := queue.NewPublisher(cfg.AMQPURL)
	defer publisher.Close()

	addr, password, dbNum := config.RedisOptions()
	redisOpt := asynq.RedisClientOpt{Addr: addr, Password: password, DB: dbNum}

	var tasks *asynq.Client
	if rdb != nil {
		tasks = asynq.NewClient(redisOpt)
		defer tasks.Close()
	}

	svc := service.NewWaitlist(engine, publisher, cartsIface, tasks, cfg.SweepQueueName)

	// The sweeper is the authority on offer expiry; without its broker
	// every offer would outlive its window, so a missing Redis is fatal
	// outside dev.
	if rdb != nil {
		go func() {
			if err := service.RunSweeper(redisOpt, svc, cfg.SweepInterval, cfg.SweepQueueName); err != nil {
				log.Fatalf("sweeper stopped: %v", err)
			}
		}()
	} else if cfg.Env != "dev" {
		log.Fatal("redis is required outside dev: the sweeper cannot run without its broker")
	}

	if cfg.AMQPURL != "" {
		go func() {
			if err := queue.StartAuditConsumer(cfg.AMQPURL); err != nil {
				log.Printf("audit consumer stopped: %v", err)
			}
		}()
	}

	e := echo.New()
	router.RegisterRoutes(e)
	router.RegisterWaitlist(e,
		handler.NewWaitlistHandler(svc),
		handler.NewCartHandler(carts),
		handler.NewPaymentHandler(svc),
		cfg.JWTSecret, rdb)

	addrHTTP := ":" + cfg.Port
	log.Printf("listening on %s (env=%s, offer window %s, sweep every %s)",
		addrHTTP, cfg.Env, cfg.OfferWindow, cfg.SweepInterval)

	if err := e.Start(addrHTTP); err != nil {
		log.Fatal(err)
	}
}
