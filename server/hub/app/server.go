package app

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"

	commonauth "wellness_hub/server/common/auth"
	"wellness_hub/server/common/infra/cache"
	"wellness_hub/server/common/infra/db"
	"wellness_hub/server/common/infra/mq"
	"wellness_hub/server/common/infra/object"
	commonlog "wellness_hub/server/common/log"
	"wellness_hub/server/hub/api"
	"wellness_hub/server/hub/repository"
	"wellness_hub/server/hub/service"
)

type Server struct {
	HTTPServer *http.Server
	Hub        *service.Hub
	Store      repository.Store
	Redis      *redis.Client
	MQConn     *amqp.Connection
}

func NewServer(cfg Config) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	store, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	s := &Server{Store: store}
	fail := func(err error) (*Server, error) {
		s.close()
		return nil, err
	}

	auth := commonauth.NewService(cfg.JWTSecret, cfg.JWTTTLMinutes)
	hub := service.NewHub(store, auth)
	s.Hub = hub

	if strings.TrimSpace(cfg.RedisAddr) != "" {
		s.Redis = cache.NewClient(cfg.RedisAddr)
		if err := cache.Ping(ctx, s.Redis); err != nil {
			return fail(fmt.Errorf("ping redis: %w", err))
		}
		hub.UseIdempotency(service.NewRedisIdempotency(s.Redis, cfg.IdempotencyTTL))
	}

	if cfg.UseMQ {
		s.MQConn, err = mq.NewConnection(cfg.LavinMQURL)
		if err != nil {
			return fail(fmt.Errorf("initialize lavinmq: %w", err))
		}
		publisher, err := service.NewAMQPPublisher(s.MQConn)
		if err != nil {
			return fail(fmt.Errorf("initialize amqp publisher: %w", err))
		}
		hub.UsePublisher(publisher)
	}

	if strings.TrimSpace(cfg.MinIOEndpoint) != "" {
		client, err := object.Open(ctx, object.Config{
			Endpoint:  cfg.MinIOEndpoint,
			AccessKey: cfg.MinIOAccessKey,
			SecretKey: cfg.MinIOSecretKey,
			Bucket:    cfg.MinIOBucket,
			UseSSL:    cfg.MinIOUseSSL,
		})
		if err != nil {
			return fail(fmt.Errorf("initialize minio: %w", err))
		}
		hub.UseAttachments(service.NewAttachments(client, cfg.MinIOBucket, cfg.FilePublicBaseURL))
	}

	h := api.NewHandler(hub, auth, cfg.AllowedOrigins, service.WSConfig{
		SendBuffer: cfg.WSSendBuffer,
		ReadLimit:  int64(cfg.WSReadLimit),
		PongWait:   cfg.WSPongWait,
	})
	r := gin.Default()
	h.RegisterRoutes(r)

	// No WriteTimeout: it would cut long-lived WebSocket connections.
	s.HTTPServer = &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	commonlog.Infof("event=hub_server action=init status=ok store=%s redis=%t mq=%t uploads=%t", cfg.StoreDriver, s.Redis != nil, cfg.UseMQ, hub.Attachments() != nil)
	return s, nil
}

func openStore(ctx context.Context, cfg Config) (repository.Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.StoreDriver)) {
	case StoreDriverPostgres:
		pool, err := db.NewPool(ctx, db.PoolConfig{DSN: cfg.PostgresDSN})
		if err != nil {
			return nil, fmt.Errorf("initialize postgres: %w", err)
		}
		store, err := repository.NewPostgresStore(ctx, pool)
		if err != nil {
			pool.Close()
			return nil, err
		}
		return store, nil
	case StoreDriverSQLite, "":
		store, err := repository.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("initialize sqlite: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown STORE_DRIVER %q", cfg.StoreDriver)
	}
}

func (s *Server) close() {
	if s.Hub != nil {
		s.Hub.Close()
	}
	if s.MQConn != nil {
		_ = s.MQConn.Close()
	}
	if s.Redis != nil {
		_ = s.Redis.Close()
	}
	if s.Store != nil {
		_ = s.Store.Close()
	}
}

func (s *Server) Shutdown(ctx context.Context) error {
	err := s.HTTPServer.Shutdown(ctx)
	s.close()
	return err
}
