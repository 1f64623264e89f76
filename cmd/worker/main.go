package main

import (
	"context"
	"os"
	"path/filepath"
	"strconv"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/raymondsend/ytfetch/internal/kvstore"
	"github.com/raymondsend/ytfetch/internal/logx"
	"github.com/raymondsend/ytfetch/internal/media"
	"github.com/raymondsend/ytfetch/internal/storage"
	"github.com/raymondsend/ytfetch/internal/throttle"
	"github.com/raymondsend/ytfetch/internal/worker"
)

type cfg struct {
	RedisAddr     string
	RedisPassword string
	Concurrency   int
	DataDir       string

	S3Endpoint  string
	S3Region    string
	S3KeyID     string
	S3KeySecret string
	S3Bucket    string
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func mustInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func loadCfg() cfg {
	return cfg{
		RedisAddr:     getenv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		Concurrency:   mustInt("CONCURRENCY", 2),
		DataDir:       getenv("DATA_DIR", "/data"),
		S3Endpoint:    os.Getenv("S3_ENDPOINT_URL"),
		S3Region:      getenv("S3_REGION", "us-east-1"),
		S3KeyID:       os.Getenv("S3_ACCESS_KEY_ID"),
		S3KeySecret:   os.Getenv("S3_ACCESS_KEY_SECRET"),
		S3Bucket:      os.Getenv("S3_BUCKET_NAME"),
	}
}

func main() {
	_ = godotenv.Load()
	c := loadCfg()

	logx.Setup(logx.FromEnv("worker"))
	log.Info().Msg("worker starting")

	scratch := filepath.Join(c.DataDir, "scratch")
	if err := os.MkdirAll(scratch, 0o755); err != nil {
		log.Fatal().Err(err).Msg("scratch dir")
	}

	rdb := redis.NewClient(&redis.Options{Addr: c.RedisAddr, Password: c.RedisPassword})
	kv := kvstore.NewRedis(rdb)

	uploader, err := storage.New(context.Background(), storage.Config{
		Endpoint:  c.S3Endpoint,
		Region:    c.S3Region,
		KeyID:     c.S3KeyID,
		KeySecret: c.S3KeySecret,
		Bucket:    c.S3Bucket,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("storage init failed")
	}

	w := worker.New(kv, throttle.New(kv), media.NewYouTube(), uploader, scratch)

	srv := asynq.NewServer(
		asynq.RedisClientOpt{Addr: c.RedisAddr, Password: c.RedisPassword},
		asynq.Config{Concurrency: c.Concurrency},
	)
	if err := srv.Run(w.Mux()); err != nil {
		log.Fatal().Err(err).Msg("worker stopped")
	}
}
