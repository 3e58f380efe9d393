package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	commonlog "wellness_hub/server/common/log"
	"wellness_hub/server/hub/app"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		commonlog.Warnf("event=hub_config action=load_dotenv status=failed error=%v", err)
	}

	cfg := app.LoadConfig()
	server, err := app.NewServer(cfg)
	if err != nil {
		commonlog.Errorf("event=hub_server action=init status=failed error=%v", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		commonlog.Infof("event=hub_server action=listen status=start addr=:%s env=%s", cfg.Port, cfg.Env)
		if err := server.HTTPServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			commonlog.Errorf("event=hub_server action=listen status=failed error=%v", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		commonlog.Warnf("event=hub_server action=shutdown status=failed error=%v", err)
		return
	}
	commonlog.Infof("event=hub_server action=shutdown status=ok")
}
