// Package server 本地预览静态归档
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// NewRouter 创建站点路由, 所有请求都映射到站点目录下的文件
func NewRouter(siteRoot string, logger zerolog.Logger) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(LoggerMiddleware(logger))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	files := http.FileServer(http.Dir(siteRoot))
	r.Get("/*", func(w http.ResponseWriter, req *http.Request) {
		// 归档中的资源都是JSON文件, 按JSON返回便于浏览器直接查看
		if strings.HasSuffix(req.URL.Path, ".json") {
			w.Header().Set("Content-Type", "application/json; charset=utf-8")
		}
		files.ServeHTTP(w, req)
	})

	return r
}

// LoggerMiddleware 记录每个请求的方法、路径、状态码和耗时
func LoggerMiddleware(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			event := logger.Debug()
			if ww.Status() >= http.StatusInternalServerError {
				event = logger.Error()
			}
			event.
				Str("method", r.Method).
				Str("url", r.URL.String()).
				Int("status", ww.Status()).
				Int("bytes", ww.BytesWritten()).
				Dur("duration", time.Since(start)).
				Msg("HTTP请求")
		})
	}
}

// Serve 启动预览服务, 上下文取消时优雅关闭
func Serve(ctx context.Context, addr, siteRoot string) error {
	info, err := os.Stat(siteRoot)
	if err != nil || !info.IsDir() {
		return fmt.Errorf("站点目录不存在: %s", siteRoot)
	}

	server := &http.Server{
		Addr:              addr,
		Handler:           NewRouter(siteRoot, log.Logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Str("site", siteRoot).Msg("🌐 预览服务已启动")
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("预览服务异常退出: %w", err)
	case <-ctx.Done():
		log.Info().Msg("正在关闭预览服务...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	}
}
