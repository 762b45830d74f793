package rest

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// NewRouter 建立 HTTP 路由
func NewRouter(h *Handler, logger *zap.Logger, timeout time.Duration) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)
	if timeout > 0 {
		r.Use(middleware.Timeout(timeout))
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/accounts/{agency}/{account}", h.GetBalance)
	r.Delete("/accounts/{agency}/{account}", h.CloseAccount)
	r.Patch("/deposit/{agency}/{account}/{amount}", h.Deposit)
	r.Patch("/withdrawal/{agency}/{account}/{amount}", h.Withdraw)
	r.Patch("/transfer/{srcAgency}/{srcAccount}/{dstAgency}/{dstAccount}/{amount}", h.Transfer)
	r.Get("/agencies/{agency}/average", h.AverageBalance)

	return r
}

// requestLogger 記錄每個請求的結果與耗時
func requestLogger(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			logger.Info("http request",
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}
