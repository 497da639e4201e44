package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"ms-coupons/internal/auth"
	"ms-coupons/internal/coupon"
	"ms-coupons/internal/logger"
	"ms-coupons/internal/models"
	"ms-coupons/internal/utils"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// AdminService is the slice of coupon.Service the HTTP layer needs.
type AdminService interface {
	ResetUsage(ctx context.Context, actor string, req coupon.ResetRequest) (*coupon.ResetResult, error)
	GetUsageStats(ctx context.Context, actor string, req coupon.StatsRequest) (*models.UsageStats, error)
}

type Handler struct {
	Service AdminService
	Log     *logger.Logger
}

func NewHandler(svc AdminService, log *logger.Logger) *Handler {
	return &Handler{Service: svc, Log: log}
}

// RegisterRoutes mounts the admin endpoints. Callers wrap r with the auth
// middleware; a request that reaches here without a caller is rejected by
// the service itself.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1/coupons", func(r chi.Router) {
		r.Post("/reset-usage", h.ResetUsage)
		r.Get("/usage-stats", h.GetUsageStats)
	})
}

func (h *Handler) ResetUsage(w http.ResponseWriter, r *http.Request) {
	var req coupon.ResetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid request body: "+err.Error(), string(coupon.CodeInvalidArgument)))
		return
	}

	result, err := h.Service.ResetUsage(r.Context(), auth.UserID(r.Context()), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Coupon usage reset successfully", result))
}

func (h *Handler) GetUsageStats(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := coupon.StatsRequest{
		CouponID:   q.Get("couponId"),
		CouponCode: q.Get("couponCode"),
	}

	stats, err := h.Service.GetUsageStats(r.Context(), auth.UserID(r.Context()), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Coupon usage stats", stats))
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := coupon.CodeOf(err)
	message := err.Error()
	var ce *coupon.Error
	if errors.As(err, &ce) {
		message = ce.Message
	}

	status := statusFor(code)
	if status == http.StatusInternalServerError {
		h.Log.Error("API", r.Method+" "+r.URL.Path+": "+err.Error())
	}
	utils.WriteJSON(w, status, utils.ErrorResponse(message, string(code)))
}

func statusFor(code coupon.Code) int {
	switch code {
	case coupon.CodeUnauthenticated:
		return http.StatusUnauthorized
	case coupon.CodeInvalidArgument:
		return http.StatusBadRequest
	case coupon.CodeNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// RequestLogger logs one line per request with its status and latency.
func RequestLogger(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.LogAPI(r.Method, r.URL.Path, ww.Status(), time.Since(start))
		})
	}
}
