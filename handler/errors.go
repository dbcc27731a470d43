package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	fortune_gateway "github.com/deeplooplabs/fortune-gateway"
	"github.com/deeplooplabs/fortune-gateway/logger"
)

// toGatewayError converts any error into a client-facing error
func toGatewayError(err error) *fortune_gateway.GatewayError {
	var gwErr *fortune_gateway.GatewayError
	if errors.As(err, &gwErr) {
		return gwErr
	}
	return fortune_gateway.NewInternalError("internal error", err)
}

func writeError(w http.ResponseWriter, log logger.Logger, err error) {
	gwErr := toGatewayError(err)

	if gwErr.Code >= http.StatusInternalServerError {
		fields := logger.Fields{"status": gwErr.Code, "type": gwErr.Type}
		if gwErr.InnerError != nil {
			fields["error"] = gwErr.InnerError.Error()
		}
		log.Error(gwErr.Message, fields)
	}

	if gwErr.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(gwErr.RetryAfter))
	}
	writeJSON(w, log, gwErr.Code, gwErr.ToResponse())
}

func writeJSON(w http.ResponseWriter, log logger.Logger, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn("failed to encode response", logger.Fields{"error": err.Error()})
	}
}
