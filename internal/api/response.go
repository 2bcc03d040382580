package api

import (
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"lirashield/pkg/lirashield"
)

// Response represents a successful API response with unified format.
type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// ErrorResponse represents an error API response with structured information.
type ErrorResponse struct {
	Code      int    `json:"code"`
	Message   string `json:"message"`
	ErrorCode string `json:"error_code,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// writeSuccess writes a successful response with data.
func writeSuccess(w http.ResponseWriter, data interface{}) {
	writeJSON(w, http.StatusOK, Response{
		Code: 0,
		Data: data,
	})
}

// writeSuccessWithMessage writes a successful response with data and message.
func writeSuccessWithMessage(w http.ResponseWriter, message string, data interface{}) {
	writeJSON(w, http.StatusOK, Response{
		Code:    0,
		Message: message,
		Data:    data,
	})
}

// writeErrorResponse writes an error response. Structured errors pick their own HTTP status;
// anything else is reported with fallbackStatus.
func writeErrorResponse(w http.ResponseWriter, r *http.Request, fallbackStatus int, err error) {
	status := fallbackStatus
	response := ErrorResponse{
		Code:    status,
		Message: err.Error(),
	}
	if code := lirashield.CodeOf(err); code != "" {
		status = mapErrorCodeToHTTPStatus(code)
		response.Code = status
		response.ErrorCode = string(code)
		response.Message = lirashield.ErrorMessage(err)
	}
	if r != nil {
		response.RequestID = middleware.GetReqID(r.Context())
	}
	if lw, ok := w.(interface{ SetErrorMessage(string) }); ok {
		lw.SetErrorMessage(err.Error())
	}
	if lw, ok := w.(interface{ SetErrorCode(lirashield.ErrorCode) }); ok {
		lw.SetErrorCode(lirashield.CodeOf(err))
	}

	writeJSON(w, status, response)
}

// mapErrorCodeToHTTPStatus maps business error codes to HTTP status codes.
func mapErrorCodeToHTTPStatus(code lirashield.ErrorCode) int {
	switch code {
	case lirashield.ErrCodeInvalidInput, lirashield.ErrCodeValidation,
		lirashield.ErrCodeMalformedDate, lirashield.ErrCodeInvalidRate,
		lirashield.ErrCodeInsufficientHoldings:
		return http.StatusBadRequest
	case lirashield.ErrCodeNotFound:
		return http.StatusNotFound
	case lirashield.ErrCodeDuplicate:
		return http.StatusConflict
	case lirashield.ErrCodeMissingBenchmark, lirashield.ErrCodeMissingRate,
		lirashield.ErrCodeMissingCPI, lirashield.ErrCodeOversold:
		return http.StatusUnprocessableEntity
	case lirashield.ErrCodeUnsupported:
		return http.StatusNotImplemented
	case lirashield.ErrCodeFetchFailed:
		return http.StatusBadGateway
	case lirashield.ErrCodeDatabase, lirashield.ErrCodeInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
