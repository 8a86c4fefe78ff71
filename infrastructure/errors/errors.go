// Package errors provides unified error handling for the service layer
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode represents a unique error code
type ErrorCode string

const (
	// Authentication errors (1xxx)
	ErrCodeUnauthorized     ErrorCode = "AUTH_1001"
	ErrCodeInvalidToken     ErrorCode = "AUTH_1002"
	ErrCodeTokenExpired     ErrorCode = "AUTH_1003"
	ErrCodeInvalidSignature ErrorCode = "AUTH_1004"

	// Authorization errors (2xxx)
	ErrCodeForbidden         ErrorCode = "AUTHZ_2001"
	ErrCodeInsufficientFunds ErrorCode = "AUTHZ_2002"
	ErrCodeOwnershipRequired ErrorCode = "AUTHZ_2003"

	// Validation errors (3xxx)
	ErrCodeInvalidInput     ErrorCode = "VAL_3001"
	ErrCodeMissingParameter ErrorCode = "VAL_3002"
	ErrCodeInvalidFormat    ErrorCode = "VAL_3003"
	ErrCodeOutOfRange       ErrorCode = "VAL_3004"

	// Resource errors (4xxx)
	ErrCodeNotFound      ErrorCode = "RES_4001"
	ErrCodeAlreadyExists ErrorCode = "RES_4002"
	ErrCodeConflict      ErrorCode = "RES_4003"

	// Service errors (5xxx)
	ErrCodeInternal          ErrorCode = "SVC_5001"
	ErrCodeDatabaseError     ErrorCode = "SVC_5002"
	ErrCodeBlockchainError   ErrorCode = "SVC_5003"
	ErrCodeExternalAPI       ErrorCode = "SVC_5004"
	ErrCodeTimeout           ErrorCode = "SVC_5005"
	ErrCodeRateLimitExceeded ErrorCode = "SVC_5006"

	// Cryptographic errors (6xxx)
	ErrCodeEncryptionFailed   ErrorCode = "CRYPTO_6001"
	ErrCodeDecryptionFailed   ErrorCode = "CRYPTO_6002"
	ErrCodeSigningFailed      ErrorCode = "CRYPTO_6003"
	ErrCodeVerificationFailed ErrorCode = "CRYPTO_6004"

	// TEE errors (7xxx)
	ErrCodeAttestationFailed ErrorCode = "TEE_7001"
	ErrCodeSealingFailed     ErrorCode = "TEE_7002"
	ErrCodeUnsealingFailed   ErrorCode = "TEE_7003"

	// Reward engine errors (8xxx) — the ErrorKind taxonomy from the
	// reward engine's error handling design: validation, authorization
	// gating, concurrency, transient, and fatal classes.
	ErrCodeRPCycle             ErrorCode = "ENGINE_8001" // Validation
	ErrCodeDailyLimit          ErrorCode = "ENGINE_8002" // Validation
	ErrCodeAlreadyActive       ErrorCode = "ENGINE_8003" // Authorization-Gating
	ErrCodeBlocked             ErrorCode = "ENGINE_8004" // Authorization-Gating
	ErrCodeNotActive           ErrorCode = "ENGINE_8005" // Authorization-Gating
	ErrCodeClaimRetryExhausted ErrorCode = "ENGINE_8006" // Authorization-Gating
	ErrCodeConcurrentMutation  ErrorCode = "ENGINE_8007" // Concurrency
	ErrCodeTooBusy             ErrorCode = "ENGINE_8008" // Concurrency
	ErrCodeRateUnavailable     ErrorCode = "ENGINE_8009" // Transient
	ErrCodeStaleNetworkContext ErrorCode = "ENGINE_8010" // Transient
	ErrCodeMultiplierClamped   ErrorCode = "ENGINE_8011" // informational, not fatal
	ErrCodeLedgerCorruption    ErrorCode = "ENGINE_8012" // Fatal
	ErrCodeDuplicate           ErrorCode = "ENGINE_8013" // Validation
	ErrCodeHeld                ErrorCode = "ENGINE_8014" // Authorization-Gating
	ErrCodeSelfReferral        ErrorCode = "ENGINE_8015" // Validation
	ErrCodeAlreadyReferred     ErrorCode = "ENGINE_8016" // Validation
	ErrCodeInvalidReferral     ErrorCode = "ENGINE_8017" // Validation
	ErrCodeNothingToClaim      ErrorCode = "ENGINE_8018" // Validation
	ErrCodeIncompatible        ErrorCode = "ENGINE_8019" // Validation
	ErrCodeRetryable           ErrorCode = "ENGINE_8020" // Transient
	ErrCodeUnknownCard         ErrorCode = "ENGINE_8021" // Validation
	ErrCodeCapReached          ErrorCode = "ENGINE_8022" // Validation
)

// ServiceError represents a structured error with code, message, and HTTP status
type ServiceError struct {
	Code       ErrorCode              `json:"code"`
	Message    string                 `json:"message"`
	HTTPStatus int                    `json:"-"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Err        error                  `json:"-"`
}

// Error implements the error interface
func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *ServiceError) Unwrap() error {
	return e.Err
}

// WithDetails adds additional details to the error
func (e *ServiceError) WithDetails(key string, value interface{}) *ServiceError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// New creates a new ServiceError
func New(code ErrorCode, message string, httpStatus int) *ServiceError {
	return &ServiceError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
	}
}

// Wrap wraps an existing error with a ServiceError
func Wrap(code ErrorCode, message string, httpStatus int, err error) *ServiceError {
	return &ServiceError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Err:        err,
	}
}

// Authentication Errors

func Unauthorized(message string) *ServiceError {
	return New(ErrCodeUnauthorized, message, http.StatusUnauthorized)
}

func InvalidToken(err error) *ServiceError {
	return Wrap(ErrCodeInvalidToken, "Invalid authentication token", http.StatusUnauthorized, err)
}

func TokenExpired() *ServiceError {
	return New(ErrCodeTokenExpired, "Authentication token has expired", http.StatusUnauthorized)
}

func InvalidSignature(err error) *ServiceError {
	return Wrap(ErrCodeInvalidSignature, "Invalid signature", http.StatusUnauthorized, err)
}

// Authorization Errors

func Forbidden(message string) *ServiceError {
	return New(ErrCodeForbidden, message, http.StatusForbidden)
}

func InsufficientFunds(required, available string) *ServiceError {
	return New(ErrCodeInsufficientFunds, "Insufficient funds", http.StatusPaymentRequired).
		WithDetails("required", required).
		WithDetails("available", available)
}

func OwnershipRequired(resource string) *ServiceError {
	return New(ErrCodeOwnershipRequired, "Ownership verification required", http.StatusForbidden).
		WithDetails("resource", resource)
}

// Validation Errors

func InvalidInput(field, reason string) *ServiceError {
	return New(ErrCodeInvalidInput, "Invalid input", http.StatusBadRequest).
		WithDetails("field", field).
		WithDetails("reason", reason)
}

func MissingParameter(param string) *ServiceError {
	return New(ErrCodeMissingParameter, "Missing required parameter", http.StatusBadRequest).
		WithDetails("parameter", param)
}

func InvalidFormat(field, expected string) *ServiceError {
	return New(ErrCodeInvalidFormat, "Invalid format", http.StatusBadRequest).
		WithDetails("field", field).
		WithDetails("expected", expected)
}

func OutOfRange(field string, minValue, maxValue interface{}) *ServiceError {
	return New(ErrCodeOutOfRange, "Value out of range", http.StatusBadRequest).
		WithDetails("field", field).
		WithDetails("min", minValue).
		WithDetails("max", maxValue)
}

// Resource Errors

func NotFound(resource, id string) *ServiceError {
	return New(ErrCodeNotFound, "Resource not found", http.StatusNotFound).
		WithDetails("resource", resource).
		WithDetails("id", id)
}

func AlreadyExists(resource, id string) *ServiceError {
	return New(ErrCodeAlreadyExists, "Resource already exists", http.StatusConflict).
		WithDetails("resource", resource).
		WithDetails("id", id)
}

func Conflict(message string) *ServiceError {
	return New(ErrCodeConflict, message, http.StatusConflict)
}

// Service Errors

func Internal(message string, err error) *ServiceError {
	return Wrap(ErrCodeInternal, message, http.StatusInternalServerError, err)
}

func DatabaseError(operation string, err error) *ServiceError {
	return Wrap(ErrCodeDatabaseError, "Database operation failed", http.StatusInternalServerError, err).
		WithDetails("operation", operation)
}

func BlockchainError(operation string, err error) *ServiceError {
	return Wrap(ErrCodeBlockchainError, "Blockchain operation failed", http.StatusServiceUnavailable, err).
		WithDetails("operation", operation)
}

func ExternalAPIError(service string, err error) *ServiceError {
	return Wrap(ErrCodeExternalAPI, "External API call failed", http.StatusBadGateway, err).
		WithDetails("service", service)
}

func Timeout(operation string) *ServiceError {
	return New(ErrCodeTimeout, "Operation timed out", http.StatusGatewayTimeout).
		WithDetails("operation", operation)
}

func RateLimitExceeded(limit int, window string) *ServiceError {
	return New(ErrCodeRateLimitExceeded, "Rate limit exceeded", http.StatusTooManyRequests).
		WithDetails("limit", limit).
		WithDetails("window", window)
}

// Cryptographic Errors

func EncryptionFailed(err error) *ServiceError {
	return Wrap(ErrCodeEncryptionFailed, "Encryption failed", http.StatusInternalServerError, err)
}

func DecryptionFailed(err error) *ServiceError {
	return Wrap(ErrCodeDecryptionFailed, "Decryption failed", http.StatusInternalServerError, err)
}

func SigningFailed(err error) *ServiceError {
	return Wrap(ErrCodeSigningFailed, "Signing failed", http.StatusInternalServerError, err)
}

func VerificationFailed(err error) *ServiceError {
	return Wrap(ErrCodeVerificationFailed, "Verification failed", http.StatusUnauthorized, err)
}

// TEE Errors

func AttestationFailed(err error) *ServiceError {
	return Wrap(ErrCodeAttestationFailed, "Remote attestation failed", http.StatusInternalServerError, err)
}

func SealingFailed(err error) *ServiceError {
	return Wrap(ErrCodeSealingFailed, "Data sealing failed", http.StatusInternalServerError, err)
}

func UnsealingFailed(err error) *ServiceError {
	return Wrap(ErrCodeUnsealingFailed, "Data unsealing failed", http.StatusInternalServerError, err)
}

// Reward Engine Errors

func RPCycle(referrerID, refereeID string) *ServiceError {
	return New(ErrCodeRPCycle, "referral would create a cycle", http.StatusBadRequest).
		WithDetails("referrer_id", referrerID).
		WithDetails("referee_id", refereeID)
}

func DailyLimit(activityKind string) *ServiceError {
	return New(ErrCodeDailyLimit, "daily activity limit reached", http.StatusTooManyRequests).
		WithDetails("activity_kind", activityKind)
}

func AlreadyActive(sessionID string) *ServiceError {
	return New(ErrCodeAlreadyActive, "a mining session is already active", http.StatusConflict).
		WithDetails("session_id", sessionID)
}

func Blocked(reason string) *ServiceError {
	return New(ErrCodeBlocked, "operation blocked by risk gate", http.StatusForbidden).
		WithDetails("reason", reason)
}

func NotActive(sessionID string) *ServiceError {
	return New(ErrCodeNotActive, "session is not active", http.StatusConflict).
		WithDetails("session_id", sessionID)
}

func ClaimRetryExhausted(sessionID string, attempts int) *ServiceError {
	return New(ErrCodeClaimRetryExhausted, "claim retry budget exhausted", http.StatusConflict).
		WithDetails("session_id", sessionID).
		WithDetails("attempts", attempts)
}

func ConcurrentMutation(userID string) *ServiceError {
	return New(ErrCodeConcurrentMutation, "concurrent mutation detected", http.StatusConflict).
		WithDetails("user_id", userID)
}

func TooBusy(userID string) *ServiceError {
	return New(ErrCodeTooBusy, "too many concurrent requests for this account", http.StatusTooManyRequests).
		WithDetails("user_id", userID)
}

func RateUnavailable(reason string) *ServiceError {
	return New(ErrCodeRateUnavailable, "mining rate temporarily unavailable", http.StatusServiceUnavailable).
		WithDetails("reason", reason)
}

func StaleNetworkContext(age string) *ServiceError {
	return New(ErrCodeStaleNetworkContext, "network context is stale", http.StatusServiceUnavailable).
		WithDetails("age", age)
}

func LedgerCorruption(userID string, err error) *ServiceError {
	return Wrap(ErrCodeLedgerCorruption, "ledger invariant violated", http.StatusInternalServerError, err).
		WithDetails("user_id", userID)
}

func MultiplierClamped(userID string, computed, ceiling float64) *ServiceError {
	return New(ErrCodeMultiplierClamped, "effective multiplier clamped to ceiling", http.StatusOK).
		WithDetails("user_id", userID).
		WithDetails("computed", computed).
		WithDetails("ceiling", ceiling)
}

func Duplicate(contentFingerprint string) *ServiceError {
	return New(ErrCodeDuplicate, "activity already submitted within the dedup window", http.StatusConflict).
		WithDetails("content_fingerprint", contentFingerprint)
}

func Held(userID string) *ServiceError {
	return New(ErrCodeHeld, "activity held pending risk re-verification", http.StatusAccepted).
		WithDetails("user_id", userID)
}

func SelfReferral(userID string) *ServiceError {
	return New(ErrCodeSelfReferral, "a user cannot refer themselves", http.StatusBadRequest).
		WithDetails("user_id", userID)
}

func AlreadyReferred(refereeID string) *ServiceError {
	return New(ErrCodeAlreadyReferred, "referee already has a referrer", http.StatusConflict).
		WithDetails("referee_id", refereeID)
}

func InvalidReferral(reason string) *ServiceError {
	return New(ErrCodeInvalidReferral, "invalid referral", http.StatusBadRequest).
		WithDetails("reason", reason)
}

func NothingToClaim(sessionID string) *ServiceError {
	return New(ErrCodeNothingToClaim, "nothing to claim for this session", http.StatusConflict).
		WithDetails("session_id", sessionID)
}

func Incompatible(reason string) *ServiceError {
	return New(ErrCodeIncompatible, "incompatible with active effects", http.StatusConflict).
		WithDetails("reason", reason)
}

func Retryable(reason string) *ServiceError {
	return New(ErrCodeRetryable, "operation failed transiently, retry is safe", http.StatusServiceUnavailable).
		WithDetails("reason", reason)
}

func UnknownCard(cardType string) *ServiceError {
	return New(ErrCodeUnknownCard, "unknown card type", http.StatusNotFound).
		WithDetails("card_type", cardType)
}

func CapReached(cardType string) *ServiceError {
	return New(ErrCodeCapReached, "active card cap reached", http.StatusConflict).
		WithDetails("card_type", cardType)
}

// Helper functions

// IsServiceError checks if an error is a ServiceError
func IsServiceError(err error) bool {
	var serviceErr *ServiceError
	return errors.As(err, &serviceErr)
}

// GetServiceError extracts a ServiceError from an error chain
func GetServiceError(err error) *ServiceError {
	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		return serviceErr
	}
	return nil
}

// GetHTTPStatus returns the HTTP status code for an error
func GetHTTPStatus(err error) int {
	if serviceErr := GetServiceError(err); serviceErr != nil {
		return serviceErr.HTTPStatus
	}
	return http.StatusInternalServerError
}
