package common

// AccessTokenHeaderName is the gRPC/HTTP metadata key used to carry the
// access token on outbound requests.
const AccessTokenHeaderName = "access_token"

// OperationIDHeaderName carries the idempotency key of a queued operation.
const OperationIDHeaderName = "operation_id"
