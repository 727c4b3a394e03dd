package api

// Route paths served by the public HTTP endpoint.
const (
	RouteHealthz     = "/healthz"
	RouteExchange    = "/v1/auth/exchange"
	RouteCI          = "/v1/auth/ci"
	RouteRefresh     = "/v1/token/refresh"
	RouteRevoke      = "/v1/token/revoke"
	RouteImpersonate = "/v1/token/impersonate"
	RouteTokens      = "/v1/tokens"
	RouteCodes       = "/v1/codes"
	RouteAuditEvents = "/v1/audit/events"
	RouteSweep       = "/v1/admin/sweep"
)
