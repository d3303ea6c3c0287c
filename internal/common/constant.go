// Package common contains shared constants and sentinel errors used across
// marketplace components.
package common

// ServiceName identifies the server in logs, traces and metrics.
const ServiceName = "marketplace"

// SessionCookieName is the cookie that carries the signed session token.
const SessionCookieName = "market_session"

// CSRFFieldName is the hidden form field every state-changing form posts.
const CSRFFieldName = "csrf_token"
