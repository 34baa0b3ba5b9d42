// Package backend implements the HTTP client for the marketplace backend
// API: prompt-to-agent matching, paid answer retrieval, listings, profiles,
// and dataset publishing. Every failure is normalized into an APIError so
// callers can distinguish transport faults from server rejections.
package backend
