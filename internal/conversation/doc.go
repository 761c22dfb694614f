// Package conversation stores prior-turn dialogue context for the language
// model stage. It offers a bounded in-process store with TTL expiry and a
// Redis-backed store for multi-instance deployments.
package conversation
