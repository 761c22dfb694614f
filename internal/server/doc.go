// Package server implements the HTTP API and realtime WebSocket endpoint
// for the voice dialogue service. It handles multipart dialogue requests,
// streaming audio sessions, and provides monitoring/management endpoints.
package server
