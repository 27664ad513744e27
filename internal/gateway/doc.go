// Package gateway serves the palladium-gateway HTTP API.
//
// # Overview
//
// The gateway package wires the store, session registry, LLM provider,
// spreadsheet service and upload store into a conversation.Service and
// exposes it over HTTP with chi.
//
//	gw, err := gateway.New(cfg, logger)
//	if err != nil {
//		return err
//	}
//	return gw.Run(ctx)
//
// Tests build a gateway around fakes with NewWithComponents and drive it
// through Handler.
//
// # HTTP API
//
//   - POST /chat/stream - Run a turn, streamed as SSE
//   - POST /chat/stream-with-files - Same, with uploaded file contents as context
//   - POST /chat/upload - Store files for a conversation (multipart)
//   - GET /chat/{id}/history - The transcript as JSON, or HTML with ?format=html
//   - GET /chat/{id}/events - Committed messages as they happen (SSE)
//   - POST /sheets/create - Link a spreadsheet to a conversation, once
//   - GET /health - Liveness check
//   - GET /health/ready - Readiness check
//
// # SSE Streaming
//
// A turn's reply arrives as unnamed events, one per text fragment. Fragments
// containing newlines are split across data lines:
//
//	data: Created the sheet.
//	data: Anything else?
//
// A failure after the stream opened is reported as a named event before the
// stream closes:
//
//	event: error
//	data: response interrupted
//
// A provider that fails before producing anything gets a 502 JSON response
// instead of a stream.
package gateway
