// Package conversation coordinates streaming conversation turns.
//
// # Overview
//
// The conversation package sits between the HTTP handlers and the session,
// provider and action packages. It owns the per-turn pipeline that streams
// model output to the client while running the spreadsheet actions embedded
// in it.
//
// # Service
//
//	svc := conversation.New(conversation.Deps{
//		Registry: registry,
//		Store:    store,
//		Executor: exec,
//		Provider: provider,
//		Uploads:  uploads,
//	})
//
// Key operations:
//
//   - Stream(ctx, req): run one turn and return its frames
//   - Upload(ctx, id, files): store files and note them in the history
//   - CreateResource(ctx, id, title, headers): link one spreadsheet to a conversation
//   - History(id): the live transcript
//
// # Turns
//
// A turn moves through these steps:
//
//  1. Open the session, creating and seeding it on first use
//  2. Build the instruction, file context and user messages
//  3. Stream provider events through the action recognizer
//  4. Record exactly one assistant message equal to what the client saw
//  5. Close the frame channel and release the session
//
// The messages built in step 2 are committed only once the provider
// delivers its first event, so a provider that fails up front leaves the
// history untouched.
//
// Actions are dispatched as soon as they are recognized and run detached
// from the client request. Their results are spliced into the frame sequence
// at the position the action occupied, and each result replaces its markup
// in the recorded reply.
//
// # Broadcasting
//
// A Broadcaster, when configured, receives every committed message so other
// clients can follow a conversation live.
package conversation
