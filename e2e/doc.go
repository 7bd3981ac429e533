//go:build e2e

// Package e2e runs the conformance pages in headless Chrome.
//
// These tests are isolated from the standard test suite via build tags.
// They require a Chrome browser (auto-downloaded by Rod if not present).
//
// Running E2E tests:
//
//	go test -tags=e2e ./e2e/...
//
// E2E tests use:
//   - Rod for browser automation (Chrome DevTools Protocol)
//   - the conformance-server routes for pages and WebRTC signaling
//   - BrowserClient from pkg/testutil for Chrome helpers
//
// Each test starts its own server on a random port and launches its own
// browser instance.
package e2e
