package server

import (
	"embed"
	"fmt"
	"io/fs"
)

// static holds the browser pages:
//
//	index.html                    WebCodecs Opus DTX check
//	webrtc.html                   receives the server's Opus track
//	early-hints/                  Early Hints test documents and resources
//
//go:embed static
var static embed.FS

func staticFS() (fs.FS, error) {
	sub, err := fs.Sub(static, "static")
	if err != nil {
		return nil, fmt.Errorf("static pages: %w", err)
	}
	return sub, nil
}

func earlyHintsFS() (fs.FS, error) {
	sub, err := fs.Sub(static, "static/early-hints")
	if err != nil {
		return nil, fmt.Errorf("early hints pages: %w", err)
	}
	return sub, nil
}
