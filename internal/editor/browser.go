package editor

import (
	"context"
	"os/exec"
	"runtime"
)

// BrowserOpener opens url in the user's browser.
type BrowserOpener func(ctx context.Context, url string) error

// OpenBrowser launches the platform URL handler.
func OpenBrowser(ctx context.Context, url string) error {
	name, args := browserCommand(runtime.GOOS, url)
	return exec.CommandContext(ctx, name, args...).Start()
}

func browserCommand(goos, url string) (string, []string) {
	switch goos {
	case "darwin":
		return "open", []string{url}
	case "windows":
		return "rundll32", []string{"url.dll,FileProtocolHandler", url}
	default:
		return "xdg-open", []string{url}
	}
}
