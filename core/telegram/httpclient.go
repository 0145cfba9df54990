package telegram

import (
	"net/http"
	"time"

	"github.com/m3rciful/relaybot/core/telegram/netutil"
)

const pollSlack = 10 * time.Second

// BuildHTTPClient returns an HTTP client tuned for Telegram API calls.
// getUpdates holds the response until the poll timeout expires, so the
// header and client timeouts are stretched past it.
func BuildHTTPClient(pollTimeoutSeconds int) *http.Client {
	opts := netutil.ClientOptions{}
	if pollTimeoutSeconds > 0 {
		wait := time.Duration(pollTimeoutSeconds)*time.Second + pollSlack
		opts.ResponseTimeout = wait
		opts.ClientTimeout = wait + pollSlack
	}
	return netutil.NewRetryClient(opts)
}
