package logger

import "strings"

// enums lists the accepted values of the enumerated keys. Unknown status
// values are kept as is; unknown cache and outcome values are dropped.
var enums = map[string]map[string]bool{
	"status": {
		"ok": true, "fail": true, "skip": true, "retry": true,
		"rate_limited": true, "cancelled": true, "rejected": true,
	},
	"cache":   {"hit": true, "miss": true, "refresh": true},
	"outcome": {"ok": true, "fail": true, "cancelled": true, "rate_limited": true},
}

func normalizeLevel(level string) string {
	switch strings.ToLower(level) {
	case "", "info":
		return "INFO"
	case "warning":
		return "WARN"
	}
	return strings.ToUpper(level)
}

// normalizeEnum lower-cases value and reports whether key accepts it.
func normalizeEnum(key, value string) (string, bool) {
	value = strings.ToLower(strings.TrimSpace(value))
	return value, value != "" && enums[key][value]
}

// defaultKeyOrder puts the keys an operator scans first at the head of the
// line; the rest follow alphabetically.
var defaultKeyOrder = []string{
	"ts",
	"level",
	"component",
	"event",
	"status",
	"rid",
	"rid_full",
	"ts_unix_nano",
	"update_id",
	"user_id",
	"chat_id",
	"handler",
	"cb_key",
	"outcome",
	"duration_ms",
	"kind",
	"product_ref",
	"handle",
	"handles_total",
	"handles_failed",
	"reason",
	"products",
	"source",
	"driver",
	"payload",
	"username",
	"mode",
	"listen",
	"http_code",
	"err",
	"err_code",
	"retryable",
	"attempts",
	"backoff_ms",
}
