package callbacks

import (
	"fmt"
	"strconv"
	"strings"

	tele "gopkg.in/telebot.v4"
)

// PayloadInt64 reads the callback payload as a decimal id, the form the
// relay buttons carry user ids in.
func PayloadInt64(c tele.Context) (int64, error) {
	raw := strings.TrimSpace(CallbackPayload(c))
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("callbacks: payload %q is not an id: %w", raw, err)
	}
	return id, nil
}
