package middleware

import tele "gopkg.in/telebot.v4"

// AdminOptions configures AdminOnlyMiddleware.
type AdminOptions struct {
	// AdminID is the operator; zero rejects everyone.
	AdminID  int64
	OnReject tele.HandlerFunc
}

// IsAdmin reports whether c comes from adminID.
func IsAdmin(c tele.Context, adminID int64) bool {
	if adminID == 0 {
		return false
	}
	u := c.Sender()
	return u != nil && u.ID == adminID
}

// AdminOnlyMiddleware lets only the operator through. Others get OnReject,
// or silence when it is nil.
func AdminOnlyMiddleware(opts AdminOptions) tele.MiddlewareFunc {
	return func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) error {
			switch {
			case IsAdmin(c, opts.AdminID):
				return next(c)
			case opts.OnReject != nil:
				return opts.OnReject(c)
			default:
				return nil
			}
		}
	}
}
