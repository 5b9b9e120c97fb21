package render

import (
	"time"

	"github.com/jmylchreest/notibus/internal/config"
	"github.com/jmylchreest/notibus/internal/dbus"
)

// Duration returns how long n should be displayed under the configured policy.
//
//   - fixed: always cfg.Fixed
//   - expire-timeout: the sender's expire timeout when positive, else cfg.Fixed
//   - word-count: cfg.Base plus cfg.PerWord for each word of the body
func Duration(cfg config.DurationConfig, n *dbus.Notification) time.Duration {
	switch cfg.Policy {
	case config.DurationExpireTimeout:
		if n.ExpireTimeout > 0 {
			return time.Duration(n.ExpireTimeout) * time.Millisecond
		}
		return cfg.Fixed.Duration()
	case config.DurationWordCount:
		return cfg.Base.Duration() + time.Duration(n.WordCount())*cfg.PerWord.Duration()
	default:
		return cfg.Fixed.Duration()
	}
}
