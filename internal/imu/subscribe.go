package imu

import (
	"context"
	"errors"
	"io"
	"time"
)

// Listener is invoked synchronously for every sample a subscription delivers.
type Listener func(Sample)

// ErrorHandler receives read failures. A nil handler drops them.
type ErrorHandler func(error)

// Subscribe polls src every interval and hands each sample to listener until ctx
// is done. Read failures go to onErr and the loop keeps running; the next tick
// arrives independently. If src implements io.Closer it is closed on return.
func Subscribe(ctx context.Context, src Source, interval time.Duration, listener Listener, onErr ErrorHandler) error {
	if src == nil {
		return errors.New("imu: nil source")
	}
	if listener == nil {
		return errors.New("imu: nil listener")
	}
	if interval <= 0 {
		return errors.New("imu: interval must be positive")
	}
	if c, ok := src.(io.Closer); ok {
		defer c.Close()
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s, err := src.Next()
			if err != nil {
				if onErr != nil {
					onErr(err)
				}
				continue
			}
			listener(s)
		}
	}
}
