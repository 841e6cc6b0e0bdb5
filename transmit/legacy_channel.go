package transmit

import (
	"net/http"

	"github.com/sourcegraph/conc/pool"

	"github.com/honeycombio/beacon/config"
	"github.com/honeycombio/beacon/logger"
)

var _ ResultChannel = (*LegacyChannel)(nil)

// LegacyChannel reports only whether a request worked. Success carries the
// body with status 200; anything else, including transport errors, is status
// 400 with no body.
type LegacyChannel struct {
	Config  config.Config `inject:""`
	Logger  logger.Logger `inject:""`
	Client  *http.Client  `inject:"upstreamClient"`
	Version string        `inject:"version"`

	poster *poster
	pool   *pool.Pool
}

func (l *LegacyChannel) Start() error {
	l.poster = newPoster(l.Config, l.Client, l.Version)
	l.pool = pool.New()
	return nil
}

func (l *LegacyChannel) Send(payload []byte, done func(Response)) {
	l.pool.Go(func() {
		done(legacyResponse(l.poster.post(payload)))
	})
}

func legacyResponse(r Response) Response {
	if r.Err == nil && r.Status >= 200 && r.Status < 300 {
		return Response{Status: http.StatusOK, Body: r.Body}
	}
	return Response{Status: http.StatusBadRequest}
}

func (l *LegacyChannel) Stop() error {
	if l.pool != nil {
		l.pool.Wait()
	}
	return nil
}
