package server

import (
	"time"

	"github.com/jonwraymond/otelsvc/observe"
)

// App is the read-only state shared by the request handlers. It is built once
// at startup, after telemetry bootstrap and before the listener accepts traffic.
type App struct {
	serviceName string
	tracer      observe.Tracer
	middleware  *observe.Middleware
	logger      observe.Logger
	now         func() time.Time
}

// NewApp builds the handler state from a bootstrapped observer. The request
// instruments are created here, once per process; opts configure the
// metrics middleware (see RouteLabels).
func NewApp(obs observe.Observer, serviceName string, opts ...observe.MiddlewareOption) (*App, error) {
	mw, err := observe.MiddlewareFromObserver(obs, opts...)
	if err != nil {
		return nil, err
	}
	return &App{
		serviceName: serviceName,
		tracer:      observe.NewTracer(obs.Tracer()),
		middleware:  mw,
		logger:      obs.Logger(),
		now:         time.Now,
	}, nil
}
