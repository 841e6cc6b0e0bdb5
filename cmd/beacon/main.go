package main

import (
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	_ "go.uber.org/automaxprocs"

	"github.com/facebookgo/inject"
	"github.com/facebookgo/startstop"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/honeycombio/beacon/app"
	"github.com/honeycombio/beacon/config"
	"github.com/honeycombio/beacon/diagnostics"
	"github.com/honeycombio/beacon/dispatch"
	"github.com/honeycombio/beacon/logger"
	"github.com/honeycombio/beacon/metrics"
	"github.com/honeycombio/beacon/sample"
	"github.com/honeycombio/beacon/store"
	"github.com/honeycombio/beacon/transmit"
)

// set by the release build.
var BuildID string
var version string

type graphLogger struct {
}

func (g graphLogger) Debugf(format string, v ...interface{}) {
	fmt.Printf(format, v...)
	fmt.Println()
}

func main() {
	opts, err := config.NewCmdEnvOptions(os.Args[1:])
	if err != nil {
		fmt.Printf("Command line parsing error '%s' -- call with --help for usage.\n", err)
		os.Exit(1)
	}

	if BuildID == "" {
		version = "dev"
	} else {
		version = BuildID
	}

	if opts.Version {
		fmt.Println("Version: " + version)
		os.Exit(0)
	}

	c, err := config.NewConfig(opts)
	if err != nil {
		fmt.Printf("%+v\n", err)
		os.Exit(1)
	}
	if opts.Validate {
		fmt.Println("Config validated successfully.")
		os.Exit(0)
	}

	input, err := app.OpenInput(opts.InputFile)
	if err != nil {
		fmt.Printf("%v\n", err)
		os.Exit(1)
	}

	a := app.App{
		Input:   input,
		Version: version,
	}

	// get desired implementation for each dependency to inject
	lgr := logger.GetLoggerImplementation(c)
	st := store.GetStoreImplementation(c)
	metricsSingleton := metrics.NewMultiMetrics()

	logLevel := c.GetLoggerLevel().String()
	if err := lgr.SetLevel(logLevel); err != nil {
		fmt.Printf("unable to set logging level: %v\n", err)
		os.Exit(1)
	}

	// upstreamTransport is the http transport used to send batches to the
	// collection endpoint
	upstreamTransport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		Dial: (&net.Dialer{
			Timeout: 10 * time.Second,
		}).Dial,
		TLSHandshakeTimeout: 15 * time.Second,
		ForceAttemptHTTP2:   true,
	}
	upstreamClient := &http.Client{
		Transport: otelhttp.NewTransport(upstreamTransport),
	}

	// we need to include all the metrics types so we can inject them in case
	// they're needed, but only the enabled ones are added as children
	var promMetrics metrics.MetricsBackend = &metrics.NullMetrics{}
	var oTelMetrics metrics.MetricsBackend = &metrics.NullMetrics{}
	if c.GetPrometheusMetricsConfig().Enabled {
		promMetrics = &metrics.PromMetrics{}
	}
	if c.GetOTelMetricsConfig().Enabled {
		oTelMetrics = &metrics.OTelMetrics{}
	}

	dispatcher := &dispatch.Dispatcher{}

	var g inject.Graph
	if opts.Debug {
		g.Logger = graphLogger{}
	}
	objects := []*inject.Object{
		{Value: c},
		{Value: lgr},
		{Value: st},
		{Value: upstreamClient, Name: "upstreamClient"},
		{Value: &transmit.QueueBeacon{}, Name: "beaconChannel"},
		{Value: &transmit.HTTPChannel{}, Name: "standardChannel"},
		{Value: &transmit.LegacyChannel{}, Name: "legacyChannel"},
		{Value: promMetrics, Name: "promMetrics"},
		{Value: oTelMetrics, Name: "otelMetrics"},
		{Value: metricsSingleton, Name: "metrics"},
		{Value: clockwork.NewRealClock()},
		{Value: version, Name: "version"},
		{Value: &diagnostics.Diagnostics{}},
		{Value: &sample.Sampler{}},
		{Value: &transmit.Transmitter{}},
		{Value: dispatcher},
		{Value: &a},
	}
	if err := g.Provide(objects...); err != nil {
		fmt.Printf("failed to provide injection graph. error: %+v\n", err)
		os.Exit(1)
	}
	if err := g.Populate(); err != nil {
		fmt.Printf("failed to populate injection graph. error: %+v\n", err)
		os.Exit(1)
	}

	// the logger provided to startstop must be valid before any service is
	// started, meaning it can't rely on injected configs. make a custom logger
	// just for this step
	ststLogger := logrus.New()
	ststLogger.SetLevel(logrus.WarnLevel)
	if opts.Debug {
		ststLogger.SetLevel(logrus.DebugLevel)
	}

	defer startstop.Stop(g.Objects(), ststLogger)
	if err := startstop.Start(g.Objects(), ststLogger); err != nil {
		fmt.Printf("failed to start injected dependencies. error: %+v\n", err)
		os.Exit(1)
	}

	metricsSingleton.Store("BUFFER_MAX_ITEMS", float64(c.GetTransmitConfig().MaxBufferItems))
	metricsSingleton.Store("SAMPLE_RATE", c.GetSamplingConfig().SampleRate)

	// set up signal channel to exit
	sigsToExit := make(chan os.Signal, 1)
	signal.Notify(sigsToExit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigsToExit:
		// the process is going away; hand whatever is buffered to the beacon
		dispatcher.Unload()
		a.Logger.Error().Logf("Caught signal \"%s\"", sig)
	case <-a.Done():
		if err := a.Err(); err != nil {
			a.Logger.Error().WithField("error", err).Logf("ingestion failed")
		}
	}
}
