// Command serve runs a minimal fixed-response HTTP server over this
// module's Accept/Stream engine, with an added multi-port listener pool
// and per-connection rate limiting.
package main

import (
	"log"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/urfave/cli"
	"golang.org/x/time/rate"

	"github.com/xtaci/rotorstream/accept"
	"github.com/xtaci/rotorstream/metrics"
	"github.com/xtaci/rotorstream/reactor"
	"github.com/xtaci/rotorstream/stream"
)

// VERSION is injected by buildflags.
var VERSION = "SELFBUILD"

const response = "HTTP/1.0 200 OK\r\n" +
	"Server: rotorstream-serve\r\n" +
	"Connection: close\r\n" +
	"Content-Length: 14\r\n" +
	"\r\n" +
	"Hello World!\r\n"

type serveContext struct {
	counters *metrics.Counters
}

type httpEcho struct{}

func (h httpEcho) Create(t *stream.Transport, s *stream.Scope[*serveContext]) stream.Intent[*serveContext] {
	s.Context.counters.AddStreamsOpened(1)
	return stream.Of[*serveContext](h, stream.Delimiter(0, []byte("\r\n\r\n"), 4096)).
		WithDeadline(s.After(10 * time.Second))
}

func (h httpEcho) BytesRead(t *stream.Transport, n int, s *stream.Scope[*serveContext]) stream.Intent[*serveContext] {
	t.Consume(n + len("\r\n\r\n"))
	t.Write([]byte(response))
	s.Context.counters.AddBytesWritten(int64(len(response)))
	return stream.Of[*serveContext](h, stream.Flush(0)).WithDeadline(s.After(10 * time.Second))
}

func (h httpEcho) BytesFlushed(t *stream.Transport, s *stream.Scope[*serveContext]) stream.Intent[*serveContext] {
	return stream.Done[*serveContext]()
}

func (h httpEcho) Timeout(t *stream.Transport, s *stream.Scope[*serveContext]) stream.Intent[*serveContext] {
	s.Context.counters.AddTimeouts(1)
	return stream.Done[*serveContext]()
}

func (h httpEcho) Wakeup(t *stream.Transport, s *stream.Scope[*serveContext]) stream.Intent[*serveContext] {
	return stream.Of[*serveContext](h, stream.Sleep())
}

func (h httpEcho) Exception(t *stream.Transport, exc *stream.Exception, s *stream.Scope[*serveContext]) stream.Intent[*serveContext] {
	s.Context.counters.AddExceptions(1)
	return stream.Done[*serveContext]()
}

func run(c *cli.Context) error {
	logger := log.New(os.Stderr, "", log.LstdFlags)
	listenAddr := c.String("listen")
	counters := &metrics.Counters{}

	re, err := reactor.New()
	if err != nil {
		return err
	}
	defer re.Close()

	bps := c.Int("ratelimit")
	spawn := func(re *reactor.Reactor, conn reactor.Conn) error {
		var opts stream.Options
		if bps > 0 {
			opts.RateLimiter = rate.NewLimiter(rate.Limit(bps), bps)
		}
		_, err := stream.NewWithOptions[*serveContext](re, conn, httpEcho{}, &serveContext{counters: counters}, nil, opts)
		return err
	}

	pr, err := accept.ParsePortRange(listenAddr)
	if err != nil {
		color.Red("invalid -listen address: %v", err)
		return cli.NewExitError("", 1)
	}
	pool, err := accept.ListenPool(re, pr, spawn, logger)
	if err != nil {
		return err
	}
	defer pool.Close(re)

	if csvPath := c.String("statsfile"); csvPath != "" {
		l := metrics.NewCSVLogger(csvPath, time.Duration(c.Int("statsinterval"))*time.Second, counters, logger)
		go l.Run()
		defer l.Stop()
	}

	logger.Printf("listening on %s:%d-%d", pr.Host, pr.Min, pr.Max)
	return re.Run()
}

func main() {
	app := cli.NewApp()
	app.Name = "serve"
	app.Usage = "serve a fixed response over the reactor-driven stream engine"
	app.Version = VERSION
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "listen,l",
			Value: "127.0.0.1:3000",
			Usage: `listen address, eg: "127.0.0.1:3000" or "0.0.0.0:3000-3009" for a pool`,
		},
		cli.StringFlag{
			Name:  "statsfile",
			Usage: "periodically append connection counters to this CSV path (time.Format pattern in the filename)",
		},
		cli.IntFlag{
			Name:  "statsinterval",
			Value: 60,
			Usage: "seconds between statsfile rows",
		},
		cli.IntFlag{
			Name:  "ratelimit",
			Usage: "cap outgoing bytes/sec per connection (0 disables shaping)",
		},
	}
	app.Action = run
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
