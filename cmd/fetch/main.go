// Command fetch issues a single fixed-size HTTP GET over this module's
// own stream engine.
package main

import (
	"fmt"
	"log"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/pkg/errors"
	"github.com/urfave/cli"

	"github.com/xtaci/rotorstream/reactor"
	"github.com/xtaci/rotorstream/stream"
)

// VERSION is injected by buildflags.
var VERSION = "SELFBUILD"

type fetchContext struct{}

type fetchState int

const (
	stateSendRequest fetchState = iota
	stateReadHeaders
	stateReadBody
)

type httpFetch struct {
	state       fetchState
	host, path  string
	request     string
	contentLen  int
	done        chan error
}

func (h *httpFetch) Create(t *stream.Transport, s *stream.Scope[*fetchContext]) stream.Intent[*fetchContext] {
	fmt.Print("----- Request -----\n", h.request)
	t.Write([]byte(h.request))
	return stream.Of[*fetchContext](h, stream.Flush(0))
}

func (h *httpFetch) BytesFlushed(t *stream.Transport, s *stream.Scope[*fetchContext]) stream.Intent[*fetchContext] {
	h.state = stateReadHeaders
	return stream.Of[*fetchContext](h, stream.Delimiter(0, []byte("\r\n\r\n"), 64*1024)).
		WithDeadline(s.After(10 * time.Second))
}

func (h *httpFetch) BytesRead(t *stream.Transport, n int, s *stream.Scope[*fetchContext]) stream.Intent[*fetchContext] {
	switch h.state {
	case stateReadHeaders:
		end := n + len("\r\n\r\n")
		raw := string(t.Input()[:end])
		t.Consume(end)
		fmt.Print("----- Headers -----\n", raw)
		h.contentLen = parseContentLength(raw)
		fmt.Printf("----- Body [%d] -----\n", h.contentLen)
		h.state = stateReadBody
		return stream.Of[*fetchContext](h, stream.Bytes(h.contentLen)).
			WithDeadline(s.After(time.Duration(max(10, h.contentLen)) * time.Second))
	case stateReadBody:
		os.Stdout.Write(t.Input()[:n])
		t.Consume(n)
		fmt.Println("\n----- Done -----")
		h.done <- nil
		return stream.Done[*fetchContext]()
	default:
		return stream.Done[*fetchContext]()
	}
}

func (h *httpFetch) Timeout(t *stream.Transport, s *stream.Scope[*fetchContext]) stream.Intent[*fetchContext] {
	h.done <- errors.New("timeout reached")
	return stream.Done[*fetchContext]()
}

func (h *httpFetch) Wakeup(t *stream.Transport, s *stream.Scope[*fetchContext]) stream.Intent[*fetchContext] {
	return stream.Of[*fetchContext](h, stream.Sleep())
}

func (h *httpFetch) Exception(t *stream.Transport, exc *stream.Exception, s *stream.Scope[*fetchContext]) stream.Intent[*fetchContext] {
	h.done <- exc
	return stream.Done[*fetchContext]()
}

func parseContentLength(headers string) int {
	for _, line := range strings.Split(headers, "\r\n") {
		parts := strings.SplitN(line, ":", 2)
		if len(parts) != 2 {
			continue
		}
		if strings.EqualFold(strings.TrimSpace(parts[0]), "content-length") {
			if n, err := strconv.Atoi(strings.TrimSpace(parts[1])); err == nil {
				return n
			}
		}
	}
	return 0
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func run(c *cli.Context) error {
	url := c.Args().First()
	if !strings.HasPrefix(url, "http://") {
		color.Red("url should start with http://")
		return cli.NewExitError("", 1)
	}
	rest := url[len("http://"):]
	host := rest
	path := "/"
	if idx := strings.Index(rest, "/"); idx >= 0 {
		host = rest[:idx]
		path = rest[idx:]
	}
	fmt.Printf("Host: %s (port: 80), path: %s\n", host, path)

	ips, err := net.LookupIP(strings.Split(host, ":")[0])
	if err != nil || len(ips) == 0 {
		return errors.Wrapf(err, "resolve %s", host)
	}

	re, err := reactor.New()
	if err != nil {
		return err
	}
	defer re.Close()

	h := &httpFetch{
		host:    host,
		path:    path,
		request: fmt.Sprintf("GET %s HTTP/1.1\r\nHost: %s\r\n\r\n", path, host),
		done:    make(chan error, 1),
	}
	addr := &net.TCPAddr{IP: ips[0], Port: 80}
	if _, err := stream.Dial[*fetchContext](re, addr, 10*time.Second, h, &fetchContext{}, func(err error) {
		h.done <- err
	}); err != nil {
		return err
	}
	go re.Run()

	return <-h.done
}

func main() {
	app := cli.NewApp()
	app.Name = "fetch"
	app.Usage = "fetch a fixed-size http:// page over the reactor-driven stream engine"
	app.Version = VERSION
	app.ArgsUsage = "<url>"
	app.Action = run
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
