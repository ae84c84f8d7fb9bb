// Command monitor periodically re-fetches a fixed-size HTTP resource
// through an auto-reconnecting Persistent client. It is enriched with a
// local host-stats poller (gopsutil) run on a cron schedule
// (robfig/cron), logged alongside the fetch cycle the way an
// operational monitoring tool would.
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
	"github.com/robfig/cron/v3"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/urfave/cli"

	"github.com/xtaci/rotorstream/persistent"
	"github.com/xtaci/rotorstream/reactor"
	"github.com/xtaci/rotorstream/stream"
)

// VERSION is injected by buildflags.
var VERSION = "SELFBUILD"

type monitorContext struct{}

type pollState int

const (
	stateSendRequest pollState = iota
	stateReadHeaders
	stateReadBody
	stateSleep
)

type httpPoll struct {
	state      pollState
	host, path string
	request    string
}

func newHTTPPoll(host, path string) *httpPoll {
	return &httpPoll{
		host:    host,
		path:    path,
		request: fmt.Sprintf("GET %s HTTP/1.1\r\nHost: %s\r\nUser-Agent: rotorstream-monitor\r\n\r\n", path, host),
	}
}

func (h *httpPoll) Create(t *stream.Transport, s *stream.Scope[*monitorContext]) stream.Intent[*monitorContext] {
	log.Println("monitor: connected, sending request")
	t.Write([]byte(h.request))
	return stream.Of[*monitorContext](h, stream.Flush(0)).WithDeadline(s.After(10 * time.Second))
}

func (h *httpPoll) BytesFlushed(t *stream.Transport, s *stream.Scope[*monitorContext]) stream.Intent[*monitorContext] {
	h.state = stateReadHeaders
	return stream.Of[*monitorContext](h, stream.Delimiter(0, []byte("\r\n\r\n"), 4096)).
		WithDeadline(s.After(10 * time.Second))
}

func (h *httpPoll) BytesRead(t *stream.Transport, n int, s *stream.Scope[*monitorContext]) stream.Intent[*monitorContext] {
	switch h.state {
	case stateReadHeaders:
		end := n + len("\r\n\r\n")
		raw := string(t.Input()[:end])
		t.Consume(end)
		clen := parseContentLength(raw)
		h.state = stateReadBody
		return stream.Of[*monitorContext](h, stream.Bytes(clen)).
			WithDeadline(s.After(time.Duration(maxInt(10, clen)) * time.Second))
	case stateReadBody:
		body := string(t.Input()[:n])
		t.Consume(n)
		log.Printf("monitor: response: %s", strings.TrimSpace(body))
		h.state = stateSleep
		return stream.Of[*monitorContext](h, stream.Sleep()).WithDeadline(s.After(10 * time.Second))
	default:
		h.state = stateSendRequest
		return stream.Of[*monitorContext](h, stream.Sleep()).WithDeadline(s.After(5 * time.Second))
	}
}

func (h *httpPoll) Timeout(t *stream.Transport, s *stream.Scope[*monitorContext]) stream.Intent[*monitorContext] {
	if h.state == stateSleep {
		h.state = stateSendRequest
		t.Write([]byte(h.request))
		return stream.Of[*monitorContext](h, stream.Flush(0)).WithDeadline(s.After(10 * time.Second))
	}
	log.Println("monitor: timeout reached")
	return stream.Done[*monitorContext]()
}

func (h *httpPoll) Wakeup(t *stream.Transport, s *stream.Scope[*monitorContext]) stream.Intent[*monitorContext] {
	return stream.Of[*monitorContext](h, stream.Sleep())
}

func (h *httpPoll) Exception(t *stream.Transport, exc *stream.Exception, s *stream.Scope[*monitorContext]) stream.Intent[*monitorContext] {
	log.Printf("monitor: error fetching data: %v", exc)
	return stream.Done[*monitorContext]()
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

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func logHostStats() {
	pct, err := cpu.Percent(0, false)
	if err != nil {
		log.Printf("monitor: cpu.Percent: %v", err)
		return
	}
	vm, err := mem.VirtualMemory()
	if err != nil {
		log.Printf("monitor: mem.VirtualMemory: %v", err)
		return
	}
	line := fmt.Sprintf("host: cpu=%.1f%% mem=%.1f%%", pct[0], vm.UsedPercent)
	if vm.UsedPercent > 90 {
		color.Red(line)
	} else {
		log.Println(line)
	}
}

func run(c *cli.Context) error {
	host := c.String("host")
	path := c.String("path")
	port := c.Int("port")

	ips, err := net.LookupIP(host)
	if err != nil || len(ips) == 0 {
		return fmt.Errorf("resolve %s: %w", host, err)
	}

	re, err := reactor.New()
	if err != nil {
		return err
	}
	defer re.Close()

	newHandler := func() stream.Handler[*monitorContext] { return newHTTPPoll(host, path) }
	persistent.Connect[*monitorContext](re, &net.TCPAddr{IP: ips[0], Port: port}, newHandler, &monitorContext{}, log.Default())

	sched := cron.New()
	if _, err := sched.AddFunc(c.String("statscron"), logHostStats); err != nil {
		return err
	}
	sched.Start()
	defer sched.Stop()

	return re.Run()
}

func main() {
	app := cli.NewApp()
	app.Name = "monitor"
	app.Usage = "periodically fetch a URL through an auto-reconnecting persistent client"
	app.Version = VERSION
	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "host", Value: "www.timeapi.org", Usage: "remote host to poll"},
		cli.StringFlag{Name: "path", Value: "/utc/now.json", Usage: "request path"},
		cli.IntFlag{Name: "port", Value: 80, Usage: "remote port"},
		cli.StringFlag{Name: "statscron", Value: "@every 30s", Usage: "cron schedule for local host-stats logging"},
	}
	app.Action = run
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
