// The MIT License (MIT)
//
// # Copyright (c) 2016 xtaci
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package accept

import (
	"log"
	"net"
	"regexp"
	"strconv"

	"github.com/pkg/errors"
	"github.com/xtaci/rotorstream/reactor"
)

// PortRange is a host plus an inclusive [Min, Max] port span, e.g.
// "0.0.0.0:7000-7009" for ten parallel listeners sharing one Spawner.
type PortRange struct {
	Host string
	Min  int
	Max  int
}

var portRangePattern = regexp.MustCompile(`(.*)\:([0-9]{1,5})-?([0-9]{1,5})?`)

// ParsePortRange parses "host:port" or "host:min-max" into a PortRange.
func ParsePortRange(addr string) (*PortRange, error) {
	matches := portRangePattern.FindStringSubmatch(addr)
	if len(matches) < 4 {
		return nil, errors.Errorf("accept: malformed address %q", addr)
	}

	minPort, err := strconv.Atoi(matches[2])
	if err != nil {
		return nil, err
	}
	maxPort := minPort
	if matches[3] != "" {
		maxPort, err = strconv.Atoi(matches[3])
		if err != nil {
			return nil, err
		}
	}
	if minPort > maxPort || minPort == 0 || maxPort > 65535 {
		return nil, errors.Errorf("accept: invalid port range %d-%d", minPort, maxPort)
	}

	return &PortRange{Host: matches[1], Min: minPort, Max: maxPort}, nil
}

// Pool binds one listening socket per port in a PortRange, all sharing a
// single Spawner — a multi-listener convenience layered on top of the
// single-socket Accept.
type Pool struct {
	tokens []reactor.Token
}

// ListenPool binds every port in pr and registers an Accept machine for
// each with re.
func ListenPool(re *reactor.Reactor, pr *PortRange, spawn Spawner, logger *log.Logger) (*Pool, error) {
	p := &Pool{}
	for port := pr.Min; port <= pr.Max; port++ {
		lis, err := reactor.ListenTCP(&net.TCPAddr{IP: net.ParseIP(resolveHost(pr.Host)), Port: port})
		if err != nil {
			p.Close(re)
			return nil, errors.Wrapf(err, "accept: listen on port %d", port)
		}
		tok, err := Listen(re, lis, spawn, logger)
		if err != nil {
			lis.Close()
			p.Close(re)
			return nil, err
		}
		p.tokens = append(p.tokens, tok)
	}
	return p, nil
}

// Close tears down every listener in the pool via re.Deregister.
func (p *Pool) Close(re *reactor.Reactor) {
	for _, tok := range p.tokens {
		re.Deregister(tok, nil)
	}
	p.tokens = nil
}

func resolveHost(host string) string {
	if host == "" {
		return "0.0.0.0"
	}
	return host
}
