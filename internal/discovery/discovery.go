// Package discovery advertises a classroom relay on the local network over
// mDNS and finds advertised relays.
package discovery

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/mdns"
	"github.com/pkg/errors"
)

const ServiceType = "_classboard._tcp"

// Service is one relay found on the network.
type Service struct {
	Instance string
	Host     string
	Addr     string
	Port     int
	Info     []string
}

// URL returns the relay's HTTP base URL.
func (s Service) URL() string {
	return fmt.Sprintf("http://%s:%d", s.Addr, s.Port)
}

// Advertiser is a running mDNS responder.
type Advertiser struct {
	server *mdns.Server
}

// Advertise announces a relay listening on port. An empty instance uses
// the hostname.
func Advertise(instance string, port int, info ...string) (*Advertiser, error) {
	if instance == "" {
		host, err := os.Hostname()
		if err != nil {
			return nil, errors.Wrap(err, "discovery: hostname")
		}
		instance = host
	}
	if len(info) == 0 {
		info = []string{"classboard"}
	}

	service, err := mdns.NewMDNSService(instance, ServiceType, "", "", port, nil, info)
	if err != nil {
		return nil, errors.Wrap(err, "discovery: create service")
	}
	server, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		return nil, errors.Wrap(err, "discovery: start responder")
	}
	return &Advertiser{server: server}, nil
}

func (a *Advertiser) Shutdown() error {
	return a.server.Shutdown()
}

// Browse queries the network for relays until timeout and calls found for
// each IPv4 answer.
func Browse(ctx context.Context, timeout time.Duration, found func(Service)) error {
	entries := make(chan *mdns.ServiceEntry, 8)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for e := range entries {
			if s, ok := toService(e); ok {
				found(s)
			}
		}
	}()

	params := mdns.DefaultParams(ServiceType)
	params.Entries = entries
	params.Timeout = timeout
	params.DisableIPv6 = true

	errCh := make(chan error, 1)
	go func() { errCh <- mdns.Query(params) }()

	var err error
	select {
	case err = <-errCh:
	case <-ctx.Done():
		err = ctx.Err()
		<-errCh
	}
	close(entries)
	<-done
	return errors.Wrap(err, "discovery: browse")
}

func toService(e *mdns.ServiceEntry) (Service, bool) {
	if e == nil || e.AddrV4 == nil || e.Port == 0 {
		return Service{}, false
	}
	if !strings.Contains(e.Name, ServiceType) {
		return Service{}, false
	}
	return Service{
		Instance: strings.TrimSuffix(e.Name, "."+ServiceType+".local."),
		Host:     e.Host,
		Addr:     e.AddrV4.String(),
		Port:     e.Port,
		Info:     e.InfoFields,
	}, true
}
