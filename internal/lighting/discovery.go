package lighting

import (
	"errors"
	"time"

	"github.com/hashicorp/mdns"
)

// HueService is the mDNS service advertised by Hue bridges.
const HueService = "_hue._tcp"

// DiscoverBridge returns the IPv4 address of the first Hue bridge answering
// an mDNS query within timeout.
func DiscoverBridge(timeout time.Duration) (string, error) {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	entries := make(chan *mdns.ServiceEntry, 10)
	errCh := make(chan error, 1)

	go func() {
		params := &mdns.QueryParam{
			Service:     HueService,
			Domain:      "local",
			Timeout:     timeout,
			Entries:     entries,
			DisableIPv6: true,
		}
		errCh <- mdns.Query(params)
		close(entries)
	}()

	var found string
	for entry := range entries {
		if found != "" || entry.AddrV4 == nil {
			continue
		}
		found = entry.AddrV4.String()
	}
	if err := <-errCh; err != nil && found == "" {
		return "", err
	}
	if found == "" {
		return "", errors.New("no hue bridge found")
	}
	return found, nil
}
