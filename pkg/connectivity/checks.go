package connectivity

import (
	"context"
	"net"
	"net/url"

	"github.com/go-faster/errors"
)

// DialCheck returns a CheckFunc that opens and closes a TCP connection to addr.
func DialCheck(addr string) CheckFunc {
	var d net.Dialer
	return func(ctx context.Context) error {
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return errors.Wrapf(err, "dial %s", addr)
		}
		return conn.Close()
	}
}

// HostPort derives the dial address of an http(s) URL, adding the default port
// of the scheme when the URL has none.
func HostPort(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", errors.Wrap(err, "parse url")
	}
	if u.Host == "" {
		return "", errors.Errorf("url %q has no host", rawURL)
	}
	if u.Port() != "" {
		return u.Host, nil
	}
	port := "80"
	if u.Scheme == "https" {
		port = "443"
	}
	return net.JoinHostPort(u.Hostname(), port), nil
}
