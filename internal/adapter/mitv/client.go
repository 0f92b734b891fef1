package mitv

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/rowanhale/hearth-core/internal/adapter"
)

// controlPort is the TV's local HTTP control port.
const controlPort = "6095"

// defaultHTTPTimeout caps one control request. The TV answers on the
// LAN in well under a second when awake.
const defaultHTTPTimeout = 5 * time.Second

// keyDelay spaces consecutive keystrokes so the TV's on-screen menus
// keep up with a sequence.
const keyDelay = 400 * time.Millisecond

// Named keyevents understood by the control endpoint.
const (
	keyPower      = "power"
	keyRight      = "right"
	keyEnter      = "enter"
	keyVolumeUp   = "volumeup"
	keyVolumeDown = "volumedown"
)

// sleepSequence walks the power menu to Sleep. The TV is put to sleep
// rather than switched off because a TV that is fully off ignores the
// network and could not be woken again remotely.
var sleepSequence = []string{keyPower, keyRight, keyEnter}

// client drives one TV over its local HTTP control API.
type client struct {
	http *http.Client
}

func newControlClient() *client {
	return &client{http: &http.Client{Timeout: defaultHTTPTimeout}}
}

// hostAddr normalises a configured host to host:port form.
func hostAddr(host string) string {
	if _, _, err := net.SplitHostPort(host); err == nil {
		return host
	}
	return net.JoinHostPort(host, controlPort)
}

// alive reports whether the TV answers on its control port.
func (c *client) alive(ctx context.Context, host string) bool {
	endpoint := fmt.Sprintf("http://%s/request?action=isalive", hostAddr(host))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return false
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()                  //nolint:errcheck // best-effort drain
	_, _ = io.Copy(io.Discard, resp.Body)    //nolint:errcheck // connection reuse
	return resp.StatusCode == http.StatusOK
}

// sendKey delivers one keyevent to the TV.
func (c *client) sendKey(ctx context.Context, host, key string) error {
	endpoint := fmt.Sprintf("http://%s/controller?action=keyevent&keycode=%s",
		hostAddr(host), url.QueryEscape(key))
	return c.get(ctx, endpoint)
}

// sendKeys delivers a keystroke sequence with menu-friendly pacing.
func (c *client) sendKeys(ctx context.Context, host string, keys []string) error {
	for i, key := range keys {
		if i > 0 {
			select {
			case <-time.After(keyDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err := c.sendKey(ctx, host, key); err != nil {
			return err
		}
	}
	return nil
}

// changeSource switches the TV input.
func (c *client) changeSource(ctx context.Context, host, source string) error {
	endpoint := fmt.Sprintf("http://%s/controller?action=changesource&source=%s",
		hostAddr(host), url.QueryEscape(source))
	return c.get(ctx, endpoint)
}

func (c *client) get(ctx context.Context, endpoint string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("mitv: building request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", adapter.ErrUnreachable, err)
	}
	defer resp.Body.Close()               //nolint:errcheck // best-effort drain
	_, _ = io.Copy(io.Discard, resp.Body) //nolint:errcheck // connection reuse

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: control status %d", adapter.ErrRejected, resp.StatusCode)
	}
	return nil
}
