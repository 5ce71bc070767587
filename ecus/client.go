// Package ecus drives one ECU through a diagnostic session: request/response
// exchanges, security unlock, gated writes and manufacturer services.
package ecus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/pion/logging"

	"vehiclediag/config"
	"vehiclediag/isotp"
	vdlog "vehiclediag/logging"
	"vehiclediag/protocols"
	"vehiclediag/seedkey"
	"vehiclediag/uds"
	"vehiclediag/utils"
)

// Channel is a duplex byte link to the ECU, such as an isotp.Transport.
type Channel interface {
	Write(ctx context.Context, payload []byte) error
	Read(ctx context.Context) ([]byte, error)
}

var (
	ErrSafeMode           = errors.New("write refused in safe mode")
	ErrVerifyMismatch     = errors.New("read back value differs from written value")
	ErrUnexpectedResponse = errors.New("unexpected response from ecu")
)

// Client owns the session state of one ECU. At most one exchange is in flight.
type Client struct {
	channel  Channel
	codec    *uds.Codec
	security *seedkey.State
	cfg      config.Config
	protocol protocols.Protocol
	// protocolErr is returned by manufacturer operations when cfg.Vehicle has no protocol
	protocolErr error
	log         logging.LeveledLogger
	lock        sync.Mutex
}

// New creates a client. A nil codec or security state starts a fresh session.
func New(channel Channel, codec *uds.Codec, security *seedkey.State, cfg config.Config, log logging.LeveledLogger) *Client {
	if codec == nil {
		codec = uds.NewCodec()
	}
	if security == nil {
		security = seedkey.NewState(nil)
	}
	if log == nil {
		log = vdlog.Discard()
	}
	c := &Client{
		channel:  channel,
		codec:    codec,
		security: security,
		cfg:      cfg,
		log:      log,
	}
	c.protocol, c.protocolErr = protocols.GetProtocol(cfg.Vehicle)
	return c
}

func (c *Client) Codec() *uds.Codec {
	return c.codec
}

func (c *Client) Security() *seedkey.State {
	return c.security
}

// Protocol returns the manufacturer protocol selected by the configured vehicle.
func (c *Client) Protocol() (protocols.Protocol, error) {
	return c.protocol, c.protocolErr
}

// Exchange sends one UDS request and waits for its response. A negative
// response is returned, not treated as an error, except a ResponsePending
// that is still pending after the configured number of re-polls.
func (c *Client) Exchange(ctx context.Context, request []byte) (*uds.Response, error) {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.exchangeLocked(ctx, request)
}

// ExchangeHex is Exchange for a request in canonical hex form.
func (c *Client) ExchangeHex(ctx context.Context, requestHex string) (*uds.Response, error) {
	request, err := utils.HexStringToBytes(requestHex)
	if err != nil {
		return nil, err
	}
	return c.Exchange(ctx, request)
}

func (c *Client) exchangeLocked(ctx context.Context, request []byte) (*uds.Response, error) {
	if len(request) == 0 {
		return nil, fmt.Errorf("%w: empty request", utils.ErrInvalidInput)
	}
	service := request[0]
	c.log.Debugf("-> %s: %s", uds.ServiceLabel(service), utils.BytesToHexString(request))

	if err := c.write(ctx, request); err != nil {
		return nil, fmt.Errorf("failed to send %s request: %w", uds.ServiceLabel(service), err)
	}
	resp, err := c.readResponse(ctx, service, c.cfg.ResponseTimeout)
	if err != nil {
		return nil, err
	}
	if resp.ResponsePending() {
		if resp, err = c.awaitPending(ctx, service); err != nil {
			return nil, err
		}
	}

	c.codec.Observe(request, resp)
	c.log.Debugf("<- %s", resp)
	return resp, nil
}

// write sends request. An ECU that refuses a segmented request before taking
// all of it has its reply queued, so that case is not an error.
func (c *Client) write(ctx context.Context, request []byte) error {
	err := c.channel.Write(ctx, request)
	if errors.Is(err, isotp.ErrInterrupted) {
		c.log.Debugf("ecu answered before the request was complete")
		return nil
	}
	return err
}

// awaitPending re-reads after a ResponsePending, each read with the extended timeout.
func (c *Client) awaitPending(ctx context.Context, service byte) (*uds.Response, error) {
	if c.cfg.MaxPendingRetries <= 0 {
		return nil, &uds.NegativeResponseError{
			ServiceID:   service,
			NRC:         uds.NRCRequestCorrectlyReceivedResponsePending,
			Description: uds.NRCDescription(uds.NRCRequestCorrectlyReceivedResponsePending),
		}
	}

	var resp *uds.Response
	err := retry.Do(
		func() error {
			r, err := c.readResponse(ctx, service, c.cfg.PendingTimeout)
			if err != nil {
				return retry.Unrecoverable(err)
			}
			resp = r
			if r.ResponsePending() {
				return r.Err()
			}
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(uint(c.cfg.MaxPendingRetries)),
		retry.Delay(0),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			c.log.Debugf("%s still pending (poll %d)", uds.ServiceLabel(service), n+1)
		}),
	)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// readResponse returns the next response to service within timeout. Responses
// to other services are logged and skipped.
func (c *Client) readResponse(ctx context.Context, service byte, timeout time.Duration) (*uds.Response, error) {
	readCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	for {
		raw, err := c.readRaw(ctx, readCtx, timeout)
		if err != nil {
			return nil, err
		}
		resp, err := uds.ParseResponseBytes(raw)
		if err != nil {
			return nil, err
		}
		if resp.ServiceID != service {
			c.log.Warnf("ignoring response to %s while waiting for %s", uds.ServiceLabel(resp.ServiceID), uds.ServiceLabel(service))
			continue
		}
		return resp, nil
	}
}

// readRaw reads one message, turning the expiry of readCtx into utils.ErrTimeout.
func (c *Client) readRaw(ctx, readCtx context.Context, timeout time.Duration) ([]byte, error) {
	raw, err := c.channel.Read(readCtx)
	if err == nil {
		c.log.Tracef("<- raw %s", utils.BytesToHexString(raw))
		return raw, nil
	}
	if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
		return nil, fmt.Errorf("%w after %s", utils.ErrTimeout, timeout)
	}
	return nil, err
}
