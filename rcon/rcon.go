package rcon

import (
	"bufio"
	"context"
	"net"
	"strconv"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const (
	// DefaultTimeout bounds a single command round trip.
	DefaultTimeout = 10 * time.Second

	// MaxMinecraftCommandLength is the longest command body a Minecraft
	// server accepts.
	MaxMinecraftCommandLength = 1446

	// how long quirks mode waits for a trailing frame after a reply.
	quirksGrace = 25 * time.Millisecond
	// how long quirks mode waits for the next fragment after a full one.
	continuationGrace = 250 * time.Millisecond

	maxRequestID = 0x0fffffff
)

var (
	ErrAddressParse        = errors.New("rcon: invalid address")
	ErrAuthFailed          = errors.New("rcon: authentication failed")
	ErrInvalidAuthResponse = errors.New("rcon: invalid response type during auth")
	ErrDesync              = errors.New("rcon: response id does not match request")
	ErrUnexpectedFormat    = errors.New("rcon: unexpected response format")
	ErrCommandTooLong      = errors.New("rcon: command too long")
	ErrTimeout             = errors.New("rcon: timed out waiting for server")
	ErrClosed              = errors.New("rcon: connection closed")
)

// Options tune a connection. The zero value is usable.
type Options struct {
	// Timeout bounds each command round trip and the login handshake.
	Timeout time.Duration
	// Quirks enables Minecraft compatibility: shorter command limit and
	// coalescing of trailing frames emitted after a reply.
	Quirks bool
}

func (o Options) timeout() time.Duration {
	if o.Timeout <= 0 {
		return DefaultTimeout
	}
	return o.Timeout
}

// RemoteConsole is one authenticated session. Commands are executed
// strictly one at a time.
type RemoteConsole struct {
	conn     net.Conn
	reader   *bufio.Reader
	mu       sync.Mutex
	reqid    int32
	opts     Options
	deadline time.Time
	closed   bool
}

// IsProtocolError reports whether err is a framing or session error rather
// than a transport or parse failure.
func IsProtocolError(err error) bool {
	for _, target := range []error{ErrFrameLength, ErrResponseTooLong, ErrMalformedPacket,
		ErrDesync, ErrAuthFailed, ErrInvalidAuthResponse, ErrUnexpectedFormat} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// ParseAddress validates a host:port pair.
func ParseAddress(addr string) (string, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "", errors.Wrapf(ErrAddressParse, "%q: %v", addr, err)
	}
	if host == "" {
		return "", errors.Wrapf(ErrAddressParse, "%q: empty host", addr)
	}
	p, err := strconv.ParseUint(port, 10, 16)
	if err != nil || p == 0 {
		return "", errors.Wrapf(ErrAddressParse, "%q: bad port", addr)
	}
	return net.JoinHostPort(host, port), nil
}

// Dial connects to addr and performs the login handshake. The socket is
// closed on any failure.
func Dial(ctx context.Context, addr, password string, opts Options) (*RemoteConsole, error) {
	addr, err := ParseAddress(addr)
	if err != nil {
		return nil, err
	}
	dialer := net.Dialer{Timeout: opts.timeout()}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "rcon: dial %s", addr)
	}
	r := &RemoteConsole{conn: conn, reader: bufio.NewReaderSize(conn, MaxBodySize+headerSize+4), opts: opts}
	if err := r.login(ctx, password); err != nil {
		return nil, err
	}
	log.WithField("addr", addr).Debug("rcon: authenticated")
	return r, nil
}

func (r *RemoteConsole) login(ctx context.Context, password string) error {
	r.setDeadline(ctx)
	stop := r.watch(ctx)
	defer stop()

	reqid, err := r.writeCmd(cmdAuth, password)
	if err != nil {
		return r.fail(ctx, err, "rcon: send login")
	}

	p, err := ReadPacket(r.reader)
	if err != nil {
		return r.fail(ctx, err, "rcon: read login reply")
	}

	// Source servers send an empty response value ahead of the auth
	// response.
	if p.Type == respResponse {
		p, err = ReadPacket(r.reader)
		if err != nil {
			return r.fail(ctx, err, "rcon: read login reply")
		}
	}
	if p.Type != respAuthResponse {
		r.close()
		return ErrInvalidAuthResponse
	}
	if p.ID == authFailedID {
		r.close()
		return ErrAuthFailed
	}
	if p.ID != reqid {
		r.close()
		return errors.Wrapf(ErrDesync, "login sent id %d, got %d", reqid, p.ID)
	}
	return nil
}

func (r *RemoteConsole) LocalAddr() net.Addr {
	return r.conn.LocalAddr()
}

func (r *RemoteConsole) RemoteAddr() net.Addr {
	return r.conn.RemoteAddr()
}

// Exec sends cmd and returns the server's reply. An empty string is a valid
// reply. Timeouts, socket errors and protocol errors tear the connection
// down.
func (r *RemoteConsole) Exec(ctx context.Context, cmd string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return "", ErrClosed
	}
	if r.opts.Quirks && len(cmd) > MaxMinecraftCommandLength {
		return "", errors.Wrapf(ErrCommandTooLong, "%d > %d bytes", len(cmd), MaxMinecraftCommandLength)
	}
	// rejected bodies never reach the socket and leave the session open
	reqid, frame, err := r.nextFrame(cmdExecCommand, cmd)
	if err != nil {
		return "", err
	}

	r.setDeadline(ctx)
	stop := r.watch(ctx)
	defer stop()

	if _, err := r.conn.Write(frame); err != nil {
		return "", r.fail(ctx, err, "rcon: write command")
	}
	resp, err := r.readReply(reqid)
	if err != nil {
		return "", r.fail(ctx, err, "rcon: read reply")
	}
	return resp, nil
}

func (r *RemoteConsole) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	return r.conn.Close()
}

func (r *RemoteConsole) close() {
	if !r.closed {
		r.closed = true
		_ = r.conn.Close()
	}
}

func newRequestId(id int32) int32 {
	if id <= 0 || id >= maxRequestID {
		return 1
	}
	return id + 1
}

// nextFrame encodes str under a fresh request id.
func (r *RemoteConsole) nextFrame(cmdType int32, str string) (int32, []byte, error) {
	reqid := newRequestId(r.reqid)
	frame, err := Encode(reqid, cmdType, str)
	if err != nil {
		return 0, nil, err
	}
	r.reqid = reqid
	return reqid, frame, nil
}

func (r *RemoteConsole) writeCmd(cmdType int32, str string) (int32, error) {
	reqid, frame, err := r.nextFrame(cmdType, str)
	if err != nil {
		return 0, err
	}
	if _, err := r.conn.Write(frame); err != nil {
		return 0, err
	}
	return reqid, nil
}

func (r *RemoteConsole) readReply(reqid int32) (string, error) {
	p, err := r.readMatching(reqid)
	if err != nil {
		return "", err
	}
	if r.opts.Quirks {
		return r.readTrailing(reqid, p.Body)
	}
	if !r.fullFragment(p.Body) {
		return p.Body, nil
	}
	return r.readUntilSentinel(reqid, p.Body)
}

// fullFragment reports whether body filled a whole fragment, meaning more
// of the reply may follow. Minecraft counts characters, Source counts bytes.
func (r *RemoteConsole) fullFragment(body string) bool {
	if r.opts.Quirks {
		return utf8.RuneCountInString(body) >= MaxBodySize
	}
	return len(body) >= MaxBodySize
}

// readTrailing collects the frames Minecraft sends after the first one. An
// empty frame with the same id ends the reply, as does silence past the
// grace window.
func (r *RemoteConsole) readTrailing(reqid int32, response string) (string, error) {
	last := response
	for {
		grace := quirksGrace
		if r.fullFragment(last) {
			grace = continuationGrace
		}
		more, err := r.trailingFrame(grace)
		if err != nil {
			return "", err
		}
		if !more {
			return response, nil
		}
		p, err := r.readMatching(reqid)
		if err != nil {
			return "", err
		}
		if p.Body == "" {
			return response, nil
		}
		response += p.Body
		last = p.Body
	}
}

// readUntilSentinel follows a full fragment with an empty command. Source
// servers answer commands in order, so every fragment of the reply arrives
// before the sentinel's answer.
func (r *RemoteConsole) readUntilSentinel(reqid int32, response string) (string, error) {
	sentinel, err := r.writeCmd(cmdExecCommand, "")
	if err != nil {
		return "", err
	}
	for {
		p, err := readPacket(r.reader, r.maxBody())
		if err != nil {
			return "", err
		}
		switch {
		case p.Type != respResponse:
			return "", errors.Wrapf(ErrUnexpectedFormat, "response type %d", p.Type)
		case p.ID == sentinel:
			return response, nil
		case p.ID == reqid:
			response += p.Body
		default:
			return "", errors.Wrapf(ErrDesync, "sent id %d, got %d", reqid, p.ID)
		}
	}
}

func (r *RemoteConsole) maxBody() int32 {
	if r.opts.Quirks {
		return MaxMinecraftBodySize
	}
	return MaxBodySize
}

func (r *RemoteConsole) readMatching(reqid int32) (Packet, error) {
	p, err := readPacket(r.reader, r.maxBody())
	if err != nil {
		return p, err
	}
	if p.ID != reqid {
		return p, errors.Wrapf(ErrDesync, "sent id %d, got %d", reqid, p.ID)
	}
	if p.Type != respResponse {
		return p, errors.Wrapf(ErrUnexpectedFormat, "response type %d", p.Type)
	}
	return p, nil
}

// trailingFrame waits briefly for another frame without consuming it.
func (r *RemoteConsole) trailingFrame(wait time.Duration) (bool, error) {
	grace := time.Now().Add(wait)
	if !r.deadline.IsZero() && r.deadline.Before(grace) {
		grace = r.deadline
	}
	_ = r.conn.SetReadDeadline(grace)
	_, err := r.reader.Peek(4)
	_ = r.conn.SetReadDeadline(r.deadline)
	if err == nil {
		return true, nil
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() && time.Now().Before(r.deadline) {
		return false, nil
	}
	return false, err
}

func (r *RemoteConsole) setDeadline(ctx context.Context) {
	r.deadline = time.Now().Add(r.opts.timeout())
	if d, ok := ctx.Deadline(); ok && d.Before(r.deadline) {
		r.deadline = d
	}
	_ = r.conn.SetDeadline(r.deadline)
}

// watch interrupts blocked socket calls when ctx is cancelled.
func (r *RemoteConsole) watch(ctx context.Context) (stop func() bool) {
	return context.AfterFunc(ctx, func() {
		_ = r.conn.SetDeadline(time.Unix(1, 0))
	})
}

func (r *RemoteConsole) fail(ctx context.Context, err error, msg string) error {
	r.close()
	if ctxErr := ctx.Err(); ctxErr != nil {
		if ctxErr == context.DeadlineExceeded {
			return errors.Wrap(ErrTimeout, msg)
		}
		return errors.Wrap(ctxErr, msg)
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return errors.Wrap(ErrTimeout, msg)
	}
	return errors.Wrap(err, msg)
}
