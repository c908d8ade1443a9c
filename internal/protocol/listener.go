package protocol

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/JacquesStrydom94/ZKTeco-Integration-Script/internal/config"
)

const (
	connDeadline = 10 * time.Second
	maxConns     = 64
	bindTries    = 6
)

// Listener owns one device endpoint: a TCP port with an accept loop feeding
// the push protocol handler. Every device gets its own Listener, so a port
// that cannot bind takes down only that device.
type Listener struct {
	Host    string
	Device  config.DeviceConfig
	Handler *Handler
}

// Run binds the port and serves until ctx is cancelled. Bind failures are
// retried with exponential backoff before giving up.
func (l *Listener) Run(ctx context.Context) error {
	addr := net.JoinHostPort(l.Host, strconv.Itoa(l.Device.Port))
	var lc net.ListenConfig
	ln, err := backoff.Retry(ctx, func() (net.Listener, error) {
		ln, err := lc.Listen(ctx, "tcp", addr)
		if err != nil {
			slog.Warn("device port bind failed", "addr", addr, "serial", l.Device.Serial, "error", err)
		}
		return ln, err
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxTries(bindTries))
	if err != nil {
		return fmt.Errorf("bind device port %s: %w", addr, err)
	}

	go func() {
		<-ctx.Done()
		ln.Close()
	}()
	slog.Info("device endpoint listening", "addr", addr, "serial", l.Device.Serial, "name", l.Device.Name)

	sem := make(chan struct{}, maxConns)
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			slog.Warn("accept failed", "addr", addr, "error", err)
			time.Sleep(100 * time.Millisecond)
			continue
		}
		sem <- struct{}{}
		go func(c net.Conn) {
			defer func() { <-sem }()
			l.serveConn(c)
		}(conn)
	}
}

func (l *Listener) serveConn(conn net.Conn) {
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(connDeadline))
	if err := l.Handler.ServeConn(conn); err != nil {
		slog.Debug("device exchange failed", "serial", l.Device.Serial, "remote", conn.RemoteAddr().String(), "error", err)
	}
}
