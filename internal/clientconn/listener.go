// Copyright 2023 MeerkatDB Contributors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package clientconn

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"runtime/pprof"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/meerkatdb/meerkatdb/internal/clientconn/connmetrics"
	"github.com/meerkatdb/meerkatdb/internal/handler"
	"github.com/meerkatdb/meerkatdb/internal/util/ctxutil"
	"github.com/meerkatdb/meerkatdb/internal/util/lazyerrors"
	"github.com/meerkatdb/meerkatdb/internal/util/tlsutil"
	"github.com/meerkatdb/meerkatdb/internal/wire"
)

// connGraceDelay is how long clients have to disconnect after the listener context is done.
const connGraceDelay = 3 * time.Second

// Listener listens on TCP and TLS addresses and accepts incoming client connections.
type Listener struct {
	*NewListenerOpts

	tcpListener net.Listener
	tlsListener net.Listener

	tcpListenerReady chan struct{}
	tlsListenerReady chan struct{}
}

// NewListenerOpts represents listener configuration.
//
//nolint:vet // for readability
type NewListenerOpts struct {
	TCP string
	TLS string

	TLSCertFile string
	TLSKeyFile  string
	TLSCAFile   string

	Metrics *connmetrics.ListenerMetrics
	Handler *handler.Handler
	Logger  *zap.Logger

	RecordsDir string // if empty, no records are created

	TestConnTimeout time.Duration
}

// NewListener returns a new listener, configured by the NewListenerOpts argument.
func NewListener(opts *NewListenerOpts) *Listener {
	return &Listener{
		NewListenerOpts:  opts,
		tcpListenerReady: make(chan struct{}),
		tlsListenerReady: make(chan struct{}),
	}
}

// Run runs the listener until ctx is done or some unrecoverable error occurs.
//
// When this method returns, the listener and all connections are closed.
func (l *Listener) Run(ctx context.Context) error {
	logger := l.Logger.Named("listener")

	if l.TCP == "" && l.TLS == "" {
		return lazyerrors.New("no listen addresses configured")
	}

	if l.TCP != "" {
		var err error
		if l.tcpListener, err = net.Listen("tcp", l.TCP); err != nil {
			return lazyerrors.Error(err)
		}

		close(l.tcpListenerReady)
		logger.Sugar().Infof("Listening on TCP %s ...", l.TCPAddr())
	}

	if l.TLS != "" {
		var err error
		if l.tlsListener, err = l.listenTLS(); err != nil {
			return lazyerrors.Error(err)
		}

		close(l.tlsListenerReady)
		logger.Sugar().Infof("Listening on TLS %s ...", l.TLSAddr())
	}

	// close listeners on ctx cancellation
	go func() {
		<-ctx.Done()

		if l.tcpListener != nil {
			l.tcpListener.Close()
		}

		if l.tlsListener != nil {
			l.tlsListener.Close()
		}
	}()

	var wg sync.WaitGroup

	if l.TCP != "" {
		wg.Add(1)

		go func() {
			defer func() {
				logger.Sugar().Infof("%s stopped.", l.TCPAddr())
				wg.Done()
			}()

			l.acceptLoop(ctx, l.tcpListener, &wg, logger)
		}()
	}

	if l.TLS != "" {
		wg.Add(1)

		go func() {
			defer func() {
				logger.Sugar().Infof("%s stopped.", l.TLSAddr())
				wg.Done()
			}()

			l.acceptLoop(ctx, l.tlsListener, &wg, logger)
		}()
	}

	logger.Info("Waiting for all connections to stop...")
	wg.Wait()

	return ctx.Err()
}

// listenTLS returns a TLS listener for the configured address,
// requiring client certificates when a CA file is set.
func (l *Listener) listenTLS() (net.Listener, error) {
	config, err := tlsutil.ServerConfig(&tlsutil.ServerOpts{
		CertFile:           l.TLSCertFile,
		KeyFile:            l.TLSKeyFile,
		CAFile:             l.TLSCAFile,
		RequestCert:        l.TLSCAFile != "",
		RejectUnauthorized: l.TLSCAFile != "",
	})
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	listener, err := tls.Listen("tcp", l.TLS, config)
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	return listener, nil
}

// acceptLoop runs the accept loop of the given listener until ctx is done.
func (l *Listener) acceptLoop(ctx context.Context, listener net.Listener, wg *sync.WaitGroup, logger *zap.Logger) {
	var retry int64

	for {
		netConn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}

			l.Metrics.Accepts.WithLabelValues("1").Inc()

			logger.Warn("Failed to accept connection", zap.Error(err))

			if !errors.Is(err, net.ErrClosed) {
				retry++
				ctxutil.SleepWithJitter(ctx, time.Second, retry)
			}

			continue
		}

		wg.Add(1)
		l.Metrics.Accepts.WithLabelValues("0").Inc()
		l.Metrics.ConnectedClients.Inc()

		go func() {
			connID := fmt.Sprintf("%s -> %s", netConn.RemoteAddr(), netConn.LocalAddr())

			// give clients a few seconds to disconnect after ctx is done
			runCtx, runCancel := ctxutil.WithDelay(ctx.Done(), connGraceDelay)

			defer func() {
				runCancel()
				netConn.Close()
				l.Metrics.ConnectedClients.Dec()
				wg.Done()
			}()

			if l.TestConnTimeout != 0 {
				var cancel context.CancelFunc
				runCtx, cancel = context.WithTimeout(runCtx, l.TestConnTimeout)

				defer cancel()
			}

			defer pprof.SetGoroutineLabels(runCtx)
			runCtx = pprof.WithLabels(runCtx, pprof.Labels("conn", connID))
			pprof.SetGoroutineLabels(runCtx)

			conn, e := newConn(&newConnOpts{
				netConn:     netConn,
				l:           l.Logger.Named("// " + connID + " "), // derive from the original unnamed logger
				handler:     l.Handler,
				connMetrics: l.Metrics.ConnMetrics,
				recordsDir:  l.RecordsDir,
			})
			if e != nil {
				logger.Warn("Failed to create connection", zap.String("conn", connID), zap.Error(e))
				return
			}

			logger.Info("Connection started", zap.String("conn", connID))

			e = conn.run(runCtx)
			if errors.Is(e, wire.ErrZeroRead) {
				logger.Info("Connection stopped", zap.String("conn", connID))
			} else {
				logger.Warn("Connection stopped", zap.String("conn", connID), zap.Error(e))
			}
		}()
	}
}

// TCPAddr returns the TCP listener's address.
// It can be used to determine the actually used port, if it was zero.
// It blocks until the listener is listening.
func (l *Listener) TCPAddr() net.Addr {
	<-l.tcpListenerReady
	return l.tcpListener.Addr()
}

// TLSAddr returns the TLS listener's address.
// It blocks until the listener is listening.
func (l *Listener) TLSAddr() net.Addr {
	<-l.tlsListenerReady
	return l.tlsListener.Addr()
}

// Describe implements prometheus.Collector.
func (l *Listener) Describe(ch chan<- *prometheus.Desc) {
	l.Metrics.Describe(ch)
}

// Collect implements prometheus.Collector.
func (l *Listener) Collect(ch chan<- prometheus.Metric) {
	l.Metrics.Collect(ch)
}

// check interfaces
var (
	_ prometheus.Collector = (*Listener)(nil)
)
