// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package daqsrv implements a tdaq run-control process driving transfer
// sequences on all the buses of a board.
package daqsrv // import "github.com/go-lpc/xfer/daqsrv"

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/go-daq/tdaq"
	"github.com/go-lpc/xfer/board"
	"github.com/go-lpc/xfer/bus"
	"github.com/go-lpc/xfer/confdb"
	"golang.org/x/sync/errgroup"
)

const (
	defaultPeriod = 100 * time.Millisecond
	defaultLen    = 10
	defaultSize   = 16
)

// Loader retrieves the configuration of the board to drive.
type Loader func(ctx context.Context) (board.Config, error)

// FromFile loads the board configuration from a YAML file.
func FromFile(fname string) Loader {
	return func(ctx context.Context) (board.Config, error) {
		return board.Load(fname)
	}
}

// FromDB loads the configuration of the last registered board from the
// configuration database.
func FromDB(db *confdb.DB) Loader {
	return func(ctx context.Context) (board.Config, error) {
		name, err := db.LastBoard(ctx)
		if err != nil {
			return board.Config{}, err
		}
		return db.Board(ctx, name)
	}
}

// Recorder stores the record of a run.
type Recorder func(ctx context.Context, run confdb.Run) error

type opener func(cfg board.BusCfg, msg *log.Logger) (*bus.Bus, io.Closer, error)

func openBus(cfg board.BusCfg, msg *log.Logger) (*bus.Bus, io.Closer, error) {
	return cfg.Open(msg)
}

// Server drives alternate read/write sequences on every bus of a board,
// one tick per sequence.
type Server struct {
	load   Loader
	rec    Recorder
	open   opener
	period time.Duration
	n      int

	cfg   board.Config
	buses []*busRun
	stats chan []byte
	start time.Time
}

type busRun struct {
	cfg    board.BusCfg
	bus    *bus.Bus
	closer io.Closer
	seq    *bus.Sequencer
}

// Option configures a Server.
type Option func(*Server)

// WithPeriod sets the period of the sequence ticker.
func WithPeriod(d time.Duration) Option {
	return func(srv *Server) {
		srv.period = d
	}
}

// WithTransfers sets the number of transfers of each sequence.
func WithTransfers(n int) Option {
	return func(srv *Server) {
		srv.n = n
	}
}

// WithRecorder records each bus run when the run stops.
func WithRecorder(rec Recorder) Option {
	return func(srv *Server) {
		srv.rec = rec
	}
}

// New returns a new run-control server for the board returned by load.
func New(load Loader, opts ...Option) *Server {
	srv := &Server{
		load:   load,
		open:   openBus,
		period: defaultPeriod,
		n:      defaultLen,
	}
	for _, opt := range opts {
		opt(srv)
	}
	return srv
}

func (srv *Server) OnConfig(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /config command...")
	cfg, err := srv.load(ctx.Ctx)
	if err != nil {
		ctx.Msg.Errorf("could not load board configuration: %+v", err)
		return fmt.Errorf("could not load board configuration: %w", err)
	}
	srv.cfg = cfg
	ctx.Msg.Infof("board %q: %d bus(es)", cfg.Name, len(cfg.Buses))
	return nil
}

func (srv *Server) OnInit(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /init command...")
	srv.close(ctx.Msg)

	out := log.New(msgWriter{ctx.Msg}, "", 0)
	for _, cfg := range srv.cfg.Buses {
		b, closer, err := srv.open(cfg, out)
		if err != nil {
			ctx.Msg.Errorf("could not open bus %q: %+v", cfg.Name, err)
			srv.close(ctx.Msg)
			return fmt.Errorf("could not open bus %q: %w", cfg.Name, err)
		}
		size := cfg.Size
		if size <= 0 {
			size = defaultSize
		}
		srv.buses = append(srv.buses, &busRun{
			cfg:    cfg,
			bus:    b,
			closer: closer,
			seq:    bus.NewSequencer(b, bus.PatternSource(cfg.Peer, size)),
		})
		ctx.Msg.Infof("bus %q (%s): OK", cfg.Name, cfg.Kind)
	}
	return nil
}

func (srv *Server) OnReset(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /reset command...")
	srv.close(ctx.Msg)
	srv.cfg = board.Config{}
	return nil
}

func (srv *Server) OnStart(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /start command...")
	if len(srv.buses) == 0 {
		return fmt.Errorf("no bus initialized")
	}
	srv.start = time.Now()
	srv.stats = make(chan []byte, 16*len(srv.buses))
	return nil
}

func (srv *Server) OnStop(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /stop command...")
	stop := time.Now()

	var errs []error
	for _, br := range srv.buses {
		stats := br.seq.Stats()
		ctx.Msg.Infof(
			"bus %q: sequences=%d completed=%d failed=%d timeouts=%d transfers=%d late=%d",
			br.cfg.Name, stats.Sequences, stats.Completed, stats.Failed,
			stats.Timeouts, stats.Transfers, stats.Late,
		)
		if srv.rec == nil {
			continue
		}
		err := srv.rec(ctx.Ctx, confdb.Run{
			Board: srv.cfg.Name,
			Bus:   br.cfg.Name,
			Start: srv.start,
			Stop:  stop,
			Stats: stats,
		})
		if err != nil {
			ctx.Msg.Errorf("could not record run of bus %q: %+v", br.cfg.Name, err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (srv *Server) OnQuit(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /quit command...")
	srv.close(ctx.Msg)
	return nil
}

// Run drives the sequences of all buses until the run is stopped.
func (srv *Server) Run(ctx tdaq.Context) error {
	grp, gctx := errgroup.WithContext(ctx.Ctx)
	for i := range srv.buses {
		br := srv.buses[i]
		grp.Go(func() error {
			tck := time.NewTicker(srv.period)
			defer tck.Stop()

			err := br.seq.Run(gctx, tck.C, srv.n, 0, func(st bus.Status) {
				if st.State == bus.Failed {
					ctx.Msg.Warnf("bus %q: %v", br.cfg.Name, st)
				}
				srv.publish(br, st)
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("bus %q: %w", br.cfg.Name, err)
			}
			return nil
		})
	}
	return grp.Wait()
}

// Stats publishes the status reports of the sequences.
func (srv *Server) Stats(ctx tdaq.Context, dst *tdaq.Frame) error {
	select {
	case <-ctx.Ctx.Done():
		dst.Body = nil
	case raw := <-srv.stats:
		dst.Body = raw
	}
	return nil
}

func (srv *Server) publish(br *busRun, st bus.Status) {
	rep := Report{
		Bus:   br.cfg.Name,
		State: st.State,
		Dir:   st.Dir,
		Count: st.Count,
		Stats: br.seq.Stats(),
	}
	if st.Err != nil {
		rep.Err = st.Err.Error()
	}

	buf := new(bytes.Buffer)
	err := rep.encode(buf)
	if err != nil {
		return
	}
	select {
	case srv.stats <- buf.Bytes():
	default:
	}
}

func (srv *Server) close(msg msgStream) {
	for _, br := range srv.buses {
		err := br.closer.Close()
		if err != nil {
			msg.Errorf("could not close bus %q: %+v", br.cfg.Name, err)
		}
	}
	srv.buses = srv.buses[:0]
}

type msgStream interface {
	Infof(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// msgWriter forwards the output of a stdlib logger to a tdaq message stream.
type msgWriter struct {
	msg msgStream
}

func (w msgWriter) Write(p []byte) (int, error) {
	w.msg.Infof("%s", bytes.TrimRight(p, "\n"))
	return len(p), nil
}
