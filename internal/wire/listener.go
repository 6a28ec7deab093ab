package wire

import (
	"context"
	"log/slog"
	"net"
	"sync"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/whais-db/whais-core/internal/session"
	"github.com/whais-db/whais-core/internal/storage"
)

// Listener accepts connections and serves one Conn per connection,
// bounding the number of concurrently active sessions with a weighted
// semaphore (spec §5
// "Multiple OS threads serve independent sessions in parallel").
type Listener struct {
	ln      net.Listener
	mgr     *session.Manager
	db      *storage.Database
	sem     *semaphore.Weighted
	stop    chan struct{}
	stopped sync.Once
}

// Listen binds addr and returns a Listener ready to Serve, admitting up
// to maxSessions concurrently active connections.
func Listen(addr string, db *storage.Database, mgr *session.Manager, maxSessions int64) (*Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Listener{
		ln:   ln,
		mgr:  mgr,
		db:   db,
		sem:  semaphore.NewWeighted(maxSessions),
		stop: make(chan struct{}),
	}, nil
}

// Addr returns the bound listener address (useful when addr was ":0").
func (l *Listener) Addr() net.Addr { return l.ln.Addr() }

// Serve runs the accept loop until ctx is cancelled or Close is called,
// waiting for in-flight connections to drain before returning (spec §5
// "Servers signal shutdown by setting a per-session flag and closing
// the transport").
func (l *Listener) Serve(ctx context.Context) error {
	group, gctx := errgroup.WithContext(ctx)

	watchDone := make(chan struct{})
	go func() {
		defer close(watchDone)
		select {
		case <-ctx.Done():
			l.Close()
		case <-l.stop:
		}
	}()

	for {
		nc, err := l.ln.Accept()
		if err != nil {
			<-watchDone
			waitErr := group.Wait()
			select {
			case <-l.stop:
				return waitErr
			default:
				return multierr.Append(err, waitErr)
			}
		}

		if err := l.sem.Acquire(gctx, 1); err != nil {
			nc.Close()
			continue
		}

		group.Go(func() error {
			defer l.sem.Release(1)
			l.serveOne(nc)
			return nil
		})
	}
}

func (l *Listener) serveOne(nc net.Conn) {
	defer nc.Close()

	sess := l.mgr.NewSession()
	stack := NewStack(l.db)
	conn := NewConn(nc, sess, stack)

	if err := conn.Serve(l.stop); err != nil {
		slog.Warn("session connection ended", "session", sess.ID, "remote_addr", nc.RemoteAddr(), "error", err)
		return
	}
	slog.Info("session connection closed", "session", sess.ID, "remote_addr", nc.RemoteAddr())
}

// Close stops accepting new connections and signals every in-flight
// Conn to exit its command loop.
func (l *Listener) Close() error {
	l.stopped.Do(func() { close(l.stop) })
	return l.ln.Close()
}
