package connector

import (
	"context"
	"errors"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/sync/errgroup"

	"github.com/mensylisir/remotexec/pkg/logger"
)

var (
	errSessionClosed = errors.New("session is closed")
	errForwardClosed = errors.New("forward is closed")
)

// openResultTTL is how long an unclaimed channel open result is kept.
const openResultTTL = time.Minute

type openResult struct {
	ch chan error
	at time.Time
}

// forward is one local listener whose connections are tunnelled through an
// SSH client. conns holds both ends of every open tunnel.
type forward struct {
	localPort  int
	remoteAddr string
	client     *ssh.Client
	ln         net.Listener
	log        *logger.Logger

	mu      sync.Mutex
	conns   map[net.Conn]struct{}
	results map[string]*openResult
	done    chan struct{}
	wg      sync.WaitGroup
	once    sync.Once
}

func startForward(client *ssh.Client, localPort int, remoteHost string, remotePort int, log *logger.Logger) (*forward, error) {
	ln, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(localPort)))
	if err != nil {
		return nil, err
	}
	f := &forward{
		localPort:  ln.Addr().(*net.TCPAddr).Port,
		remoteAddr: net.JoinHostPort(remoteHost, strconv.Itoa(remotePort)),
		client:     client,
		ln:         ln,
		log:        log,
		conns:      make(map[net.Conn]struct{}),
		results:    make(map[string]*openResult),
		done:       make(chan struct{}),
	}
	f.wg.Add(1)
	go f.serve()
	return f, nil
}

func (f *forward) serve() {
	defer f.wg.Done()
	for {
		local, err := f.ln.Accept()
		if err != nil {
			return
		}
		if !f.track(local) {
			local.Close()
			return
		}
		f.wg.Add(1)
		go f.pipe(local)
	}
}

func (f *forward) track(c net.Conn) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.conns == nil {
		return false
	}
	f.conns[c] = struct{}{}
	return true
}

func (f *forward) untrack(c net.Conn) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.conns, c)
}

// resultLocked returns the open result slot for the local client address,
// creating it if needed.
func (f *forward) resultLocked(client string) *openResult {
	r, ok := f.results[client]
	if !ok {
		r = &openResult{ch: make(chan error, 1), at: time.Now()}
		f.results[client] = r
	}
	return r
}

// report records whether the remote end for client could be opened and
// drops results nobody asked for.
func (f *forward) report(client string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	select {
	case f.resultLocked(client).ch <- err:
	default:
		// stale result of an earlier connection from the same address
		r := &openResult{ch: make(chan error, 1), at: time.Now()}
		r.ch <- err
		f.results[client] = r
	}
	for k, r := range f.results {
		if len(r.ch) == 1 && time.Since(r.at) > openResultTTL {
			delete(f.results, k)
		}
	}
}

// await waits for the outcome of opening the remote end for the local
// connection whose address is client.
func (f *forward) await(ctx context.Context, client string) error {
	f.mu.Lock()
	r := f.resultLocked(client)
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		delete(f.results, client)
		f.mu.Unlock()
	}()

	select {
	case err := <-r.ch:
		return err
	case <-f.done:
		return errForwardClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *forward) pipe(local net.Conn) {
	defer f.wg.Done()
	defer f.untrack(local)
	defer local.Close()

	client := local.RemoteAddr().String()
	remote, err := f.client.Dial("tcp", f.remoteAddr)
	f.report(client, err)
	if err != nil {
		f.log.Warnf("Failed to open tunnel to %s: %v", f.remoteAddr, err)
		return
	}
	if !f.track(remote) {
		remote.Close()
		return
	}
	defer f.untrack(remote)
	defer remote.Close()

	var g errgroup.Group
	g.Go(func() error {
		_, err := io.Copy(remote, local)
		closeWrite(remote)
		return err
	})
	g.Go(func() error {
		_, err := io.Copy(local, remote)
		closeWrite(local)
		return err
	})
	if err := g.Wait(); err != nil && !isClosedErr(err) {
		f.log.Debugf("Tunnel to %s ended: %v", f.remoteAddr, err)
	}
}

// close stops accepting, closes both ends of open tunnels and waits for
// them.
func (f *forward) close() error {
	var err error
	f.once.Do(func() {
		err = ignoreClosed(f.ln.Close())
		f.mu.Lock()
		for c := range f.conns {
			c.Close()
		}
		f.conns = nil
		close(f.done)
		f.mu.Unlock()
		f.wg.Wait()
	})
	return err
}

func closeWrite(c net.Conn) {
	if cw, ok := c.(interface{ CloseWrite() error }); ok {
		_ = cw.CloseWrite()
	}
}

func isClosedErr(err error) bool {
	return errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF)
}

func ignoreClosed(err error) error {
	if err == nil || isClosedErr(err) {
		return nil
	}
	return err
}
