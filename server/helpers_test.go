package server

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/momentics/hioload-http/api"
	"github.com/momentics/hioload-http/fake"
	"github.com/momentics/hioload-http/reactor"
	"github.com/stretchr/testify/require"
)

// fakePoller records interest and never reports readiness; tests deliver
// events by calling loop.dispatch.
type fakePoller struct {
	mu       sync.Mutex
	interest map[int]reactor.Events
	closed   bool
}

func newFakePoller() *fakePoller {
	return &fakePoller{interest: make(map[int]reactor.Events)}
}

func (p *fakePoller) Add(fd int, _ uint32, ev reactor.Events) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.interest[fd] = ev
	return nil
}

func (p *fakePoller) Modify(fd int, _ uint32, ev reactor.Events) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.interest[fd]; !ok {
		return errors.New("not registered")
	}
	p.interest[fd] = ev
	return nil
}

func (p *fakePoller) Remove(fd int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.interest, fd)
	return nil
}

func (p *fakePoller) Wait([]reactor.Event, time.Duration) (int, error) { return 0, nil }
func (p *fakePoller) Wake() error                                    { return nil }

func (p *fakePoller) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fakePoller) get(fd int) (reactor.Events, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ev, ok := p.interest[fd]
	return ev, ok
}

// manualExecutor queues tasks until the test runs them.
type manualExecutor struct {
	mu     sync.Mutex
	tasks  []func()
	reject error
}

func (e *manualExecutor) Submit(task func()) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.reject != nil {
		return e.reject
	}
	e.tasks = append(e.tasks, task)
	return nil
}

func (e *manualExecutor) NumWorkers() int { return 1 }
func (e *manualExecutor) Close()          {}

func (e *manualExecutor) pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.tasks)
}

// runAt runs and removes the i-th queued task.
func (e *manualExecutor) runAt(i int) {
	e.mu.Lock()
	task := e.tasks[i]
	e.tasks = append(e.tasks[:i], e.tasks[i+1:]...)
	e.mu.Unlock()
	task()
}

func (e *manualExecutor) runAll() int {
	n := 0
	for e.pending() > 0 {
		e.runAt(0)
		n++
	}
	return n
}

type harness struct {
	t      *testing.T
	srv    *Server
	loop   *loop
	exec   *manualExecutor
	poller *fakePoller
}

func newHarness(t *testing.T, h Handler, mutate func(*Config)) *harness {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Logger = hclog.NewNullLogger()
	if mutate != nil {
		mutate(cfg)
	}
	ex := &manualExecutor{}
	srv, err := NewServer(cfg, h, WithExecutor(ex))
	require.NoError(t, err)
	p := newFakePoller()
	l := newLoop(0, srv, p)
	srv.loops = []*loop{l}
	return &harness{t: t, srv: srv, loop: l, exec: ex, poller: p}
}

// connect registers a fresh fake transport and returns it with its conn.
func (h *harness) connect() (*fake.Transport, *conn) {
	tr := fake.NewTransport()
	h.loop.active.Add(1)
	h.loop.register(tr)
	var c *conn
	h.loop.conns.each(func(x *conn) {
		if x.tr == api.Transport(tr) {
			c = x
		}
	})
	require.NotNil(h.t, c)
	return tr, c
}

// send queues data and delivers a read event.
func (h *harness) send(tr *fake.Transport, c *conn, data string) {
	tr.AddRecvData([]byte(data))
	h.readable(c)
}

func (h *harness) readable(c *conn) {
	h.loop.dispatch(reactor.Event{Fd: c.tr.Fd(), Token: c.h.index(), Events: reactor.EventRead})
	h.loop.tasks.Drain()
}

func (h *harness) writable(c *conn) {
	h.loop.dispatch(reactor.Event{Fd: c.tr.Fd(), Token: c.h.index(), Events: reactor.EventWrite})
	h.loop.tasks.Drain()
}

// pump runs handler tasks and loop tasks until both are idle.
func (h *harness) pump() {
	for i := 0; i < 1000; i++ {
		if h.exec.runAll()+h.loop.tasks.Drain() == 0 {
			return
		}
	}
	h.t.Fatal("pump did not settle")
}

func textHandler(body string) Handler {
	return HandlerFunc(func(*Request) Outcome {
		return Respond(NewResponse(200, StringBody(body)))
	})
}

func targetHandler() Handler {
	return HandlerFunc(func(req *Request) Outcome {
		return Respond(NewResponse(200, StringBody(req.Head.Target)))
	})
}
