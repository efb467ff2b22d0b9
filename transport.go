package dualtree

import (
	"log"
	"net"
	"net/rpc"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

// TaskRequest is the coordinator-to-worker dispatch message: a
// self-contained copy of the query and reference subtrees plus the rule
// state at dispatch time.
type TaskRequest struct {
	State RuleState
	Ref   *SpaceTree
	Query *SpaceTree
}

// TaskResponse is the worker-to-coordinator result message: the worker's
// accumulated result state.
type TaskResponse struct {
	State RuleState
}

// TaskServer is the callback interface a transport delivers inbound tasks
// to. It is implemented by Worker.
type TaskServer interface {
	RunTask(req *TaskRequest, resp *TaskResponse) error
}

// Client is the stub a transport hands back for submitting tasks to a
// remote rank. It is satisfied by *rpc.Client; Go issues a non-blocking
// call whose completion is delivered on the returned Call's Done channel.
type Client interface {
	Go(serviceMethod string, args interface{}, reply interface{}, done chan *rpc.Call) *rpc.Call
	Close() error
}

// Transport maps process ranks to communication channels. Implementations
// must allow Connect from any process to any listening rank.
type Transport interface {
	// Listen associates rank with server so other processes' Connect calls
	// can reach it.
	Listen(rank int, server TaskServer) error

	// Stop undoes a previous Listen.
	Stop(rank int)

	// Connect returns a stub for submitting tasks to rank.
	Connect(rank int) (Client, error)
}

const taskMethod = "Worker.RunTask"

// taskAdapter exposes a TaskServer under the fixed net/rpc service name.
type taskAdapter struct {
	server TaskServer
}

func (a *taskAdapter) RunTask(req *TaskRequest, resp *TaskResponse) error {
	return a.server.RunTask(req, resp)
}

func serveTaskRPC(server TaskServer) (*rpc.Server, error) {
	rpcServer := rpc.NewServer()
	if err := rpcServer.RegisterName("Worker", &taskAdapter{server}); err != nil {
		return nil, errors.Wrap(err, "dualtree: registering task server")
	}
	return rpcServer, nil
}

func acceptLoop(server *rpc.Server, listener net.Listener) {
	for {
		conn, err := listener.Accept()
		if err != nil {
			if strings.HasSuffix(err.Error(), "use of closed network connection") {
				return
			}
			log.Printf("dualtree: transport accept: %s", err)
			continue
		}
		go server.ServeConn(conn)
	}
}

// localTransport binds each rank to an unused loopback port. It serves
// tests and single-host runs where all ranks share one process or machine.
type localTransport struct {
	mu        sync.Mutex
	listeners map[int]net.Listener
}

// NewLocalTransport creates a Transport for local use. Ranks sharing the
// same instance can find and communicate with each other.
func NewLocalTransport() Transport {
	return &localTransport{listeners: make(map[int]net.Listener)}
}

func (lt *localTransport) Listen(rank int, server TaskServer) error {
	rpcServer, err := serveTaskRPC(server)
	if err != nil {
		return err
	}
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return errors.Wrapf(err, "dualtree: listening for rank %d", rank)
	}
	lt.mu.Lock()
	lt.listeners[rank] = listener
	lt.mu.Unlock()
	go acceptLoop(rpcServer, listener)
	return nil
}

func (lt *localTransport) Stop(rank int) {
	lt.mu.Lock()
	listener, ok := lt.listeners[rank]
	delete(lt.listeners, rank)
	lt.mu.Unlock()
	if ok {
		listener.Close()
	}
}

func (lt *localTransport) Connect(rank int) (Client, error) {
	lt.mu.Lock()
	listener, ok := lt.listeners[rank]
	lt.mu.Unlock()
	if !ok {
		return nil, errors.Errorf("dualtree: no listener for rank %d", rank)
	}
	client, err := rpc.Dial("tcp", listener.Addr().String())
	if err != nil {
		return nil, errors.Wrapf(err, "dualtree: dialing rank %d", rank)
	}
	return client, nil
}

// tcpTransport maps ranks to fixed host:port addresses for multi-host
// deployments.
type tcpTransport struct {
	mu        sync.Mutex
	addrs     map[int]string
	listeners map[int]net.Listener
}

// NewTCPTransport creates a Transport where each rank listens on (and is
// dialed at) the given address.
func NewTCPTransport(addrs map[int]string) Transport {
	copied := make(map[int]string, len(addrs))
	for rank, addr := range addrs {
		copied[rank] = addr
	}
	return &tcpTransport{addrs: copied, listeners: make(map[int]net.Listener)}
}

func (tt *tcpTransport) Listen(rank int, server TaskServer) error {
	addr, ok := tt.addrs[rank]
	if !ok {
		return errors.Errorf("dualtree: no address configured for rank %d", rank)
	}
	rpcServer, err := serveTaskRPC(server)
	if err != nil {
		return err
	}
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "dualtree: listening on %s for rank %d", addr, rank)
	}
	tt.mu.Lock()
	tt.listeners[rank] = listener
	tt.mu.Unlock()
	go acceptLoop(rpcServer, listener)
	return nil
}

func (tt *tcpTransport) Stop(rank int) {
	tt.mu.Lock()
	listener, ok := tt.listeners[rank]
	delete(tt.listeners, rank)
	tt.mu.Unlock()
	if ok {
		listener.Close()
	}
}

func (tt *tcpTransport) Connect(rank int) (Client, error) {
	addr, ok := tt.addrs[rank]
	if !ok {
		return nil, errors.Errorf("dualtree: no address configured for rank %d", rank)
	}
	client, err := rpc.Dial("tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "dualtree: dialing rank %d at %s", rank, addr)
	}
	return client, nil
}
