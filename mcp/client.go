package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultRequestTimeout bounds a single request when the caller supplies no
// timeout of its own.
const DefaultRequestTimeout = 30 * time.Second

// subscriptionBuffer is the channel depth for notification subscribers.
// Deliveries beyond it are dropped rather than blocking the read loop.
const subscriptionBuffer = 16

var (
	// ErrTimeout indicates a request exceeded its deadline. The connection
	// remains usable for subsequent requests.
	ErrTimeout = errors.New("request timed out")

	// ErrConnectionClosed indicates the server process exited or its output
	// stream ended while requests were outstanding.
	ErrConnectionClosed = errors.New("connection closed")
)

// callResult carries the terminal state of one pending request.
type callResult struct {
	result json.RawMessage
	rpcErr *RPCError
	err    error
}

// frame is the inbound wire shape before classification into a response,
// notification, or server-initiated request.
type frame struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	Result  json.RawMessage `json:"result"`
	Error   *RPCError       `json:"error"`
}

// Subscription receives inbound notifications for one method. The channel is
// closed when the client shuts down.
type Subscription struct {
	// Method is the notification method this subscription matches.
	// Empty means all notifications.
	Method string

	// C delivers matching notifications. Slow consumers lose messages
	// rather than stalling the protocol loop.
	C chan Notification

	id int64

	// mu orders deliveries against shutdown: a send and the close of C
	// can never interleave.
	mu     sync.Mutex
	closed bool
}

// deliver attempts a non-blocking send. Returns false when the channel is
// full or the subscription has shut down.
func (s *Subscription) deliver(n Notification) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	select {
	case s.C <- n:
		return true
	default:
		return false
	}
}

// shutdown closes the channel exactly once, excluding in-flight deliveries.
func (s *Subscription) shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	close(s.C)
}

// Client frames requests and notifications as newline-delimited JSON over a
// byte stream and correlates responses to outstanding requests by identifier.
//
// Identifiers are allocated from a monotonically increasing counter starting
// at 1 and never repeat within the client's lifetime. Each pending request is
// resolved or rejected exactly once: by its matching response, by its own
// timeout, or by the connection closing.
type Client struct {
	writer  io.Writer
	reader  *bufio.Reader
	timeout time.Duration
	log     *slog.Logger

	writeMu sync.Mutex // serializes frame writes

	nextID atomic.Int64

	mu        sync.Mutex
	pending   map[int64]chan callResult
	subs      map[int64]*Subscription
	nextSubID int64
	closed    bool

	// done is closed once, when the client shuts down.
	done chan struct{}
}

// NewClient creates a client over the given stream pair and starts its read
// loop. timeout bounds each individual request; zero means
// DefaultRequestTimeout.
func NewClient(w io.Writer, r io.Reader, timeout time.Duration, log *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	c := &Client{
		writer:  w,
		reader:  bufio.NewReader(r),
		timeout: timeout,
		log:     log,
		pending: make(map[int64]chan callResult),
		subs:    make(map[int64]*Subscription),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c
}

// Call sends a request and blocks until the matching response arrives, the
// request times out, ctx is cancelled, or the connection closes. Responses
// are matched purely by identifier, never by arrival order.
func (c *Client) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	id := c.nextID.Add(1)
	ch := make(chan callResult, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrConnectionClosed
	}
	c.pending[id] = ch
	c.mu.Unlock()

	req := JSONRPCRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params}
	if err := c.writeFrame(req); err != nil {
		c.takePending(id)
		return nil, fmt.Errorf("write %s request: %w", method, err)
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case r := <-ch:
		return finishCall(r)
	case <-timer.C:
		if c.takePending(id) {
			return nil, fmt.Errorf("%s: %w", method, ErrTimeout)
		}
		// The response landed between the timer firing and removal —
		// the read loop already committed to the buffered send.
		return finishCall(<-ch)
	case <-ctx.Done():
		if c.takePending(id) {
			return nil, ctx.Err()
		}
		return finishCall(<-ch)
	}
}

func finishCall(r callResult) (json.RawMessage, error) {
	if r.err != nil {
		return nil, r.err
	}
	if r.rpcErr != nil {
		return nil, r.rpcErr
	}
	return r.result, nil
}

// Notify sends a fire-and-forget notification: no identifier, no pending
// entry, no response awaited.
func (c *Client) Notify(method string, params any) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrConnectionClosed
	}

	msg := JSONRPCRequest{JSONRPC: "2.0", Method: method, Params: params}
	if err := c.writeFrame(msg); err != nil {
		return fmt.Errorf("write %s notification: %w", method, err)
	}
	return nil
}

// Subscribe registers a listener for inbound notifications with the given
// method. An empty method matches every notification. The returned
// subscription's channel is closed when the client shuts down.
func (c *Client) Subscribe(method string) *Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextSubID++
	sub := &Subscription{
		Method: method,
		C:      make(chan Notification, subscriptionBuffer),
		id:     c.nextSubID,
	}
	if c.closed {
		sub.shutdown()
		return sub
	}
	c.subs[sub.id] = sub
	return sub
}

// Unsubscribe removes the listener and closes its channel.
func (c *Client) Unsubscribe(sub *Subscription) {
	c.mu.Lock()
	_, ok := c.subs[sub.id]
	if ok {
		delete(c.subs, sub.id)
	}
	c.mu.Unlock()

	if ok {
		sub.shutdown()
	}
}

// Close shuts the client down and rejects all outstanding requests with
// ErrConnectionClosed. Safe to call multiple times.
func (c *Client) Close() {
	c.closeWith(ErrConnectionClosed)
}

// Done returns a channel closed when the client has shut down.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// writeFrame serializes one message terminated by a newline.
func (c *Client) writeFrame(msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err = c.writer.Write(append(data, '\n'))
	return err
}

// takePending removes the pending entry for id, reporting whether this
// caller won the removal. Whoever takes the entry is the one that completes
// the request, which is what guarantees exactly-once resolution.
func (c *Client) takePending(id int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.pending[id]; !ok {
		return false
	}
	delete(c.pending, id)
	return true
}

// readLoop splits the inbound stream on newlines and routes each frame.
// It exits when the stream ends, rejecting everything still outstanding.
func (c *Client) readLoop() {
	defer c.closeWith(ErrConnectionClosed)

	for {
		line, err := c.reader.ReadString('\n')
		if err != nil {
			if err != io.EOF {
				c.log.Debug("read error", "error", err)
			}
			// Handle any final unterminated frame before exiting
			if strings.TrimSpace(line) != "" {
				c.handleLine(line)
			}
			return
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		c.handleLine(line)
	}
}

func (c *Client) handleLine(line string) {
	var f frame
	if err := json.Unmarshal([]byte(line), &f); err != nil {
		c.log.Warn("discarding malformed frame", "error", err)
		return
	}

	switch {
	case f.Method != "" && f.ID == nil:
		c.dispatchNotification(Notification{Method: f.Method, Params: f.Params})
	case f.ID != nil && (f.Result != nil || f.Error != nil):
		id, ok := normalizeID(f.ID)
		if !ok {
			c.log.Warn("discarding response with unusable id", "id", f.ID)
			return
		}
		c.resolve(id, callResult{result: f.Result, rpcErr: f.Error})
	case f.Method != "":
		// Server-initiated request; this host exposes no capabilities
		// the server could call back into.
		c.log.Debug("ignoring server-initiated request", "method", f.Method)
	default:
		c.log.Warn("discarding frame with no method, result, or error")
	}
}

// resolve completes the pending request with the given id, if it is still
// outstanding. Late responses after a timeout are discarded.
func (c *Client) resolve(id int64, r callResult) {
	c.mu.Lock()
	ch, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()

	if !ok {
		c.log.Debug("response with no pending request", "id", id)
		return
	}
	ch <- r
}

func (c *Client) dispatchNotification(n Notification) {
	c.mu.Lock()
	subs := make([]*Subscription, 0, len(c.subs))
	for _, sub := range c.subs {
		if sub.Method == "" || sub.Method == n.Method {
			subs = append(subs, sub)
		}
	}
	c.mu.Unlock()

	for _, sub := range subs {
		if !sub.deliver(n) {
			c.log.Warn("dropping notification for slow subscriber", "method", n.Method)
		}
	}
}

// closeWith marks the client closed and rejects every outstanding request
// with err. Only the first call has any effect.
func (c *Client) closeWith(err error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	pending := c.pending
	c.pending = make(map[int64]chan callResult)
	subs := c.subs
	c.subs = make(map[int64]*Subscription)
	c.mu.Unlock()

	for _, ch := range pending {
		ch <- callResult{err: err}
	}
	for _, sub := range subs {
		sub.shutdown()
	}
	close(c.done)

	if len(pending) > 0 {
		c.log.Debug("rejected outstanding requests on close", "count", len(pending))
	}
}

// normalizeID coerces a decoded JSON id into the int64 space this client
// allocates from. Servers echo ids back as numbers or strings.
func normalizeID(id any) (int64, bool) {
	switch v := id.(type) {
	case float64:
		return int64(v), true
	case int64:
		return v, true
	case int:
		return int64(v), true
	case json.Number:
		n, err := v.Int64()
		return n, err == nil
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}
