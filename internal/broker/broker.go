// Package broker defines the contract the Session consumes from the
// publish/subscribe message broker — connect/subscribe/publish/TLS only, per
// the wire contract's framing of the broker as an external collaborator —
// plus a TCP+JSON-RPC reference implementation adapted from cellorg's
// internal/client.BrokerClient, retargeted to carry raw envelope frames
// instead of GOX's typed envelope/message structures.
package broker

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"os"
	"sync"
	"time"

	"github.com/Ratio1/ratio1-sdk/internal/errs"
)

// Client is the contract the Session depends on. Frames are opaque byte
// slices — decoding is the envelope package's job, not the broker's.
type Client interface {
	Connect() error
	Disconnect() error
	Connected() bool
	Publish(topic string, frame []byte) error
	Subscribe(topic string) (<-chan []byte, error)
}

// Config carries the connection parameters the Session's config.Options
// resolves.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Secured  bool
	CertPath string
	ClientID string
	Debug    bool
}

// rpcRequest/rpcResponse/rpcError mirror the teacher's JSON-RPC framing
// verbatim; only the payload types carried over the wire changed.
type rpcRequest struct {
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

type rpcResponse struct {
	ID     string          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type frameMessage struct {
	Topic string          `json:"topic"`
	Frame json.RawMessage `json:"frame"`
}

// TCPClient is the reference Client implementation: a TCP connection
// carrying JSON-RPC requests/responses, with topic subscriptions delivered
// as raw frame bytes over per-topic channels.
type TCPClient struct {
	cfg Config

	mu      sync.Mutex
	conn    net.Conn
	encoder *json.Encoder
	decoder *json.Decoder
	writeMu sync.Mutex

	reqID int64

	listenersMu sync.RWMutex
	listeners   map[string]chan []byte

	responsesMu sync.RWMutex
	responses   map[string]chan *rpcResponse

	logger *log.Logger
}

// NewTCPClient builds an unconnected TCPClient.
func NewTCPClient(cfg Config, logger *log.Logger) *TCPClient {
	if logger == nil {
		logger = log.Default()
	}
	return &TCPClient{
		cfg:       cfg,
		listeners: make(map[string]chan []byte),
		responses: make(map[string]chan *rpcResponse),
		logger:    logger,
	}
}

// Connect dials the broker, optionally over TLS, and starts the background
// frame listener. Idempotent: calling Connect on an already-connected client
// returns immediately.
func (c *TCPClient) Connect() error {
	c.mu.Lock()
	if c.conn != nil {
		c.mu.Unlock()
		return nil
	}

	addr := fmt.Sprintf("%s:%d", c.cfg.Host, c.cfg.Port)
	conn, err := c.dial(addr)
	if err != nil {
		c.mu.Unlock()
		return fmt.Errorf("%w: dial %s: %v", errs.ErrBrokerDisconnected, addr, err)
	}

	c.conn = conn
	c.encoder = json.NewEncoder(conn)
	c.decoder = json.NewDecoder(conn)
	go c.listen()
	c.mu.Unlock()

	params := map[string]any{"client_id": c.cfg.ClientID, "user": c.cfg.User}
	if _, err := c.call("connect", params); err != nil {
		c.mu.Lock()
		conn.Close()
		c.conn, c.encoder, c.decoder = nil, nil, nil
		c.mu.Unlock()
		return fmt.Errorf("%w: handshake: %v", errs.ErrBrokerDisconnected, err)
	}

	if c.cfg.Debug {
		c.logger.Printf("ratio1-sdk[broker]: connected to %s", addr)
	}
	return nil
}

func (c *TCPClient) dial(addr string) (net.Conn, error) {
	if !c.cfg.Secured {
		return net.Dial("tcp", addr)
	}
	tlsConfig := &tls.Config{ServerName: c.cfg.Host}
	if c.cfg.CertPath != "" {
		pool := x509.NewCertPool()
		pem, err := os.ReadFile(c.cfg.CertPath)
		if err != nil {
			return nil, fmt.Errorf("read cert_path: %w", err)
		}
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("cert_path %s contains no usable certificates", c.cfg.CertPath)
		}
		tlsConfig.RootCAs = pool
	}
	return tls.Dial("tcp", addr, tlsConfig)
}

// Disconnect closes the connection. Idempotent.
func (c *TCPClient) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn, c.encoder, c.decoder = nil, nil, nil
	return err
}

// Connected reports whether the TCP connection is currently established.
func (c *TCPClient) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

func (c *TCPClient) call(method string, params any) (json.RawMessage, error) {
	c.mu.Lock()
	conn := c.conn
	encoder := c.encoder
	c.mu.Unlock()
	if conn == nil {
		return nil, fmt.Errorf("%w: not connected", errs.ErrBrokerDisconnected)
	}

	c.mu.Lock()
	c.reqID++
	reqID := fmt.Sprintf("req_%d", c.reqID)
	c.mu.Unlock()

	var paramsBytes json.RawMessage
	if params != nil {
		b, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("marshal params: %w", err)
		}
		paramsBytes = b
	}

	respChan := make(chan *rpcResponse, 1)
	c.responsesMu.Lock()
	c.responses[reqID] = respChan
	c.responsesMu.Unlock()

	c.writeMu.Lock()
	err := encoder.Encode(rpcRequest{ID: reqID, Method: method, Params: paramsBytes})
	c.writeMu.Unlock()
	if err != nil {
		c.responsesMu.Lock()
		delete(c.responses, reqID)
		c.responsesMu.Unlock()
		return nil, fmt.Errorf("%w: send %s: %v", errs.ErrBrokerDisconnected, method, err)
	}

	select {
	case resp := <-respChan:
		c.responsesMu.Lock()
		delete(c.responses, reqID)
		c.responsesMu.Unlock()
		if resp == nil {
			return nil, fmt.Errorf("%w: response channel closed", errs.ErrBrokerDisconnected)
		}
		if resp.Error != nil {
			return nil, fmt.Errorf("broker error: %s (code %d)", resp.Error.Message, resp.Error.Code)
		}
		return resp.Result, nil
	case <-time.After(30 * time.Second):
		c.responsesMu.Lock()
		delete(c.responses, reqID)
		c.responsesMu.Unlock()
		return nil, fmt.Errorf("%w: %s timed out", errs.ErrBrokerDisconnected, method)
	}
}

func (c *TCPClient) listen() {
	defer func() {
		if r := recover(); r != nil && c.cfg.Debug {
			c.logger.Printf("ratio1-sdk[broker]: listener panic: %v", r)
		}
	}()

	for {
		c.mu.Lock()
		decoder := c.decoder
		c.mu.Unlock()
		if decoder == nil {
			return
		}

		var raw json.RawMessage
		if err := decoder.Decode(&raw); err != nil {
			if c.cfg.Debug {
				c.logger.Printf("ratio1-sdk[broker]: decode error: %v", err)
			}
			c.mu.Lock()
			if c.decoder == decoder {
				c.conn.Close()
				c.conn, c.encoder, c.decoder = nil, nil, nil
			}
			c.mu.Unlock()
			return
		}

		var resp rpcResponse
		if err := json.Unmarshal(raw, &resp); err == nil && resp.ID != "" && (resp.Result != nil || resp.Error != nil) {
			c.responsesMu.RLock()
			if ch, ok := c.responses[resp.ID]; ok {
				select {
				case ch <- &resp:
				default:
				}
			}
			c.responsesMu.RUnlock()
			continue
		}

		var fm frameMessage
		if err := json.Unmarshal(raw, &fm); err != nil || fm.Topic == "" {
			continue
		}
		c.listenersMu.RLock()
		if ch, ok := c.listeners[fm.Topic]; ok {
			select {
			case ch <- []byte(fm.Frame):
			default:
				if c.cfg.Debug {
					c.logger.Printf("ratio1-sdk[broker]: listener channel full for topic %s", fm.Topic)
				}
			}
		}
		c.listenersMu.RUnlock()
	}
}

// Publish sends a raw frame on topic.
func (c *TCPClient) Publish(topic string, frame []byte) error {
	_, err := c.call("publish", map[string]any{"topic": topic, "frame": json.RawMessage(frame)})
	return err
}

// Subscribe registers for frame delivery on topic.
func (c *TCPClient) Subscribe(topic string) (<-chan []byte, error) {
	if _, err := c.call("subscribe", map[string]any{"topic": topic}); err != nil {
		return nil, err
	}
	ch := make(chan []byte, 256)
	c.listenersMu.Lock()
	c.listeners[topic] = ch
	c.listenersMu.Unlock()
	return ch, nil
}
