package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/proxy"

	"qgnotify/internal/config"
	"qgnotify/internal/domain"
)

// Proxy protocols accepted in notify.proxy_protocol.
const (
	ProxyDirect = "DIRECT"
	ProxyHTTP   = "HTTP"
	ProxySOCKS  = "SOCKS"
)

// maxErrorBodyBytes bounds the response body kept in StatusError.
const maxErrorBodyBytes = 4 << 10

// StatusError reports a non-2xx webhook response.
// Params: HTTP status code and trimmed response body.
// Returns: delivery failure distinct from transport errors.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("webhook status=%d", e.StatusCode)
	}
	return fmt.Sprintf("webhook status=%d body=%s", e.StatusCode, e.Body)
}

// ProxyConfig selects how webhook requests leave the process.
// Params: protocol (DIRECT, HTTP, SOCKS), proxy host, and port.
// Returns: comparable key for cached senders.
type ProxyConfig struct {
	Protocol string
	Host     string
	Port     int
}

// Address returns host:port of the proxy.
func (p ProxyConfig) Address() string {
	return net.JoinHostPort(p.Host, strconv.Itoa(p.Port))
}

// ProxyFromSettings reads proxy selection from the settings namespace.
// Params: settings snapshot.
// Returns: proxy config, DIRECT when unset, or SettingsError.
func ProxyFromSettings(settings config.Settings) (ProxyConfig, error) {
	protocol := strings.ToUpper(settings.String(config.KeyProxyProtocol, ProxyDirect))
	switch protocol {
	case ProxyDirect:
		return ProxyConfig{Protocol: ProxyDirect}, nil
	case ProxyHTTP, ProxySOCKS:
	default:
		return ProxyConfig{}, &config.SettingsError{
			Key:    config.KeyProxyProtocol,
			Reason: fmt.Sprintf("unsupported protocol %q", protocol),
		}
	}

	host, ok := settings.Get(config.KeyProxyIP)
	if !ok {
		return ProxyConfig{}, &config.SettingsError{Key: config.KeyProxyIP, Reason: "proxy host is required when proxy is enabled"}
	}
	port, ok, err := settings.Int(config.KeyProxyPort)
	if err != nil {
		return ProxyConfig{}, err
	}
	if !ok || port <= 0 || port > 65535 {
		return ProxyConfig{}, &config.SettingsError{Key: config.KeyProxyPort, Reason: "proxy port must be in 1..65535"}
	}
	return ProxyConfig{Protocol: protocol, Host: host, Port: port}, nil
}

// TargetURL selects the webhook URL for one rule.
// Params: resolved rule and settings snapshot.
// Returns: rule hook override, else default hook, else SettingsError.
func TargetURL(rule domain.ProjectRule, settings config.Settings) (string, error) {
	if rule.HasHookOverride() {
		return strings.TrimSpace(rule.HookURL), nil
	}
	if hook, ok := settings.Get(config.KeyDefaultHook); ok {
		return hook, nil
	}
	return "", &config.SettingsError{Key: config.KeyDefaultHook, Reason: "no webhook URL configured for rule or default"}
}

// WebhookSender posts serialized payloads to incoming-webhook endpoints.
// Params: HTTP client bound to one proxy selection.
// Returns: single-attempt sender without retry.
type WebhookSender struct {
	proxy  ProxyConfig
	client *http.Client
}

// NewWebhookSender creates a sender for one proxy selection.
// Params: webhook timeouts and proxy config.
// Returns: initialized sender or proxy setup error.
func NewWebhookSender(cfg config.WebhookConfig, proxyCfg ProxyConfig) (*WebhookSender, error) {
	transport, err := newTransport(cfg, proxyCfg)
	if err != nil {
		return nil, err
	}
	return &WebhookSender{
		proxy: proxyCfg,
		client: &http.Client{
			Transport: transport,
			Timeout:   seconds(cfg.TimeoutSec),
		},
	}, nil
}

// Send performs one POST of body to targetURL.
// Params: context, webhook URL, and JSON body.
// Returns: wrapped transport error, StatusError for non-2xx, or nil.
func (s *WebhookSender) Send(ctx context.Context, targetURL string, body []byte) error {
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, targetURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")

	response, err := s.client.Do(request)
	if err != nil {
		return fmt.Errorf("webhook send: %w", err)
	}
	defer response.Body.Close()

	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return unexpectedStatus(response)
	}
	_, _ = io.Copy(io.Discard, response.Body)
	return nil
}

// Proxy returns the proxy selection used by this sender.
func (s *WebhookSender) Proxy() ProxyConfig {
	return s.proxy
}

// unexpectedStatus converts a non-2xx response into StatusError.
// Params: HTTP response.
// Returns: StatusError with trimmed, bounded body.
func unexpectedStatus(response *http.Response) error {
	rawBody, readErr := io.ReadAll(io.LimitReader(response.Body, maxErrorBodyBytes))
	statusErr := &StatusError{
		StatusCode: response.StatusCode,
		Body:       strings.TrimSpace(string(rawBody)),
	}
	if readErr != nil {
		return fmt.Errorf("%w (read body error: %v)", statusErr, readErr)
	}
	return statusErr
}

// newTransport builds HTTP transport for one proxy selection.
// Params: timeouts and proxy config.
// Returns: transport with connect timeout applied.
func newTransport(cfg config.WebhookConfig, proxyCfg ProxyConfig) (*http.Transport, error) {
	dialer := &net.Dialer{Timeout: seconds(cfg.ConnectTimeoutSec)}
	transport := &http.Transport{
		DialContext:           dialer.DialContext,
		TLSHandshakeTimeout:   seconds(cfg.ConnectTimeoutSec),
		ResponseHeaderTimeout: seconds(cfg.TimeoutSec),
		MaxIdleConnsPerHost:   4,
		IdleConnTimeout:       90 * time.Second,
	}

	switch proxyCfg.Protocol {
	case "", ProxyDirect:
	case ProxyHTTP:
		transport.Proxy = http.ProxyURL(&url.URL{Scheme: "http", Host: proxyCfg.Address()})
	case ProxySOCKS:
		socks, err := proxy.SOCKS5("tcp", proxyCfg.Address(), nil, dialer)
		if err != nil {
			return nil, fmt.Errorf("socks proxy %s: %w", proxyCfg.Address(), err)
		}
		contextDialer, ok := socks.(proxy.ContextDialer)
		if !ok {
			return nil, errors.New("socks proxy dialer does not support context")
		}
		transport.DialContext = contextDialer.DialContext
	default:
		return nil, fmt.Errorf("unsupported proxy protocol %q", proxyCfg.Protocol)
	}
	return transport, nil
}

func seconds(value int) time.Duration {
	return time.Duration(value) * time.Second
}

// Pool caches one sender per proxy selection.
// Params: webhook timeouts shared by all senders.
// Returns: pool safe for concurrent use.
type Pool struct {
	cfg     config.WebhookConfig
	mu      sync.Mutex
	senders map[ProxyConfig]*WebhookSender
}

// NewPool creates an empty sender pool.
func NewPool(cfg config.WebhookConfig) *Pool {
	return &Pool{cfg: cfg, senders: make(map[ProxyConfig]*WebhookSender)}
}

// Sender returns the cached sender for proxyCfg, creating it on first use.
// Params: proxy selection from current settings.
// Returns: sender or proxy setup error.
func (p *Pool) Sender(proxyCfg ProxyConfig) (*WebhookSender, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if sender, ok := p.senders[proxyCfg]; ok {
		return sender, nil
	}
	sender, err := NewWebhookSender(p.cfg, proxyCfg)
	if err != nil {
		return nil, err
	}
	p.senders[proxyCfg] = sender
	return sender, nil
}
