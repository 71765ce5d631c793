package spider

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"os"
	"os/exec"
	"strings"

	gopsnet "github.com/shirou/gopsutil/v4/net"

	"github.com/datamastor/datamastor/internal/logger"
)

// Environment variables controlling the privacy checks.
const (
	EnvProxyIP          = "PROXY_IP"
	EnvNoLeakTest       = "NO_LEAK_TEST"
	EnvNoUACheck        = "NO_UA_CHECK"
	EnvAllowedInterface = "ALLOWED_INTERFACE"
	EnvLeakTestScript   = "PROXY_LEAKTEST_SCRIPT"
)

// defaultLeakTestScript is run before crawling through a proxy.
const defaultLeakTestScript = "leaktest.sh"

// leakTestPassOutput must appear in the script's output for the test to
// pass.
const leakTestPassOutput = "DNS is not leaking."

// leakTestAttempts is how often the leak test is retried.
const leakTestAttempts = 3

// badUAWords disqualify a User-Agent as bot-like.
var badUAWords = []string{"scrap", "crawl", "spider", "bot"}

// Privacy gates a crawl run behind identity checks: the outgoing
// User-Agent must not give the crawler away, and traffic either goes
// through a verified proxy or out a named network interface. Local-mode
// runs skip everything except the file-only request check.
type Privacy struct {
	local  bool
	logger logger.Interface

	// Proxy is the proxy URL requests route through, when PROXY_IP is set
	// and the leak test passed.
	Proxy string
	// BindIP is the local IPv4 requests bind to, when ALLOWED_INTERFACE
	// names a usable interface.
	BindIP string
}

// NewPrivacy creates the privacy gate for one run.
func NewPrivacy(local bool, log logger.Interface) *Privacy {
	if log == nil {
		log = logger.NewNoOp()
	}
	return &Privacy{local: local, logger: log}
}

// CheckUserAgent rejects an empty or bot-like User-Agent. NO_UA_CHECK
// skips the check.
func (p *Privacy) CheckUserAgent(ua string) error {
	if p.local {
		return nil
	}
	if os.Getenv(EnvNoUACheck) != "" {
		p.logger.Warn("User-Agent check disabled")
		return nil
	}
	if strings.TrimSpace(ua) == "" {
		return fmt.Errorf("%w: empty", ErrBotUserAgent)
	}
	lower := strings.ToLower(ua)
	for _, word := range badUAWords {
		if strings.Contains(lower, word) {
			return fmt.Errorf("%w: contains %q", ErrBotUserAgent, word)
		}
	}
	return nil
}

// Prepare resolves how traffic leaves the host. With PROXY_IP set the DNS
// leak test must pass first; otherwise ALLOWED_INTERFACE, when set, must
// name an interface that is up with an IPv4 address.
func (p *Privacy) Prepare(ctx context.Context) error {
	if p.local {
		return nil
	}

	if proxyIP := os.Getenv(EnvProxyIP); proxyIP != "" {
		if os.Getenv(EnvNoLeakTest) != "" {
			p.logger.Warn("DNS leak test disabled")
		} else if err := p.leakTest(ctx); err != nil {
			return err
		}
		if !strings.Contains(proxyIP, "://") {
			proxyIP = "http://" + proxyIP
		}
		p.Proxy = proxyIP
		p.logger.Info("Routing through proxy", "proxy", p.Proxy)
		return nil
	}

	if iface := os.Getenv(EnvAllowedInterface); iface != "" {
		ip, err := interfaceIPv4(iface)
		if err != nil {
			return err
		}
		p.BindIP = ip
		p.logger.Info("Binding to interface", "interface", iface, "ip", ip)
	}
	return nil
}

// leakTest runs the external leak-test script, retrying up to
// leakTestAttempts times.
func (p *Privacy) leakTest(ctx context.Context) error {
	script := os.Getenv(EnvLeakTestScript)
	if script == "" {
		script = defaultLeakTestScript
	}

	var lastErr error
	for attempt := 1; attempt <= leakTestAttempts; attempt++ {
		output, err := exec.CommandContext(ctx, script).CombinedOutput()
		if err == nil && strings.Contains(string(output), leakTestPassOutput) {
			p.logger.Info("DNS leak test passed", "attempt", attempt)
			return nil
		}
		if err != nil {
			lastErr = err
		}
		p.logger.Warn("DNS leak test attempt failed", "attempt", attempt, "error", err)
	}
	if lastErr != nil {
		return fmt.Errorf("%w: %v", ErrLeakTestFailed, lastErr)
	}
	return ErrLeakTestFailed
}

// interfaceIPv4 returns the first IPv4 address of the named interface,
// which must exist and be up.
func interfaceIPv4(name string) (string, error) {
	interfaces, err := gopsnet.Interfaces()
	if err != nil {
		return "", fmt.Errorf("failed to list interfaces: %w", err)
	}
	for _, iface := range interfaces {
		if iface.Name != name {
			continue
		}
		up := false
		for _, flag := range iface.Flags {
			if flag == "up" {
				up = true
				break
			}
		}
		if !up {
			return "", fmt.Errorf("%w: %q is down", ErrInterfaceUnusable, name)
		}
		for _, addr := range iface.Addrs {
			ip, _, parseErr := net.ParseCIDR(addr.Addr)
			if parseErr != nil {
				ip = net.ParseIP(addr.Addr)
			}
			if ip != nil && ip.To4() != nil {
				return ip.String(), nil
			}
		}
		return "", fmt.Errorf("%w: %q has no IPv4 address", ErrInterfaceUnusable, name)
	}
	return "", fmt.Errorf("%w: %q not found", ErrInterfaceUnusable, name)
}

// CheckRequest vets one outgoing request URL. In local mode only file URLs
// may be fetched.
func (p *Privacy) CheckRequest(u *url.URL) error {
	if p.local && u.Scheme != "file" {
		return fmt.Errorf("%w: %s", ErrNonLocalRequest, u)
	}
	return nil
}
