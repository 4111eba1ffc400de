// ABOUTME: mDNS discovery of trackdeck catalog servers
// ABOUTME: Catalog servers advertise, players browse when no catalog is configured
package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/mdns"
	"go.uber.org/zap"
)

// ServiceType is the mDNS service advertised by catalog servers
const ServiceType = "_trackdeck-catalog._tcp"

// ErrNotFound is returned when no catalog answered before the timeout
var ErrNotFound = errors.New("no catalog server found")

// Config holds discovery configuration
type Config struct {
	ServiceName string
	Port        int

	// Text records advertised with the service
	Text []string

	// QueryTimeout bounds one browse round (default 3s)
	QueryTimeout time.Duration

	Logger *zap.Logger
}

// Manager handles mDNS operations
type Manager struct {
	config  Config
	log     *zap.Logger
	ctx     context.Context
	cancel  context.CancelFunc
	servers chan *ServerInfo
}

// ServerInfo describes a discovered catalog server
type ServerInfo struct {
	Name    string
	Host    string
	Port    int
	Path    string // listing path from the "path" text record, if any
	Version string // catalog version from the "version" text record
}

// BaseURL returns the catalog base URL of the server
func (s *ServerInfo) BaseURL() string {
	return "http://" + net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// NewManager creates a discovery manager
func NewManager(config Config) *Manager {
	if config.ServiceName == "" {
		config.ServiceName = "trackdeck"
	}
	if config.QueryTimeout <= 0 {
		config.QueryTimeout = 3 * time.Second
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &Manager{
		config:  config,
		log:     config.Logger,
		ctx:     ctx,
		cancel:  cancel,
		servers: make(chan *ServerInfo, 10),
	}
}

// Advertise announces a catalog server until Stop
func (m *Manager) Advertise() error {
	ips, err := getLocalIPs()
	if err != nil {
		return fmt.Errorf("failed to get local IPs: %w", err)
	}

	service, err := mdns.NewMDNSService(
		m.config.ServiceName,
		ServiceType,
		"",
		"",
		m.config.Port,
		ips,
		m.config.Text,
	)
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}

	server, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		return fmt.Errorf("failed to create mdns server: %w", err)
	}

	m.log.Info("advertising catalog",
		zap.String("name", m.config.ServiceName),
		zap.Int("port", m.config.Port),
		zap.String("type", ServiceType))

	go func() {
		<-m.ctx.Done()
		server.Shutdown()
	}()

	return nil
}

// Browse searches for catalog servers until Stop
func (m *Manager) Browse() {
	go m.browseLoop()
}

func (m *Manager) browseLoop() {
	for {
		select {
		case <-m.ctx.Done():
			return
		default:
		}

		entries := make(chan *mdns.ServiceEntry, 10)
		done := make(chan struct{})

		go func() {
			defer close(done)
			for entry := range entries {
				server := entryToServer(entry)
				if server == nil {
					continue
				}
				m.log.Info("discovered catalog",
					zap.String("name", server.Name),
					zap.String("url", server.BaseURL()))

				select {
				case m.servers <- server:
				case <-m.ctx.Done():
				}
			}
		}()

		params := mdns.DefaultParams(ServiceType)
		params.Entries = entries
		params.Timeout = m.config.QueryTimeout
		params.DisableIPv6 = true
		if err := mdns.Query(params); err != nil {
			m.log.Debug("mdns query failed", zap.Error(err))
		}
		close(entries)
		<-done
	}
}

// entryToServer converts an mDNS answer, skipping entries without an address
func entryToServer(entry *mdns.ServiceEntry) *ServerInfo {
	if entry == nil || entry.AddrV4 == nil || entry.Port == 0 {
		return nil
	}
	info := &ServerInfo{
		Name: strings.TrimSuffix(entry.Name, "."+ServiceType+".local."),
		Host: entry.AddrV4.String(),
		Port: entry.Port,
	}
	for _, field := range entry.InfoFields {
		key, value, _ := strings.Cut(field, "=")
		switch key {
		case "path":
			info.Path = value
		case "version":
			info.Version = value
		}
	}
	return info
}

// Servers returns the channel of discovered servers
func (m *Manager) Servers() <-chan *ServerInfo {
	return m.servers
}

// Discover browses until the first catalog answers, ctx is done or timeout
// passes
func (m *Manager) Discover(ctx context.Context, timeout time.Duration) (*ServerInfo, error) {
	m.Browse()
	defer m.Stop()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case s := <-m.servers:
		return s, nil
	case <-timer.C:
		return nil, ErrNotFound
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Stop stops the discovery manager
func (m *Manager) Stop() {
	m.cancel()
}

// getLocalIPs returns local IP addresses
func getLocalIPs() ([]net.IP, error) {
	var ips []net.IP

	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}

		for _, addr := range addrs {
			if ipnet, ok := addr.(*net.IPNet); ok && !ipnet.IP.IsLoopback() {
				if ipnet.IP.To4() != nil {
					ips = append(ips, ipnet.IP)
				}
			}
		}
	}

	return ips, nil
}
