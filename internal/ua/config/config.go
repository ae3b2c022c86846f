package config

import (
	"flag"
	"net"
	"os"
	"strconv"
)

// Config holds the softphone process configuration
type Config struct {
	SIPPort       int
	Transport     string
	BindAddr      string
	AdvertiseAddr string // Address placed in Contact headers and SDP
	RTPPortMin    int
	RTPPortMax    int
	ControlAddr   string // gRPC control listen address
	APIAddr       string // HTTP status API listen address, empty disables it
	AccountFile   string // ini file with account and media settings
	NodeID        string
	LogLevel      string
	LogFile       string // rotated log file, empty logs to stdout only
}

// Load loads configuration from command line flags and environment variables
func Load() *Config {
	return parse(flag.CommandLine, os.Args[1:], os.Getenv)
}

func parse(fs *flag.FlagSet, args []string, getenv func(string) string) *Config {
	cfg := &Config{}

	fs.IntVar(&cfg.SIPPort, "sip-port", 5060, "SIP listen port")
	fs.StringVar(&cfg.Transport, "transport", "udp", "SIP transport (udp or tcp)")
	fs.StringVar(&cfg.BindAddr, "bind", "0.0.0.0", "SIP and RTP bind address")
	fs.StringVar(&cfg.AdvertiseAddr, "advertise", "", "Address to advertise in Contact and SDP (auto-detected if not set)")
	fs.IntVar(&cfg.RTPPortMin, "rtp-port-min", 10000, "Minimum RTP port")
	fs.IntVar(&cfg.RTPPortMax, "rtp-port-max", 20000, "Maximum RTP port")
	fs.StringVar(&cfg.ControlAddr, "control-addr", ":9091", "gRPC control listen address")
	fs.StringVar(&cfg.APIAddr, "api-addr", ":8080", "HTTP status API listen address")
	fs.StringVar(&cfg.AccountFile, "account-file", "softphone.ini", "Account and media settings file")
	fs.StringVar(&cfg.NodeID, "node-id", "", "Node identifier stamped on events (hostname if not set)")
	fs.StringVar(&cfg.LogLevel, "loglevel", "info", "Log level")
	fs.StringVar(&cfg.LogFile, "logfile", "", "Log file path")

	// flag.CommandLine exits on error; test flag sets keep the defaults
	_ = fs.Parse(args)

	// Environment overrides
	if v := getenv("SIP_PORT"); v != "" {
		cfg.SIPPort, _ = strconv.Atoi(v)
	}
	if v := getenv("TRANSPORT"); v != "" {
		cfg.Transport = v
	}
	if v := getenv("BIND"); v != "" {
		cfg.BindAddr = v
	}
	if v := getenv("ADVERTISE"); v != "" {
		cfg.AdvertiseAddr = v
	} else if cfg.AdvertiseAddr == "" {
		cfg.AdvertiseAddr = getPrimaryInterfaceIP()
	}
	if v := getenv("RTP_PORT_MIN"); v != "" {
		cfg.RTPPortMin, _ = strconv.Atoi(v)
	}
	if v := getenv("RTP_PORT_MAX"); v != "" {
		cfg.RTPPortMax, _ = strconv.Atoi(v)
	}
	if v := getenv("CONTROL_ADDR"); v != "" {
		cfg.ControlAddr = v
	}
	if v := getenv("API_ADDR"); v != "" {
		cfg.APIAddr = v
	}
	if v := getenv("ACCOUNT_FILE"); v != "" {
		cfg.AccountFile = v
	}
	if v := getenv("NODE_ID"); v != "" {
		cfg.NodeID = v
	} else if cfg.NodeID == "" {
		cfg.NodeID, _ = os.Hostname()
	}
	if v := getenv("LOGLEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := getenv("LOGFILE"); v != "" {
		cfg.LogFile = v
	}

	return cfg
}

// getPrimaryInterfaceIP detects the primary network interface IP address
func getPrimaryInterfaceIP() string {
	interfaces, err := net.Interfaces()
	if err != nil {
		return "127.0.0.1"
	}

	for _, iface := range interfaces {
		if iface.Flags&net.FlagLoopback != 0 || iface.Flags&net.FlagUp == 0 {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}

		for _, addr := range addrs {
			if ipnet, ok := addr.(*net.IPNet); ok && ipnet.IP.To4() != nil {
				return ipnet.IP.String()
			}
		}
	}

	return "127.0.0.1"
}
