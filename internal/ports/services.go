package ports

// ServiceName returns a short service name for a well-known port of the given
// transport ("tcp" or "udp").
//
// - well-known port => meaningful name (e.g. tcp/443 = https)
// - otherwise => "unknown"
// - port 0 (no endpoint) => "na"
func ServiceName(transport string, port uint16) string {
	if port == 0 {
		return "na"
	}

	var names map[uint16]string
	switch transport {
	case "tcp":
		names = tcpServices
	case "udp":
		names = udpServices
	default:
		return "unknown"
	}
	if name, ok := names[port]; ok {
		return name
	}
	return "unknown"
}

// Kept small on purpose: these values become metric label values.
var tcpServices = map[uint16]string{
	20:    "ftp",
	21:    "ftp",
	22:    "ssh",
	23:    "telnet",
	25:    "smtp",
	53:    "dns",
	80:    "http",
	110:   "pop3",
	143:   "imap",
	389:   "ldap",
	443:   "https",
	445:   "smb",
	465:   "smtp",
	587:   "smtp",
	631:   "ipp",
	993:   "imaps",
	995:   "pop3s",
	1433:  "mssql",
	3306:  "mysql",
	3389:  "rdp",
	5432:  "postgres",
	5672:  "amqp",
	6379:  "redis",
	8080:  "http-alt",
	9090:  "prometheus",
	9100:  "node-exporter",
	9200:  "elasticsearch",
	27017: "mongodb",
}

var udpServices = map[uint16]string{
	53:   "dns",
	67:   "dhcp",
	68:   "dhcp",
	69:   "tftp",
	123:  "ntp",
	137:  "netbios",
	138:  "netbios",
	161:  "snmp",
	443:  "quic",
	500:  "ike",
	514:  "syslog",
	1900: "ssdp",
	4500: "ike",
	5353: "mdns",
	5355: "llmnr",
}
