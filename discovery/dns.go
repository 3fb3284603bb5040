package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/miekg/dns"
)

const resolvConf = "/etc/resolv.conf"

// DNSLookup queries TXT records directly so that the character-strings of
// each record reach the caller unjoined.
type DNSLookup struct {
	servers []string
	client  *dns.Client
}

var _ TXTLookup = (*DNSLookup)(nil)

// NewDNSLookup queries the given servers ("host:port") in order. With no
// servers it uses the nameservers from /etc/resolv.conf.
func NewDNSLookup(servers ...string) (*DNSLookup, error) {
	if len(servers) == 0 {
		conf, err := dns.ClientConfigFromFile(resolvConf)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", resolvConf, err)
		}
		for _, s := range conf.Servers {
			servers = append(servers, net.JoinHostPort(s, conf.Port))
		}
	}
	if len(servers) == 0 {
		return nil, errors.New("no dns servers configured")
	}

	return &DNSLookup{
		servers: servers,
		client:  &dns.Client{Net: "udp"},
	}, nil
}

func (l *DNSLookup) LookupTXT(ctx context.Context, name string) ([][]string, error) {
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(name), dns.TypeTXT)
	msg.RecursionDesired = true

	var lastErr error
	for _, server := range l.servers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		in, err := l.exchange(ctx, msg, server)
		if err != nil {
			lastErr = err
			continue
		}

		switch in.Rcode {
		case dns.RcodeSuccess:
			return txtRecords(in), nil
		case dns.RcodeNameError:
			return nil, nil
		default:
			lastErr = fmt.Errorf("%s answered %s", server, dns.RcodeToString[in.Rcode])
		}
	}
	return nil, lastErr
}

func (l *DNSLookup) exchange(ctx context.Context, msg *dns.Msg, server string) (*dns.Msg, error) {
	in, _, err := l.client.ExchangeContext(ctx, msg, server)
	if err != nil {
		return nil, err
	}
	if in.Truncated {
		tcp := &dns.Client{Net: "tcp"}
		in, _, err = tcp.ExchangeContext(ctx, msg, server)
		if err != nil {
			return nil, err
		}
	}
	return in, nil
}

func txtRecords(in *dns.Msg) [][]string {
	var records [][]string
	for _, rr := range in.Answer {
		if txt, ok := rr.(*dns.TXT); ok {
			records = append(records, txt.Txt)
		}
	}
	return records
}
