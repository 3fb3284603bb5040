package discovery

import (
	"context"
	"net"
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startTestDNS(t *testing.T, zone map[string][][]string) string {
	t.Helper()

	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)

	handler := dns.HandlerFunc(func(w dns.ResponseWriter, r *dns.Msg) {
		m := new(dns.Msg)
		m.SetReply(r)

		name := r.Question[0].Name
		records, ok := zone[name]
		if !ok {
			m.Rcode = dns.RcodeNameError
		}
		for _, chunks := range records {
			m.Answer = append(m.Answer, &dns.TXT{
				Hdr: dns.RR_Header{Name: name, Rrtype: dns.TypeTXT, Class: dns.ClassINET, Ttl: 60},
				Txt: chunks,
			})
		}
		_ = w.WriteMsg(m)
	})

	started := make(chan struct{})
	srv := &dns.Server{PacketConn: pc, Handler: handler, NotifyStartedFunc: func() { close(started) }}
	go func() { _ = srv.ActivateAndServe() }()
	<-started
	t.Cleanup(func() { _ = srv.Shutdown() })

	return pc.LocalAddr().String()
}

func TestDNSLookup_ReturnsChunksPerRecord(t *testing.T) {
	addr := startTestDNS(t, map[string][][]string{
		"_402.example.com.": {
			{"v=spf1 -all"},
			{"v=dns402;p=0.01;c=USDC;", "n=solana;w=W1"},
		},
	})

	lookup, err := NewDNSLookup(addr)
	require.NoError(t, err)

	records, err := lookup.LookupTXT(context.Background(), "_402.example.com")
	require.NoError(t, err)
	assert.Equal(t, [][]string{
		{"v=spf1 -all"},
		{"v=dns402;p=0.01;c=USDC;", "n=solana;w=W1"},
	}, records)

	res := NewResolver(lookup).Discover(context.Background(), "example.com")
	require.True(t, res.Ok(), res.Reason)
	assert.Equal(t, "W1", res.Terms.Wallet)
}

func TestDNSLookup_NXDomainIsEmpty(t *testing.T) {
	addr := startTestDNS(t, map[string][][]string{})

	lookup, err := NewDNSLookup(addr)
	require.NoError(t, err)

	records, err := lookup.LookupTXT(context.Background(), "_402.missing.test")
	require.NoError(t, err)
	assert.Empty(t, records)
}
