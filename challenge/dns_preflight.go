package challenge

import (
	"fmt"
	"strings"

	"github.com/miekg/dns"
)

// publicFallbackResolver is the only resolver used when the system
// resolvers (as read from /etc/resolv.conf by the dns library's own
// client config helper) can't be determined, and is otherwise tried
// after all of them — a diagnostic last resort only; it never
// substitutes for the CA's own authoritative validation.
const publicFallbackResolver = "8.8.8.8:53"

// lookupTXT performs a single TXT query against the system resolver,
// falling back to a well-known public resolver: build a dns.Msg, set
// the question, exchange with a chosen server, walk the answer
// section for TXT records.
func lookupTXT(hostname string) ([]string, error) {
	servers := systemResolvers()

	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(hostname), dns.TypeTXT)

	client := new(dns.Client)
	var lastErr error
	for _, server := range servers {
		r, _, err := client.Exchange(m, server)
		if err != nil {
			lastErr = err
			continue
		}
		if r.Rcode != dns.RcodeSuccess {
			lastErr = fmt.Errorf("DNS failure: %d-%s for TXT query", r.Rcode, dns.RcodeToString[r.Rcode])
			continue
		}
		var txt []string
		for _, answer := range r.Answer {
			if rec, ok := answer.(*dns.TXT); ok {
				txt = append(txt, strings.Join(rec.Txt, ""))
			}
		}
		return txt, nil
	}
	return nil, lastErr
}

func systemResolvers() []string {
	conf, err := dns.ClientConfigFromFile("/etc/resolv.conf")
	if err != nil || len(conf.Servers) == 0 {
		return []string{publicFallbackResolver}
	}
	servers := make([]string, 0, len(conf.Servers))
	for _, s := range conf.Servers {
		servers = append(servers, s+":"+conf.Port)
	}
	return append(servers, publicFallbackResolver)
}
