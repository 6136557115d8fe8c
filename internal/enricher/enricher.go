package enricher

import (
	"net"
	"strings"
	"time"

	"github.com/mssola/useragent"
	"github.com/oschwald/geoip2-golang"
	"github.com/rs/zerolog/log"
)

// Event types
const (
	EventPageView   = "page_view"
	EventConversion = "conversion"
)

type Enricher struct {
	geoIP *geoip2.Reader
}

func NewEnricher(geoIPPath string) *Enricher {
	// Try to load GeoIP database
	var geoIP *geoip2.Reader
	if geoIPPath != "" {
		var err error
		geoIP, err = geoip2.Open(geoIPPath)
		if err != nil {
			log.Warn().Err(err).Str("path", geoIPPath).Msg("GeoIP database unavailable")
		}
	}

	return &Enricher{
		geoIP: geoIP,
	}
}

// Event is a visitor event as recorded by the content API.
type Event struct {
	EventID   string `json:"event_id"`
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
	VisitorID string `json:"visitor_id"`
	PageID    string `json:"page_id,omitempty"`
	TestID    string `json:"test_id,omitempty"`
	VariantID string `json:"variant_id,omitempty"`
	Referrer  string `json:"referrer,omitempty"`
}

type EnrichedEvent struct {
	Event

	// Enriched fields
	ServerTimestamp int64  `json:"server_timestamp"`
	Browser         string `json:"browser"`
	BrowserVersion  string `json:"browser_version"`
	OS              string `json:"os"`
	DeviceType      string `json:"device_type"`
	Country         string `json:"country"`
	City            string `json:"city"`
	ClientIP        string `json:"client_ip,omitempty"`
}

// Enrich adds user agent and location fields. The client IP is stored
// anonymised.
func (e *Enricher) Enrich(event Event, userAgentString, clientIP string) *EnrichedEvent {
	enriched := &EnrichedEvent{
		Event:           event,
		ServerTimestamp: time.Now().UnixMilli(),
	}
	if enriched.Timestamp == 0 {
		enriched.Timestamp = enriched.ServerTimestamp
	}

	// Parse user agent
	if userAgentString != "" {
		ua := useragent.New(userAgentString)
		enriched.Browser, enriched.BrowserVersion = ua.Browser()
		enriched.OS = ua.OS()
		enriched.DeviceType = getDeviceType(ua)
	}

	// GeoIP lookup on the full address, before anonymising
	if e.geoIP != nil && clientIP != "" {
		ip := net.ParseIP(clientIP)
		if ip != nil {
			record, err := e.geoIP.City(ip)
			if err == nil {
				enriched.Country = record.Country.IsoCode
				if name, ok := record.City.Names["en"]; ok {
					enriched.City = name
				}
			}
		}
	}

	enriched.ClientIP = AnonymizeIP(clientIP)

	return enriched
}

// AnonymizeIP zeroes the host part of an address: an IPv4 address keeps its
// first two octets, an IPv6 address its first three groups. Anything else
// yields "".
func AnonymizeIP(addr string) string {
	ip := net.ParseIP(strings.TrimSpace(addr))
	if ip == nil {
		return ""
	}
	if v4 := ip.To4(); v4 != nil {
		return net.IPv4(v4[0], v4[1], 0, 0).String()
	}
	masked := ip.Mask(net.CIDRMask(48, 128))
	return masked.String()
}

func getDeviceType(ua *useragent.UserAgent) string {
	if ua.Mobile() {
		return "mobile"
	}
	if ua.Bot() {
		return "bot"
	}
	return "desktop"
}

func (e *Enricher) Close() {
	if e.geoIP != nil {
		e.geoIP.Close()
	}
}
