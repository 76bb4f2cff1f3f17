package httputil

import (
	"net/http"
	"net/url"
	"time"

	"catalog_sync/config"
)

type Clients struct {
	CRM    *http.Client // JSON API calls
	Photos *http.Client // image downloads, longer timeout
}

func NewClients(cfg *config.Config) *Clients {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.Proxy.URL != "" {
		if proxyURL, err := url.Parse(cfg.Proxy.URL); err == nil {
			transport.Proxy = http.ProxyURL(proxyURL)
		}
	}

	crmTimeout := cfg.CRM.Timeout
	if crmTimeout <= 0 {
		crmTimeout = 30 * time.Second
	}
	photoTimeout := cfg.Photos.Timeout
	if photoTimeout <= 0 {
		photoTimeout = 60 * time.Second
	}

	return &Clients{
		CRM:    &http.Client{Timeout: crmTimeout, Transport: transport},
		Photos: &http.Client{Timeout: photoTimeout, Transport: transport},
	}
}
