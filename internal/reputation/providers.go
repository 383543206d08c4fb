package reputation

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/hashicorp/go-retryablehttp"
)

// vtEngineCutoff is the combined malicious+suspicious engine tally above
// which a URL report counts as malicious.
const vtEngineCutoff = 2

func newHTTPClient() *retryablehttp.Client {
	client := retryablehttp.NewClient()
	client.RetryMax = 2
	client.Logger = nil
	return client
}

// SafeBrowsingProvider submits URL entries to the threat-match lookup
// API. Without a key it silently skips, contributing a clean vote.
type SafeBrowsingProvider struct {
	key      string
	endpoint string
	client   *retryablehttp.Client
}

func NewSafeBrowsingProvider(key, endpoint string) *SafeBrowsingProvider {
	return &SafeBrowsingProvider{key: key, endpoint: endpoint, client: newHTTPClient()}
}

func (p *SafeBrowsingProvider) Name() string { return "safebrowsing" }

func (p *SafeBrowsingProvider) Check(ctx context.Context, normalizedURL string) (Verdict, error) {
	if p.key == "" {
		return Verdict{}, nil
	}

	body := map[string]any{
		"client": map[string]string{"clientId": "watchtower", "clientVersion": "1.0"},
		"threatInfo": map[string]any{
			"threatTypes":      []string{"MALWARE", "SOCIAL_ENGINEERING", "UNWANTED_SOFTWARE"},
			"platformTypes":    []string{"ANY_PLATFORM"},
			"threatEntryTypes": []string{"URL"},
			"threatEntries":    []map[string]string{{"url": normalizedURL}},
		},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return Verdict{}, err
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, p.endpoint+"?key="+url.QueryEscape(p.key), bytes.NewReader(payload))
	if err != nil {
		return Verdict{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return Verdict{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Verdict{}, fmt.Errorf("threat match lookup returned %d", resp.StatusCode)
	}

	var result struct {
		Matches []struct {
			ThreatType string `json:"threatType"`
		} `json:"matches"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return Verdict{}, err
	}
	if len(result.Matches) == 0 {
		return Verdict{}, nil
	}
	return Verdict{Malicious: true, Detail: "threat match: " + result.Matches[0].ThreatType}, nil
}

// VirusTotalProvider looks a URL up by its derived identifier and counts
// the engines that called it malicious or suspicious.
type VirusTotalProvider struct {
	key      string
	endpoint string
	client   *retryablehttp.Client
}

func NewVirusTotalProvider(key, endpoint string) *VirusTotalProvider {
	return &VirusTotalProvider{key: key, endpoint: endpoint, client: newHTTPClient()}
}

func (p *VirusTotalProvider) Name() string { return "virustotal" }

func (p *VirusTotalProvider) Check(ctx context.Context, normalizedURL string) (Verdict, error) {
	if p.key == "" {
		return Verdict{}, nil
	}

	id := base64.RawURLEncoding.EncodeToString([]byte(normalizedURL))
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, p.endpoint+"/"+id, nil)
	if err != nil {
		return Verdict{}, err
	}
	req.Header.Set("x-apikey", p.key)

	resp, err := p.client.Do(req)
	if err != nil {
		return Verdict{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return Verdict{}, nil
	}
	if resp.StatusCode != http.StatusOK {
		return Verdict{}, fmt.Errorf("url report lookup returned %d", resp.StatusCode)
	}

	var result struct {
		Data struct {
			Attributes struct {
				LastAnalysisStats struct {
					Malicious  int `json:"malicious"`
					Suspicious int `json:"suspicious"`
				} `json:"last_analysis_stats"`
			} `json:"attributes"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return Verdict{}, err
	}

	tally := result.Data.Attributes.LastAnalysisStats.Malicious + result.Data.Attributes.LastAnalysisStats.Suspicious
	if tally > vtEngineCutoff {
		return Verdict{Malicious: true, Detail: fmt.Sprintf("%d engines flagged", tally)}, nil
	}
	return Verdict{}, nil
}

// PhishTankProvider submits a URL to the community phishing database.
// No credential is required.
type PhishTankProvider struct {
	endpoint string
	client   *retryablehttp.Client
}

func NewPhishTankProvider(endpoint string) *PhishTankProvider {
	return &PhishTankProvider{endpoint: endpoint, client: newHTTPClient()}
}

func (p *PhishTankProvider) Name() string { return "phishtank" }

func (p *PhishTankProvider) Check(ctx context.Context, normalizedURL string) (Verdict, error) {
	form := url.Values{}
	form.Set("url", normalizedURL)
	form.Set("format", "json")

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return Verdict{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.client.Do(req)
	if err != nil {
		return Verdict{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Verdict{}, fmt.Errorf("phishing report lookup returned %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Verdict{}, err
	}
	var result struct {
		Results struct {
			InDatabase bool `json:"in_database"`
			Valid      bool `json:"valid"`
		} `json:"results"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return Verdict{}, err
	}
	if result.Results.InDatabase && result.Results.Valid {
		return Verdict{Malicious: true, Detail: "reported phish"}, nil
	}
	return Verdict{}, nil
}
