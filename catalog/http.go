package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Config configures the HTTP repository client.
type Config struct {
	BaseURL     string        `json:"base_url" yaml:"base_url"`
	Repository  string        `json:"repository" yaml:"repository"`
	MetadataSet string        `json:"metadata_set" yaml:"metadata_set"`
	Timeout     time.Duration `json:"timeout" yaml:"timeout"`
}

// DefaultConfig points at the public WirLernenOnline repository.
func DefaultConfig() Config {
	return Config{
		BaseURL:     "https://redaktion.openeduhub.net/edu-sharing",
		Repository:  "-home-",
		MetadataSet: "mds_oeh",
		Timeout:     30 * time.Second,
	}
}

// HTTP searches an edu-sharing style repository through its ngsearch
// query endpoint.
type HTTP struct {
	cfg    Config
	client *http.Client
}

// NewHTTP creates an HTTP repository. Empty fields take DefaultConfig values.
func NewHTTP(cfg Config) *HTTP {
	def := DefaultConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.Repository == "" {
		cfg.Repository = def.Repository
	}
	if cfg.MetadataSet == "" {
		cfg.MetadataSet = def.MetadataSet
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	return &HTTP{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}}
}

type searchCriterion struct {
	Property string   `json:"property"`
	Values   []string `json:"values"`
}

type searchBody struct {
	Criteria []searchCriterion `json:"criteria"`
}

type searchResult struct {
	Nodes []struct {
		Ref struct {
			ID string `json:"id"`
		} `json:"ref"`
		Name       string              `json:"name"`
		Title      string              `json:"title"`
		Properties map[string][]string `json:"properties"`
		Preview    struct {
			URL string `json:"url"`
		} `json:"preview"`
		Content struct {
			URL string `json:"url"`
		} `json:"content"`
	} `json:"nodes"`
}

// Search runs q against the repository. Criteria sharing a property are
// sent as one criterion with several values.
func (h *HTTP) Search(ctx context.Context, q Query) ([]Node, error) {
	var body searchBody
	index := map[string]int{}
	for _, c := range q.Criteria {
		if c.Value == "" {
			continue
		}
		if i, ok := index[c.Property]; ok {
			body.Criteria[i].Values = append(body.Criteria[i].Values, c.Value)
			continue
		}
		index[c.Property] = len(body.Criteria)
		body.Criteria = append(body.Criteria, searchCriterion{Property: c.Property, Values: []string{c.Value}})
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("contentType", "FILES")
	params.Set("skipCount", "0")
	params.Set("propertyFilter", "-all-")
	if q.MaxResults > 0 {
		params.Set("maxItems", strconv.Itoa(q.MaxResults))
	}
	if q.Combine != "" {
		params.Set("combineMode", string(q.Combine))
	}
	endpoint := fmt.Sprintf("%s/rest/search/v1/queries/%s/%s/ngsearch?%s",
		h.cfg.BaseURL, url.PathEscape(h.cfg.Repository), url.PathEscape(h.cfg.MetadataSet), params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSearch, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading body: %w", ErrSearch, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d: %s", ErrSearch, resp.StatusCode, truncate(string(raw), 200))
	}

	var res searchResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("%w: decoding: %w", ErrSearch, err)
	}
	nodes := make([]Node, 0, len(res.Nodes))
	for _, n := range res.Nodes {
		title := n.Title
		if title == "" {
			title = n.Name
		}
		u := firstOf(n.Properties["ccm:wwwurl"])
		if u == "" {
			u = n.Content.URL
		}
		nodes = append(nodes, Node{
			ID:          n.Ref.ID,
			Title:       title,
			Description: firstOf(n.Properties["cclom:general_description"]),
			Subjects:    n.Properties["ccm:taxonid_DISPLAYNAME"],
			Levels:      n.Properties["ccm:educationalcontext_DISPLAYNAME"],
			URL:         u,
			PreviewURL:  n.Preview.URL,
		})
	}
	slog.Debug("catalog: search", "criteria", len(body.Criteria), "results", len(nodes), "elapsed", time.Since(start))
	return nodes, nil
}

func firstOf(vs []string) string {
	if len(vs) == 0 {
		return ""
	}
	return vs[0]
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
