package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	types "github.com/yungbote/biograph-backend/internal/domain"
)

var labelHTTPClient = &http.Client{Timeout: 10 * time.Second}

// HTTPLabelResolver fetches a JSON document from URLTemplate with "{id}" replaced by the
// escaped identifier. The first non-empty string among LabelFields becomes "label".
type HTTPLabelResolver struct {
	URLTemplate string
	LabelFields []string
	Client      *http.Client
}

// DefaultLabelFields covers the naming keys used by ChEMBL, Open Targets and Wikidata payloads.
var DefaultLabelFields = []string{"label", "pref_name", "approvedSymbol", "name"}

func (r HTTPLabelResolver) Resolve(ctx context.Context, externalID string) (map[string]any, error) {
	if strings.TrimSpace(r.URLTemplate) == "" {
		return nil, fmt.Errorf("label resolver: no url template")
	}
	u := strings.ReplaceAll(r.URLTemplate, "{id}", url.PathEscape(externalID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	client := r.Client
	if client == nil {
		client = labelHTTPClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("label resolver: %s returned status %d", u, resp.StatusCode)
	}

	var doc map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("label resolver: decode: %w", err)
	}
	fields := r.LabelFields
	if len(fields) == 0 {
		fields = DefaultLabelFields
	}
	out := map[string]any{"id": externalID}
	for _, f := range fields {
		if s, ok := doc[f].(string); ok && strings.TrimSpace(s) != "" {
			out["label"] = strings.TrimSpace(s)
			break
		}
	}
	for _, f := range fields {
		if v, ok := doc[f]; ok && f != "label" {
			out[f] = v
		}
	}
	return out, nil
}

// LabelResolvers maps each source to its resolver. Sources without a configured URL get none,
// which makes ResolveWithFallback return the fallback label.
type LabelResolvers map[types.CacheSource]ResolveFunc

func NewHTTPLabelResolvers(templates map[types.CacheSource]string, client *http.Client) LabelResolvers {
	out := LabelResolvers{}
	for src, tmpl := range templates {
		if strings.TrimSpace(tmpl) == "" {
			continue
		}
		out[src] = HTTPLabelResolver{URLTemplate: tmpl, Client: client}.Resolve
	}
	return out
}
