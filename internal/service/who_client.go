package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// Country is one entry of the WHO country dimension
type Country struct {
	Code  string `json:"code"`
	Title string `json:"title"`
}

// WHOClient reads the WHO Global Health Observatory OData API
type WHOClient struct {
	client *resty.Client
}

// NewWHOClient creates a client for the GHO API rooted at baseURL
func NewWHOClient(baseURL string, timeout time.Duration) *WHOClient {
	client := resty.New()
	client.SetBaseURL(baseURL)
	client.SetTimeout(timeout)
	client.SetHeader("Accept", "application/json")

	return &WHOClient{client: client}
}

type odataResponse struct {
	Value json.RawMessage `json:"value"`
}

// Countries lists the country dimension values
func (c *WHOClient) Countries(ctx context.Context) ([]Country, error) {
	body, err := c.get(ctx, "/DIMENSION/COUNTRY/DimensionValues", nil)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Value []struct {
			Code  string `json:"Code"`
			Title string `json:"Title"`
		} `json:"value"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse countries response: %w", err)
	}

	countries := make([]Country, 0, len(resp.Value))
	for _, v := range resp.Value {
		countries = append(countries, Country{Code: v.Code, Title: v.Title})
	}
	return countries, nil
}

// Indicators returns the raw indicator rows recorded for a country code
func (c *WHOClient) Indicators(ctx context.Context, countryCode string) (json.RawMessage, error) {
	body, err := c.get(ctx, "/GHO", map[string]string{
		"$filter": fmt.Sprintf("SpatialDim eq '%s'", countryCode),
	})
	if err != nil {
		return nil, err
	}

	var resp odataResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse indicators response: %w", err)
	}
	if len(resp.Value) == 0 || string(resp.Value) == "null" {
		return json.RawMessage("[]"), nil
	}
	return resp.Value, nil
}

func (c *WHOClient) get(ctx context.Context, path string, query map[string]string) ([]byte, error) {
	req := c.client.R().SetContext(ctx)
	if query != nil {
		req.SetQueryParams(query)
	}

	resp, err := req.Get(path)
	if err != nil {
		return nil, fmt.Errorf("WHO request %s failed: %w", path, err)
	}
	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("WHO API error %d: %s", resp.StatusCode(), resp.String())
	}
	return resp.Body(), nil
}
