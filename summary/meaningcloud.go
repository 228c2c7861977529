package summary

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Sentences is how many sentences a MeaningCloud summary keeps.
const Sentences = 5

// MeaningCloud condenses a web page with the MeaningCloud summarization API.
type MeaningCloud struct {
	endpoint string
	key      string
	client   *http.Client
}

func NewMeaningCloud(endpoint, key string, client *http.Client) *MeaningCloud {
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	return &MeaningCloud{endpoint: endpoint, key: key, client: client}
}

type meaningCloudResponse struct {
	Summary string `json:"summary"`
	Status  struct {
		Code string `json:"code"`
		Msg  string `json:"msg"`
	} `json:"status"`
}

// Summarize returns a summary of the page at pageURL with the "[...]" elision
// markers removed.
func (m *MeaningCloud) Summarize(ctx context.Context, pageURL string) (string, error) {
	form := url.Values{
		"key":       {m.key},
		"url":       {pageURL},
		"sentences": {strconv.Itoa(Sentences)},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", userAgent)

	resp, err := m.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("summary: meaningcloud: %s", resp.Status)
	}

	var out meaningCloudResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBody)).Decode(&out); err != nil {
		return "", fmt.Errorf("summary: meaningcloud: %w", err)
	}
	if out.Status.Code != "" && out.Status.Code != "0" {
		return "", fmt.Errorf("summary: meaningcloud status %s: %s", out.Status.Code, out.Status.Msg)
	}
	return strings.TrimSpace(strings.ReplaceAll(out.Summary, "[...]", "")), nil
}
