package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
)

const ownerHeader = "X-Owner-ID"

func doJSON(method, rawURL, ownerID string, payload interface{}, out io.Writer) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, rawURL, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if ownerID != "" {
		req.Header.Set(ownerHeader, ownerID)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("http %d: %s", resp.StatusCode, string(data))
	}
	_, err = io.Copy(out, resp.Body)
	fmt.Fprintln(out)
	return err
}

func runCreateOwner(apiURL, ownerID, tz, provider, mdl string, dim int, out io.Writer) error {
	payload := map[string]interface{}{
		"ownerId":  ownerID,
		"timeZone": tz,
	}
	if provider != "" {
		payload["embedProvider"] = provider
		payload["embedModel"] = mdl
		payload["embedDimension"] = dim
	}
	return doJSON(http.MethodPost, apiURL+"/v0/owners", "", payload, out)
}

func runAppend(apiURL, ownerID, streamID, role, text string, out io.Writer) error {
	if text == "" {
		return fmt.Errorf("text cannot be empty")
	}
	payload := map[string]interface{}{
		"role":    role,
		"content": text,
	}
	return doJSON(http.MethodPost, apiURL+"/v0/streams/"+url.PathEscape(streamID)+"/messages", ownerID, payload, out)
}

func runSearch(apiURL, ownerID, streamID, query string, limit int, cursor string, out io.Writer) error {
	payload := map[string]interface{}{
		"query": query,
		"limit": limit,
	}
	if streamID != "" {
		payload["streamId"] = streamID
	}
	if cursor != "" {
		payload["cursor"] = cursor
	}
	return doJSON(http.MethodPost, apiURL+"/v0/search", ownerID, payload, out)
}

func runContext(apiURL, ownerID, streamID string, out io.Writer) error {
	return doJSON(http.MethodGet, apiURL+"/v0/streams/"+url.PathEscape(streamID)+"/context", ownerID, nil, out)
}

func runWindow(apiURL, ownerID, kind, targetID string, before, after, limit int, out io.Writer) error {
	q := url.Values{}
	if before > 0 {
		q.Set("before", strconv.Itoa(before))
	}
	if after > 0 {
		q.Set("after", strconv.Itoa(after))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	u := apiURL + "/v0/window/" + url.PathEscape(kind) + "/" + url.PathEscape(targetID)
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	return doJSON(http.MethodGet, u, ownerID, nil, out)
}

func runRebuild(apiURL, ownerID, provider, mdl string, dim int, out io.Writer) error {
	payload := map[string]interface{}{
		"provider":  provider,
		"model":     mdl,
		"dimension": dim,
	}
	return doJSON(http.MethodPost, apiURL+"/v0/embeddings/rebuild", ownerID, payload, out)
}
