// Copyright 2025 Apify Technologies s.r.o.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package apify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/apify/actors-mcp-server-go/pkg/errors"
)

// GetDatasetItems reads one page of items from a dataset. Paging metadata
// comes back in X-Apify-Pagination-* headers.
func (c *Client) GetDatasetItems(ctx context.Context, datasetID string, opts GetDatasetItemsOptions) (*DatasetItemsPage, error) {
	query := url.Values{}
	query.Set("format", "json")
	if opts.Offset > 0 {
		query.Set("offset", strconv.FormatInt(opts.Offset, 10))
	}
	if opts.Limit > 0 {
		query.Set("limit", strconv.FormatInt(opts.Limit, 10))
	}
	if opts.Clean {
		query.Set("clean", "true")
	}
	if len(opts.Fields) > 0 {
		query.Set("fields", strings.Join(opts.Fields, ","))
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	reqURL := c.baseURL + "/v2/datasets/" + url.PathEscape(datasetID) + "/items?" + query.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, errors.Wrap(err, "creating request")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, &errors.APIError{
			Message: fmt.Sprintf("fetching items of dataset %s failed: %v", datasetID, err),
			Cause:   err,
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		io.Copy(io.Discard, resp.Body)
		return nil, &errors.NotFoundError{Resource: "dataset", ID: datasetID}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, c.decodeError(resp)
	}

	var items []map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&items); err != nil {
		return nil, errors.Wrapf(err, "decoding items of dataset %s", datasetID)
	}

	page := &DatasetItemsPage{
		Items:  items,
		Count:  int64(len(items)),
		Offset: headerInt64(resp, "X-Apify-Pagination-Offset"),
		Total:  headerInt64(resp, "X-Apify-Pagination-Total"),
	}

	return page, nil
}

// GetKeyValueRecord reads a single record from a key-value store. The raw
// bytes and content type are returned so callers can render non-JSON
// records (HTML, images) sensibly.
func (c *Client) GetKeyValueRecord(ctx context.Context, storeID, key string) (*KeyValueRecord, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	reqURL := c.baseURL + "/v2/key-value-stores/" + url.PathEscape(storeID) + "/records/" + url.PathEscape(key)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, errors.Wrap(err, "creating request")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, &errors.APIError{
			Message: fmt.Sprintf("fetching record %s failed: %v", key, err),
			Cause:   err,
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		io.Copy(io.Discard, resp.Body)
		return nil, &errors.NotFoundError{Resource: "key-value record", ID: key}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, c.decodeError(resp)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrapf(err, "reading record %s", key)
	}

	return &KeyValueRecord{
		Key:         key,
		ContentType: resp.Header.Get("Content-Type"),
		Data:        data,
	}, nil
}

// headerInt64 parses an integer response header, returning 0 when absent
// or malformed.
func headerInt64(resp *http.Response, name string) int64 {
	v := resp.Header.Get(name)
	if v == "" {
		return 0
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
